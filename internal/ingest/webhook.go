package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"proptrader/internal/executor"
	"proptrader/internal/ledger"
	"proptrader/internal/metrics"
	"proptrader/pkg/types"
)

// webhookPayload is the JSON body of a TradingView alert.
// Quantity and price arrive as strings (TradingView template output).
type webhookPayload struct {
	Ticker    string `json:"ticker"`
	Action    string `json:"action"`
	Quantity  string `json:"quantity"`
	Price     string `json:"price"`
	Strategy  string `json:"strategy"`
	Timestamp string `json:"timestamp"`
}

type webhookResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

// handleWebhook receives a TradingView alert, validates it, logs it to
// the audit trail, and dispatches it through the execution pipeline.
//
// POST /api/v1/webhooks/tradingview/
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed,
			webhookResponse{Status: "error", Message: "Method not allowed"})
		return
	}

	clientIP := extractClientIP(r)

	// Throttle before touching the database — a misbehaving source
	// must not flood the audit log.
	if !s.throttle.Allow(clientIP) {
		metrics.WebhookRequests.WithLabelValues("throttled").Inc()
		writeJSON(w, http.StatusTooManyRequests,
			webhookResponse{Status: "error", Message: "Rate limit exceeded"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		metrics.WebhookRequests.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusBadRequest,
			webhookResponse{Status: "error", Message: "Unreadable body"})
		return
	}

	// Every request that reaches this point is recorded, valid or not.
	// Throttled, non-POST and unreadable requests have already returned
	// and leave no event.
	event := &ledger.WebhookEvent{
		Payload:   string(body),
		IPAddress: clientIP,
	}
	if err := s.ledger.InsertWebhookEvent(event); err != nil {
		s.logger.Error("webhook audit insert failed", "error", err)
	}

	// Token auth.
	if r.Header.Get("X-API-Token") != s.cfg.AuthToken {
		s.logger.Warn("webhook auth failed", "ip", clientIP)
		s.finishEvent(event, "rejected", "unauthorized")
		metrics.WebhookRequests.WithLabelValues("unauthorized").Inc()
		writeJSON(w, http.StatusUnauthorized,
			webhookResponse{Status: "error", Message: "Unauthorized"})
		return
	}

	// Validate the payload.
	signal, payload, err := parseWebhookPayload(body)
	if err != nil {
		s.logger.Info("webhook rejected", "error", err)
		s.finishEvent(event, "rejected", err.Error())
		metrics.WebhookRequests.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusBadRequest,
			webhookResponse{Status: "error", Data: err.Error(), Message: "Invalid payload"})
		return
	}

	event.Status = "validated"
	event.Ticker = payload.Ticker
	event.Action = payload.Action
	event.Quantity = payload.Quantity
	event.Strategy = payload.Strategy
	if err := s.ledger.UpdateWebhookEvent(event); err != nil {
		s.logger.Error("webhook audit update failed", "error", err)
	}

	// Dispatch to the execution engine.
	signal.WebhookID = event.WebhookID
	metrics.SignalsReceived.WithLabelValues("webhook").Inc()

	trades, err := s.executor.ExecuteSignal(r.Context(), signal)
	if err != nil && !errors.Is(err, executor.ErrBlockAborted) {
		s.finishEvent(event, "error", err.Error())
		metrics.WebhookRequests.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusInternalServerError,
			webhookResponse{Status: "error", Message: "Execution failed: " + err.Error()})
		return
	}

	s.finishEvent(event, "dispatched", "")
	metrics.WebhookRequests.WithLabelValues("dispatched").Inc()

	tradeIDs := make([]string, 0, len(trades))
	for _, t := range trades {
		tradeIDs = append(tradeIDs, t.TradeID)
	}
	s.logger.Info("webhook dispatched",
		"webhook_id", event.WebhookID,
		"trades", len(trades),
		"action", payload.Action,
		"ticker", payload.Ticker,
	)

	writeJSON(w, http.StatusOK, webhookResponse{
		Status: "success",
		Data: map[string]any{
			"webhook_id": event.WebhookID,
			"trade_ids":  tradeIDs,
			"symbol":     payload.Ticker,
			"side":       payload.Action,
			"quantity":   payload.Quantity,
		},
		Message: fmt.Sprintf("Signal received and %d trades executed", len(trades)),
	})
}

// parseWebhookPayload validates the alert body and builds the typed
// signal the rest of the pipeline operates on.
func parseWebhookPayload(body []byte) (types.Signal, *webhookPayload, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return types.Signal{}, nil, fmt.Errorf("malformed JSON: %v", err)
	}

	if p.Ticker == "" {
		return types.Signal{}, nil, errors.New("ticker is required")
	}
	if p.Action != "buy" && p.Action != "sell" {
		return types.Signal{}, nil, fmt.Errorf("action must be buy or sell, got %q", p.Action)
	}
	if p.Strategy == "" {
		return types.Signal{}, nil, errors.New("strategy is required")
	}

	qty, err := decimal.NewFromString(p.Quantity)
	if err != nil {
		return types.Signal{}, nil, errors.New("quantity must be a valid number")
	}
	if !qty.IsPositive() {
		return types.Signal{}, nil, errors.New("quantity must be positive")
	}

	price := decimal.Decimal{}
	if p.Price != "" {
		if price, err = decimal.NewFromString(p.Price); err != nil {
			return types.Signal{}, nil, errors.New("price must be a valid number")
		}
	}

	return types.Signal{
		Action:       types.Action(p.Action),
		Ticker:       p.Ticker,
		Price:        price,
		Quantity:     qty,
		Reason:       "TradingView webhook",
		StrategyName: p.Strategy,
	}, &p, nil
}

func (s *Server) finishEvent(event *ledger.WebhookEvent, status, errMsg string) {
	event.Status = status
	event.ErrorMessage = errMsg
	if err := s.ledger.UpdateWebhookEvent(event); err != nil {
		s.logger.Error("webhook audit update failed", "error", err)
	}
}

func extractClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
