package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"proptrader/internal/config"
	"proptrader/pkg/types"
)

// RESTClient talks to the broker's HTTP API (Alpaca-compatible v2
// surface). Every call carries the key/secret headers and a bounded
// timeout; reads are retried on 5xx, order submissions are not.
type RESTClient struct {
	http   *resty.Client
	dryRun bool // when true, mutating methods return fake success without HTTP calls
	logger *slog.Logger
}

// NewRESTClient creates a broker REST client from configuration.
func NewRESTClient(cfg config.BrokerConfig, dryRun bool, logger *slog.Logger) *RESTClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Never retry order submissions — a timed-out POST may
			// still have been accepted upstream.
			if r != nil && r.Request != nil && r.Request.Method == http.MethodPost {
				return false
			}
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("APCA-API-KEY-ID", cfg.APIKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey)

	return &RESTClient{
		http:   httpClient,
		dryRun: dryRun,
		logger: logger.With("component", "broker"),
	}
}

// GetAccount fetches account information.
func (c *RESTClient) GetAccount(ctx context.Context) (*types.BrokerAccount, error) {
	var result types.BrokerAccount
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v2/account")
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get account: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// SubmitOrder places one order.
func (c *RESTClient) SubmitOrder(ctx context.Context, req OrderRequest) (*types.BrokerOrder, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit order",
			"symbol", req.Symbol, "side", req.Side, "qty", req.Qty, "type", req.Type)
		return &types.BrokerOrder{
			OrderID:       "dry-run-" + uuid.NewString()[:8],
			ClientOrderID: req.ClientOrderID,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Type:          req.Type,
			Status:        "accepted",
		}, nil
	}

	var result types.BrokerOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/v2/orders")
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("submit order: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("order submitted",
		"order_id", result.OrderID,
		"symbol", result.Symbol,
		"side", result.Side,
		"status", result.Status,
	)
	return &result, nil
}

// GetPositions lists all open positions.
func (c *RESTClient) GetPositions(ctx context.Context) ([]types.BrokerPosition, error) {
	var result []types.BrokerPosition
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/v2/positions")
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get positions: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result, nil
}

// CancelAllOrders cancels every open order across all symbols.
func (c *RESTClient) CancelAllOrders(ctx context.Context) (int, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return 0, nil
	}

	var result []struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Delete("/v2/orders")
	if err != nil {
		return 0, fmt.Errorf("cancel all orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusMultiStatus {
		return 0, fmt.Errorf("cancel all orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("kill switch: cancelled open orders", "count", len(result))
	return len(result), nil
}

// CloseAllPositions liquidates every open position.
func (c *RESTClient) CloseAllPositions(ctx context.Context) (int, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would close all positions")
		return 0, nil
	}

	var result []struct {
		Symbol string `json:"symbol"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Delete("/v2/positions")
	if err != nil {
		return 0, fmt.Errorf("close all positions: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusMultiStatus {
		return 0, fmt.Errorf("close all positions: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("kill switch: closed positions", "count", len(result))
	return len(result), nil
}
