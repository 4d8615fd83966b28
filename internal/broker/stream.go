// stream.go implements the trade_updates WebSocket feed.
//
// The broker pushes order lifecycle events (fill, partial_fill,
// rejected, canceled, suspended) on a long-lived connection. The feed
// auto-reconnects with exponential backoff (1s → 30s max) and
// re-authenticates + re-subscribes on every reconnect. A read deadline
// detects silent server failures.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"proptrader/internal/config"
	"proptrader/pkg/types"
)

const (
	streamReadTimeout  = 90 * time.Second
	streamWriteTimeout = 10 * time.Second
	maxReconnectWait   = 30 * time.Second
	updateBufferSize   = 64
)

// StreamFeed manages the trade_updates WebSocket connection.
// Consumers read typed updates from Updates().
type StreamFeed struct {
	url       string
	apiKey    string
	secretKey string

	conn   *websocket.Conn
	connMu sync.Mutex

	updateCh chan types.TradeUpdate
	logger   *slog.Logger
}

// NewStreamFeed creates a trade_updates feed from broker configuration.
func NewStreamFeed(cfg config.BrokerConfig, logger *slog.Logger) *StreamFeed {
	return &StreamFeed{
		url:       cfg.StreamURL,
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		updateCh:  make(chan types.TradeUpdate, updateBufferSize),
		logger:    logger.With("component", "broker-stream"),
	}
}

// Updates returns the read-only channel of trade update events.
func (f *StreamFeed) Updates() <-chan types.TradeUpdate { return f.updateCh }

// Run connects and maintains the stream with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *StreamFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("stream disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close gracefully closes the connection.
func (f *StreamFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *StreamFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.authenticate(); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if err := f.subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("trade_updates stream connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *StreamFeed) authenticate() error {
	return f.writeJSON(map[string]any{
		"action": "auth",
		"key":    f.apiKey,
		"secret": f.secretKey,
	})
}

func (f *StreamFeed) subscribe() error {
	return f.writeJSON(map[string]any{
		"action": "listen",
		"data":   map[string]any{"streams": []string{"trade_updates"}},
	})
}

func (f *StreamFeed) dispatchMessage(data []byte) {
	// The stream wraps updates in an envelope; control frames
	// (authorization, listening acks) carry other stream names.
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json stream message", "data", string(data))
		return
	}
	if envelope.Stream != "trade_updates" {
		f.logger.Debug("ignoring stream frame", "stream", envelope.Stream)
		return
	}

	var update types.TradeUpdate
	if err := json.Unmarshal(envelope.Data, &update); err != nil {
		f.logger.Error("unmarshal trade update", "error", err)
		return
	}

	select {
	case f.updateCh <- update:
	default:
		f.logger.Warn("trade update channel full, dropping event", "order_id", update.Order.ID)
	}
}

func (f *StreamFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return f.conn.WriteJSON(v)
}
