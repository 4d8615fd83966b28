// Package metrics exposes the execution core's Prometheus
// instrumentation. Counters register on the default registry and are
// served at /metrics on the ingest HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignalsReceived counts signals entering the pipeline, by source
	// (webhook, runner).
	SignalsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proptrader",
		Name:      "signals_received_total",
		Help:      "Signals entering the execution pipeline, by source.",
	}, []string{"source"})

	// WebhookRequests counts ingress requests by outcome
	// (dispatched, rejected, unauthorized, throttled, error).
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proptrader",
		Name:      "webhook_requests_total",
		Help:      "Webhook ingress requests, by outcome.",
	}, []string{"outcome"})

	// TradesSubmitted counts block trades accepted by the broker but
	// not yet filled.
	TradesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proptrader",
		Name:      "trades_submitted_total",
		Help:      "Trades submitted to the broker awaiting fill.",
	})

	// TradesFilled counts trades that reached filled status.
	TradesFilled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proptrader",
		Name:      "trades_filled_total",
		Help:      "Trades filled by the broker.",
	})

	// TradesRejected counts risk-gate rejections.
	TradesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proptrader",
		Name:      "trades_rejected_total",
		Help:      "Trades rejected by the risk gate.",
	})

	// TradeErrors counts broker submit failures.
	TradeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "proptrader",
		Name:      "trade_errors_total",
		Help:      "Broker submission errors.",
	})

	// StreamUpdates counts trade_updates events by type.
	StreamUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proptrader",
		Name:      "stream_updates_total",
		Help:      "Broker trade_updates events, by event type.",
	}, []string{"event"})
)
