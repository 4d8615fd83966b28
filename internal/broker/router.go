package broker

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"proptrader/pkg/types"
)

// maxClientOrderIDLen is the broker's hard limit on client_order_id.
const maxClientOrderIDLen = 48

// Router wraps the broker client with institutional (introducing
// broker) order tagging. Tagging block orders with the agreed routing
// prefix attributes their volume for rebates, lowering the aggregate
// cost basis per share.
type Router struct {
	client Client
	ibTag  string
}

// NewRouter creates a routing wrapper with the given institutional tag.
func NewRouter(client Client, ibTag string) *Router {
	if ibTag == "" {
		ibTag = "PFRM_IB"
	}
	return &Router{client: client, ibTag: ibTag}
}

// RoutingTag generates a unique client_order_id embedding the IB tag
// and strategy source: {IB_TAG}-{STRATEGY[:10]}-{UUID[:8]}, truncated
// to the broker's 48-character limit.
func (r *Router) RoutingTag(strategyName string) string {
	strat := strings.ToUpper(strings.ReplaceAll(strategyName, " ", ""))
	if len(strat) > 10 {
		strat = strat[:10]
	}
	tag := r.ibTag + "-" + strat + "-" + uuid.NewString()[:8]
	if len(tag) > maxClientOrderIDLen {
		tag = tag[:maxClientOrderIDLen]
	}
	return tag
}

// SubmitBlockOrder tags and submits one aggregated block order.
func (r *Router) SubmitBlockOrder(ctx context.Context, strategyName string, req OrderRequest) (*types.BrokerOrder, error) {
	req.ClientOrderID = r.RoutingTag(strategyName)
	if req.TimeInForce == "" {
		req.TimeInForce = "day"
	}
	return r.client.SubmitOrder(ctx, req)
}
