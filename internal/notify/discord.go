// Package notify sends fire-and-forget alerts to a Discord channel via
// webhook. Delivery failures are logged, never raised — an alert must
// not block or fail a trade. With no URL configured the notifier is a
// no-op.
package notify

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"proptrader/internal/ledger"
	"proptrader/pkg/types"
)

// Embed colors.
const (
	colorGreen  = 0x2ECC71
	colorRed    = 0xE74C3C
	colorOrange = 0xFF8C00
	colorPurple = 0x9B59B6
	colorBlue   = 0x3498DB
	colorYellow = 0xF1C40F
	colorMaroon = 0x992D22
)

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      struct {
		Text string `json:"text"`
	} `json:"footer"`
}

// Notifier posts rich embeds to a Discord webhook.
type Notifier struct {
	webhookURL string
	http       *resty.Client
	logger     *slog.Logger
}

// New creates a notifier. An empty URL disables it.
func New(webhookURL string, logger *slog.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		http:       resty.New().SetTimeout(5 * time.Second),
		logger:     logger.With("component", "notify"),
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool { return n.webhookURL != "" }

// TradeAlert broadcasts an executed trade.
func (n *Notifier) TradeAlert(t *ledger.Trade) {
	if !n.Enabled() {
		return
	}

	color := colorGreen
	if t.Side == types.Sell {
		color = colorRed
	}

	price := "pending"
	if t.FillPrice.Valid {
		price = "$" + t.FillPrice.Decimal.StringFixed(2)
	}

	fields := []embedField{
		{Name: "Action", Value: strings.ToUpper(string(t.Side)), Inline: true},
		{Name: "Quantity", Value: t.Quantity.String(), Inline: true},
		{Name: "Price", Value: price, Inline: true},
		{Name: "Strategy", Value: t.Strategy},
	}
	if t.Side == types.Sell && t.RealizedPnL.Valid {
		pnl := t.RealizedPnL.Decimal
		pnlStr := "+$" + pnl.StringFixed(2)
		if pnl.Sign() < 0 {
			pnlStr = "-$" + pnl.Abs().StringFixed(2)
		}
		fields = append(fields, embedField{Name: "Realized P&L", Value: pnlStr})
	}

	e := embed{
		Title:  "TRADE EXECUTED: " + t.Symbol,
		Color:  color,
		Fields: fields,
	}
	e.Footer.Text = "Execution Core"
	n.dispatch(e)
}

// SystemAlert broadcasts a system event at the given level
// (INFO, WARNING, ERROR, CRITICAL).
func (n *Notifier) SystemAlert(title, message, level string) {
	if !n.Enabled() {
		return
	}

	color := colorBlue
	switch strings.ToUpper(level) {
	case "WARNING":
		color = colorYellow
	case "ERROR":
		color = colorRed
	case "CRITICAL":
		color = colorMaroon
	}

	e := embed{
		Title:       fmt.Sprintf("[%s] %s", strings.ToUpper(level), title),
		Description: message,
		Color:       color,
	}
	e.Footer.Text = "System Monitor"
	n.dispatch(e)
}

// DrawdownWarning alerts that an account is nearing its max drawdown.
func (n *Notifier) DrawdownWarning(a *ledger.PropFirmAccount, equity decimal.Decimal, drawdownPct, pctToMax float64) {
	if !n.Enabled() {
		return
	}

	e := embed{
		Title:       "DRAWDOWN WARNING: " + a.Name,
		Color:       colorOrange,
		Description: fmt.Sprintf("Account is %.1f%% of the way to MAX LOSS.", pctToMax),
		Fields: []embedField{
			{Name: "Current Equity", Value: "$" + equity.StringFixed(2), Inline: true},
			{Name: "Total Drawdown", Value: fmt.Sprintf("%.2f%%", drawdownPct), Inline: true},
			{Name: "Max Allowed", Value: fmt.Sprintf("%.2f%%", a.MaxTotalDrawdownPct), Inline: true},
		},
	}
	e.Footer.Text = "Risk Manager"
	n.dispatch(e)
}

// AccountHalted alerts that the evaluation engine paused an account.
func (n *Notifier) AccountHalted(a *ledger.PropFirmAccount, equity, totalPnL decimal.Decimal, reason string, passed bool) {
	if !n.Enabled() {
		return
	}

	color := colorRed
	if passed {
		color = colorGreen
	}

	e := embed{
		Title:       "ACCOUNT HALTED: " + a.Name,
		Color:       color,
		Description: reason,
		Fields: []embedField{
			{Name: "Current Equity", Value: "$" + equity.StringFixed(2), Inline: true},
			{Name: "Total P&L", Value: "$" + totalPnL.StringFixed(2), Inline: true},
			{Name: "Firm", Value: a.Firm, Inline: true},
		},
	}
	e.Footer.Text = "Evaluation Engine"
	n.dispatch(e)
}

// AccountSummary is one line of the end-of-day report.
type AccountSummary struct {
	Account     *ledger.PropFirmAccount
	Equity      decimal.Decimal
	TotalPnL    decimal.Decimal
	ProgressPct float64
	Passing     bool
}

// EODReport sends the end-of-day portfolio summary.
func (n *Notifier) EODReport(summaries []AccountSummary) {
	if !n.Enabled() || len(summaries) == 0 {
		return
	}

	fields := make([]embedField, 0, len(summaries))
	for _, s := range summaries {
		status := "FAIL"
		if s.Passing {
			status = "PASS"
		}
		fields = append(fields, embedField{
			Name: fmt.Sprintf("%s (%s)", s.Account.Name, status),
			Value: fmt.Sprintf("Equity: $%s | PnL: $%s | Target: %.1f%%",
				s.Equity.StringFixed(2), s.TotalPnL.StringFixed(2), s.ProgressPct),
		})
	}

	e := embed{
		Title:       "End of Day Portfolio Report",
		Color:       colorPurple,
		Description: fmt.Sprintf("Daily closing summary for %d active accounts.", len(summaries)),
		Fields:      fields,
	}
	e.Footer.Text = "Portfolio Tracker"
	n.dispatch(e)
}

func (n *Notifier) dispatch(e embed) {
	payload := map[string]any{"embeds": []embed{e}}

	resp, err := n.http.R().SetBody(payload).Post(n.webhookURL)
	if err != nil {
		n.logger.Error("failed to push alert to Discord", "error", err)
		return
	}
	if resp.StatusCode() >= 400 {
		n.logger.Error("Discord webhook rejected alert",
			"status", resp.StatusCode(), "body", resp.String())
	}
}
