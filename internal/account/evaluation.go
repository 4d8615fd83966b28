// Package account manages the prop-firm account lifecycle.
//
// A periodic sweep checks every active challenge account against its
// firm's rules: a drawdown breach fails the account, hitting the profit
// target halts it pending manual graduation, and accounts nearing their
// max drawdown raise a warning. An end-of-day task reports the whole
// portfolio.
package account

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"proptrader/internal/ledger"
	"proptrader/internal/notify"
	"proptrader/pkg/types"
)

// drawdownWarnRatio is how close (as a fraction of the firm limit) an
// account's drawdown may get before the sweep raises a warning.
const drawdownWarnRatio = 0.80

// Evaluator runs the challenge-account state machine.
type Evaluator struct {
	ledger   *ledger.Store
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(st *ledger.Store, notifier *notify.Notifier, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		ledger:   st,
		notifier: notifier,
		logger:   logger.With("component", "evaluation"),
	}
}

// Sweep checks all active tradable accounts: drawdown warnings first,
// then pass/fail transitions. Runs intraday so breaches are caught
// before the firm catches them.
func (e *Evaluator) Sweep() error {
	accounts, err := e.ledger.ActiveAccounts(true)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	for _, account := range accounts {
		if err := e.warnOnDrawdown(account); err != nil {
			e.logger.Error("drawdown warning check failed", "account", account.Name, "error", err)
		}
		if err := e.evaluate(account); err != nil {
			e.logger.Error("evaluation failed", "account", account.Name, "error", err)
		}
	}
	return nil
}

// warnOnDrawdown alerts when total drawdown reaches 80% of the firm
// limit. Rate-limited by the sweep cadence, not by content.
func (e *Evaluator) warnOnDrawdown(account *ledger.PropFirmAccount) error {
	if account.MaxTotalDrawdownPct <= 0 {
		return nil
	}
	dd, err := e.ledger.AccountTotalDrawdownPct(account)
	if err != nil {
		return err
	}

	pctToMax := dd / account.MaxTotalDrawdownPct * 100
	if pctToMax < drawdownWarnRatio*100 {
		return nil
	}

	equity, err := e.ledger.AccountEquity(account)
	if err != nil {
		return err
	}
	e.logger.Warn("account nearing max drawdown",
		"account", account.Name, "pct_to_max", pctToMax)
	e.notifier.DrawdownWarning(account, equity, dd, pctToMax)
	return nil
}

// evaluate applies the pass/fail transitions for one account.
func (e *Evaluator) evaluate(account *ledger.PropFirmAccount) error {
	// 1. Max drawdown breach — failure.
	dd, err := e.ledger.AccountTotalDrawdownPct(account)
	if err != nil {
		return err
	}
	if dd >= account.MaxTotalDrawdownPct {
		reason := fmt.Sprintf("FAILED: total drawdown %.2f%% breached the %.2f%% limit",
			dd, account.MaxTotalDrawdownPct)
		return e.halt(account, reason, types.PhaseFailed, false)
	}

	// 2. Profit target hit — pass. The phase is preserved pending
	// manual promotion to verification or funded.
	if account.Phase != types.PhaseEvaluation && account.Phase != types.PhaseVerification {
		return nil
	}
	target := account.ProfitTargetAmount()
	if !target.IsPositive() {
		return nil
	}
	totalPnL, err := e.ledger.AccountTotalPnL(account)
	if err != nil {
		return err
	}
	if totalPnL.GreaterThanOrEqual(target) {
		pctGained := decimal.Decimal{}
		if account.AccountSize.IsPositive() {
			pctGained = totalPnL.Div(account.AccountSize).Mul(decimal.NewFromInt(100))
		}
		reason := fmt.Sprintf("PASSED %s: hit profit target (%s%% / $%s)",
			account.Phase, pctGained.StringFixed(2), totalPnL.StringFixed(2))
		return e.halt(account, reason, account.Phase, true)
	}
	return nil
}

// halt deactivates the account so the runner and allocator skip it,
// records the phase transition, and raises a high-priority alert.
func (e *Evaluator) halt(account *ledger.PropFirmAccount, reason string, newPhase types.AccountPhase, passed bool) error {
	e.logger.Info("halting account", "account", account.Name, "reason", reason)

	account.IsActive = false
	account.Phase = newPhase
	if err := e.ledger.SaveAccount(account); err != nil {
		return fmt.Errorf("save halted account: %w", err)
	}

	equity, err := e.ledger.AccountEquity(account)
	if err != nil {
		return err
	}
	totalPnL, err := e.ledger.AccountTotalPnL(account)
	if err != nil {
		return err
	}
	e.notifier.AccountHalted(account, equity, totalPnL, reason, passed)
	return nil
}

// EODReport gathers all active accounts and sends the end-of-day
// portfolio summary. Scheduled shortly after the market close.
func (e *Evaluator) EODReport() error {
	accounts, err := e.ledger.ActiveAccounts(false)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil
	}

	summaries := make([]notify.AccountSummary, 0, len(accounts))
	for _, account := range accounts {
		equity, err := e.ledger.AccountEquity(account)
		if err != nil {
			return err
		}
		totalPnL, err := e.ledger.AccountTotalPnL(account)
		if err != nil {
			return err
		}
		passing, err := e.ledger.AccountPassing(account)
		if err != nil {
			return err
		}

		progress := 0.0
		if target := account.ProfitTargetAmount(); target.IsPositive() {
			p, _ := totalPnL.Div(target).Mul(decimal.NewFromInt(100)).Float64()
			progress = p
		}
		summaries = append(summaries, notify.AccountSummary{
			Account:     account,
			Equity:      equity,
			TotalPnL:    totalPnL,
			ProgressPct: progress,
			Passing:     passing,
		})
	}

	e.notifier.EODReport(summaries)
	e.logger.Info("EOD report sent", "accounts", len(summaries))
	return nil
}
