// Package notify sends operator-facing Telegram notifications:
// signal detected, position opened/closed, target hit, stop-loss moved,
// protection incomplete, and errors.
//
// Grounded directly on the teacher's bot/telegram.go NotifySignal/NotifyTrade/
// NotifyPnL/NotifyError Markdown-message shape, generalized from Polymarket
// cent-pricing to futures price/quantity formatting and from two outcomes
// (TP/SL) to the full SignalPosition lifecycle.
package notify

import (
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/signal"
	"github.com/driftline/signalbot/internal/types"
)

// Telegram sends Markdown-formatted notifications to one configured chat.
type Telegram struct {
	mu     sync.Mutex
	api    *tgbotapi.BotAPI
	chatID int64
}

func New(api *tgbotapi.BotAPI, chatID int64) *Telegram {
	return &Telegram{api: api, chatID: chatID}
}

func (t *Telegram) send(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := tgbotapi.NewMessage(t.chatID, msg)
	m.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.api.Send(m); err != nil {
		log.Error().Err(err).Msg("failed to send telegram notification")
	}
}

// NotifySignalReceived reports a freshly parsed, valid signal before the
// orchestrator has acted on it.
func (t *Telegram) NotifySignalReceived(s *signal.TradingSignal) {
	emoji := "🟢"
	if s.Direction == types.Short {
		emoji = "🔴"
	}
	msg := fmt.Sprintf(`%s *SIGNAL DETECTED*

📊 *%s* — %s
━━━━━━━━━━━━━━━━
💵 Entry: *%s*
🛑 SL: *%s*
🎯 Targets: *%s*
⚙️ Leverage: *%dx*`,
		emoji, s.Symbol, s.Direction,
		s.EntryPrice.StringFixed(4),
		s.AdjustedStopLoss.StringFixed(4),
		joinDecimals(s.Targets),
		s.AdjustedLeverage,
	)
	t.send(msg)
}

// NotifySignalRejected reports a signal the validator refused.
func (t *Telegram) NotifySignalRejected(s *signal.TradingSignal, reason string) {
	msg := fmt.Sprintf("🚫 *SIGNAL REJECTED*\n\n📊 %s — %s\n📝 %s", s.Symbol, s.Direction, reason)
	t.send(msg)
}

// NotifyPositionOpened implements execution.Notifier.
func (t *Telegram) NotifyPositionOpened(pos *types.SignalPosition) {
	msg := fmt.Sprintf(`✅ *POSITION OPENED*

📊 %s %s
💵 Entry: *%s*
📦 Size: *%s*
🛑 SL: *%s*
⚙️ Leverage: *%dx*`,
		pos.Symbol, pos.Direction,
		pos.ActualEntryPrice.StringFixed(4),
		pos.InitialQuantity.StringFixed(4),
		pos.CurrentStopLoss.StringFixed(4),
		pos.Leverage,
	)
	t.send(msg)
}

// NotifyPositionCancelled implements execution.Notifier.
func (t *Telegram) NotifyPositionCancelled(pos *types.SignalPosition, reason string) {
	msg := fmt.Sprintf("🚫 *ENTRY CANCELLED*\n\n📊 %s %s\n📝 %s", pos.Symbol, pos.Direction, reason)
	t.send(msg)
}

// NotifyProtectionIncomplete implements execution.Notifier.
func (t *Telegram) NotifyProtectionIncomplete(pos *types.SignalPosition, reason string) {
	msg := fmt.Sprintf("⚠️ *PROTECTION INCOMPLETE*\n\n📊 %s %s\n📝 %s\n\nCheck the exchange manually.", pos.Symbol, pos.Direction, reason)
	t.send(msg)
}

// NotifyTargetHit implements position.Notifier.
func (t *Telegram) NotifyTargetHit(pos *types.SignalPosition, targetIndex int) {
	target := pos.Targets[targetIndex]
	msg := fmt.Sprintf(`💰 *TARGET %d HIT*

📊 %s %s
💵 Price: *%s*
📦 Remaining: *%s*`,
		targetIndex+1, pos.Symbol, pos.Direction,
		target.Price.StringFixed(4),
		pos.RemainingQuantity.StringFixed(4),
	)
	t.send(msg)
}

// NotifyStopLossMoved implements position.Notifier.
func (t *Telegram) NotifyStopLossMoved(pos *types.SignalPosition, newStop decimal.Decimal) {
	msg := fmt.Sprintf("🔁 *STOP-LOSS MOVED*\n\n📊 %s %s\n🛑 New SL: *%s*", pos.Symbol, pos.Direction, newStop.StringFixed(4))
	t.send(msg)
}

// NotifyPositionClosed implements position.Notifier.
func (t *Telegram) NotifyPositionClosed(pos *types.SignalPosition) {
	emoji := "📈"
	if pos.RealizedPnl.IsNegative() {
		emoji = "📉"
	}
	sign := "+"
	if pos.RealizedPnl.IsNegative() {
		sign = ""
	}
	msg := fmt.Sprintf(`%s *POSITION CLOSED*

📊 %s %s
📝 Reason: *%s*
💵 P&L: *%s%s*`,
		emoji, pos.Symbol, pos.Direction, pos.CloseReason,
		sign, pos.RealizedPnl.StringFixed(2),
	)
	t.send(msg)
}

// NotifyError reports an unexpected internal error to the operator,
// tagged with the component that raised it.
func (t *Telegram) NotifyError(component, message string) {
	t.send(fmt.Sprintf("⚠️ *ERROR*\n\n📍 %s\n`%s`", component, message))
}

// NotifyModeChanged reports an operating-mode transition.
func (t *Telegram) NotifyModeChanged(old, new types.OperatingMode) {
	t.send(fmt.Sprintf("🎛️ *MODE CHANGED*\n\n%s → *%s*", old, new))
}

func joinDecimals(ds []decimal.Decimal) string {
	out := ""
	for i, d := range ds {
		if i > 0 {
			out += ", "
		}
		out += d.StringFixed(4)
	}
	return out
}
