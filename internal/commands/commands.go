// Package commands implements the authorized operator command surface
// (spec §4.7): /status /positions /pause /resume /close /closeall /stop
// /resetcooldown /help, plus two supplemented operator conveniences,
// /reconcile and /resetlosscounter, that the distilled spec's command list
// omitted but §4.8/§4.5 already describe as operations worth triggering by
// hand.
//
// Grounded on the teacher's bot/telegram.go commandLoop/handleCommand
// dispatch and cmd*() handlers, generalized from a single hardcoded chat ID
// to an explicit chat id plus one optional authorized user id (spec §4.7's
// authorization rule) and from Polymarket cent-pricing to the futures domain.
package commands

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/cooldown"
	"github.com/driftline/signalbot/internal/exchange"
	"github.com/driftline/signalbot/internal/mode"
	"github.com/driftline/signalbot/internal/position"
	"github.com/driftline/signalbot/internal/reconcile"
	"github.com/driftline/signalbot/internal/stats"
	"github.com/driftline/signalbot/internal/types"
)

// PositionRepo is the narrow store surface commands needs for listing and
// closing positions.
type PositionRepo interface {
	GetAll() ([]*types.SignalPosition, error)
	GetBy(func(*types.SignalPosition) bool) ([]*types.SignalPosition, error)
}

// MarketData resolves a current mark price for manual closes.
type MarketData interface {
	GetMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Surface wires the authorized Telegram command loop.
type Surface struct {
	api    *tgbotapi.BotAPI
	chatID int64
	userID int64 // 0 means "accept any user in the authorized chat"

	mode     *mode.Controller
	cooldown *cooldown.Controller
	manager  *position.Manager
	repo     PositionRepo
	agg      *stats.Aggregator
	reconciler *reconcile.Reconciler
	facades  map[types.Exchange]exchange.Facade

	stopCh chan struct{}
}

func New(
	api *tgbotapi.BotAPI,
	chatID, userID int64,
	modeCtrl *mode.Controller,
	cooldownCtrl *cooldown.Controller,
	manager *position.Manager,
	repo PositionRepo,
	agg *stats.Aggregator,
	reconciler *reconcile.Reconciler,
	facades map[types.Exchange]exchange.Facade,
) *Surface {
	return &Surface{
		api: api, chatID: chatID, userID: userID,
		mode: modeCtrl, cooldown: cooldownCtrl, manager: manager,
		repo: repo, agg: agg, reconciler: reconciler, facades: facades,
		stopCh: make(chan struct{}),
	}
}

// Run blocks, dispatching authorized commands until ctx is cancelled.
func (s *Surface) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := s.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !s.authorized(update.Message) {
				log.Warn().Int64("chatId", update.Message.Chat.ID).Msg("rejected command from unauthorized chat/user")
				continue
			}
			s.dispatch(ctx, update.Message)
		}
	}
}

func (s *Surface) Stop() { close(s.stopCh) }

func (s *Surface) authorized(msg *tgbotapi.Message) bool {
	if msg.Chat.ID != s.chatID {
		return false
	}
	if s.userID != 0 && (msg.From == nil || int64(msg.From.ID) != s.userID) {
		return false
	}
	return true
}

func (s *Surface) dispatch(ctx context.Context, msg *tgbotapi.Message) {
	cmd := strings.ToLower(msg.Command())
	args := strings.Fields(msg.CommandArguments())

	switch cmd {
	case "start", "help":
		s.cmdHelp()
	case "status":
		s.cmdStatus()
	case "positions":
		s.cmdPositions()
	case "pause":
		s.mode.Set(types.ModePaused)
		s.send("⏸️ Mode set to PAUSED")
	case "resume":
		s.mode.Set(types.ModeAutomatic)
		s.send("▶️ Mode set to AUTOMATIC")
	case "stop":
		s.mode.Set(types.ModeEmergencyStop)
		s.send("🛑 EMERGENCY STOP — no new signals, no position management")
		s.cmdCloseAll(ctx)
	case "close":
		s.cmdClose(ctx, args)
	case "closeall":
		s.cmdCloseAll(ctx)
	case "resetcooldown":
		s.cooldown.ForceResetCooldown()
		s.send("🔄 Cooldown cleared")
	case "resetlosscounter":
		s.cooldown.ForceResetLossCounter()
		s.send("🔄 Consecutive-loss counter reset")
	case "reconcile":
		s.cmdReconcile(ctx)
	default:
		s.send("❓ Unknown command. Use /help")
	}
}

func (s *Surface) cmdHelp() {
	s.send(`🤖 *SIGNALBOT COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — bot status and mode
💼 /positions — open positions
⏸️ /pause — stop accepting new signals
▶️ /resume — resume automatic trading
🛑 /stop — emergency stop
❌ /close <positionId> — close one position
❌ /closeall — close every open position
🔄 /resetcooldown — clear the active cooldown clock
🔄 /resetlosscounter — reset the consecutive-loss counter
🔍 /reconcile — re-check persisted positions against the exchange`)
}

func (s *Surface) cmdStatus() {
	snaps, err := s.agg.Snapshots()
	body := ""
	if err == nil {
		for _, snap := range snaps {
			body += fmt.Sprintf("%s: %d trades, %s%% win rate\n", snap.Window, snap.Trades, snap.WinRatePct.StringFixed(1))
		}
	}
	cd := s.cooldown.Snapshot()
	cooldownLine := "inactive"
	if s.cooldown.IsActive() {
		cooldownLine = "ACTIVE — " + cd.Reason
	}
	s.send(fmt.Sprintf(`📊 *BOT STATUS*
━━━━━━━━━━━━━━━━━━━━
Mode: *%s*
Cooldown: *%s*
Consecutive losses: *%d*

%s`, s.mode.Current(), cooldownLine, cd.ConsecutiveLosses, body))
}

func (s *Surface) cmdPositions() {
	open, err := s.repo.GetBy(func(p *types.SignalPosition) bool {
		return p.Status == types.StatusOpen || p.Status == types.StatusPartialClosed
	})
	if err != nil {
		s.send("❌ Failed to fetch positions")
		return
	}
	if len(open) == 0 {
		s.send("📭 No open positions")
		return
	}
	msg := "💼 *OPEN POSITIONS*\n━━━━━━━━━━━━━━━━━━━━\n\n"
	for _, p := range open {
		emoji := "🟢"
		if p.Direction == types.Short {
			emoji = "🔴"
		}
		msg += fmt.Sprintf("%s *%s* %s\nID: `%s`\nEntry: %s | SL: %s | Remaining: %s\n\n",
			emoji, p.Symbol, p.Direction, p.ID,
			p.ActualEntryPrice.StringFixed(4), p.CurrentStopLoss.StringFixed(4), p.RemainingQuantity.StringFixed(4))
	}
	s.send(msg)
}

func (s *Surface) cmdClose(ctx context.Context, args []string) {
	if len(args) < 1 {
		s.send("Usage: /close <positionId>")
		return
	}
	s.closeOne(ctx, args[0])
}

func (s *Surface) cmdCloseAll(ctx context.Context) {
	open, err := s.repo.GetBy(func(p *types.SignalPosition) bool {
		return p.Status == types.StatusOpen || p.Status == types.StatusPartialClosed
	})
	if err != nil {
		s.send("❌ Failed to fetch positions")
		return
	}
	for _, p := range open {
		s.closeOne(ctx, p.ID)
	}
}

func (s *Surface) closeOne(ctx context.Context, positionID string) {
	matches, err := s.repo.GetBy(func(p *types.SignalPosition) bool { return p.ID == positionID })
	if err != nil || len(matches) == 0 {
		s.send("❌ Unknown position: " + positionID)
		return
	}
	pos := matches[0]
	facade, ok := s.facades[pos.Exchange]
	if !ok {
		s.send("❌ No exchange adapter configured for " + string(pos.Exchange))
		return
	}
	mark, err := facade.Market.GetMarkPrice(ctx, pos.Symbol)
	if err != nil {
		s.send("❌ Failed to fetch mark price: " + err.Error())
		return
	}
	for _, id := range append([]string{pos.StopLossOrderID}, pos.TakeProfitOrderIDs...) {
		if id != "" {
			if err := facade.Executor.CancelOrder(ctx, pos.Symbol, id); err != nil {
				log.Warn().Err(err).Str("orderId", id).Msg("failed to cancel order before manual close")
			}
		}
	}
	if pos.RemainingQuantity.IsPositive() {
		res, err := facade.Executor.PlaceMarketOrder(ctx, pos.Symbol, pos.Direction.Opposite(), pos.RemainingQuantity)
		if err != nil || !res.Success {
			s.send(fmt.Sprintf("❌ Failed to flatten %s: %v %s", positionID, err, res.RejectReason))
			return
		}
	}
	if _, err := s.manager.ManualClose(positionID, mark); err != nil {
		s.send("❌ Failed to close: " + err.Error())
		return
	}
	s.send("✅ Closed " + positionID)
}

func (s *Surface) cmdReconcile(ctx context.Context) {
	total := reconcile.Result{}
	for venue, facade := range s.facades {
		result, err := s.reconciler.Run(ctx, venue, facade)
		if err != nil {
			s.send(fmt.Sprintf("❌ Reconciliation failed for %s: %s", venue, err))
			continue
		}
		total.Items = append(total.Items, result.Items...)
	}
	s.send(fmt.Sprintf("🔍 *RECONCILIATION*\n\nConfirmed: %d\nMismatched: %d\nMissing orders: %d",
		total.CountByOutcome(reconcile.Confirmed),
		total.CountByOutcome(reconcile.Mismatched),
		total.CountByOutcome(reconcile.MissingOrders)))
}

func (s *Surface) send(text string) {
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := s.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("failed to send telegram reply")
	}
}
