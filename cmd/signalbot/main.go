// SignalBot turns Telegram trading calls into managed futures positions.
//
// Architecture: Listen → Parse → Validate → Execute → Manage → Reconcile
// - A channel listener streams raw chat text from configured channels
// - A parser registry turns text into a TradingSignal
// - The validator clamps leverage/stop-loss against policy and liquidation
// - The orchestrator runs the signal through its gates and opens a position
// - The position manager applies fills and runs the breakeven rule
// - The reconciler runs at startup and on /reconcile; statistics are computed on /status
package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/driftline/signalbot/internal/analytics"
	"github.com/driftline/signalbot/internal/commands"
	"github.com/driftline/signalbot/internal/config"
	"github.com/driftline/signalbot/internal/cooldown"
	"github.com/driftline/signalbot/internal/exchange"
	"github.com/driftline/signalbot/internal/execution"
	"github.com/driftline/signalbot/internal/listener"
	"github.com/driftline/signalbot/internal/mode"
	"github.com/driftline/signalbot/internal/notify"
	"github.com/driftline/signalbot/internal/position"
	"github.com/driftline/signalbot/internal/reconcile"
	"github.com/driftline/signalbot/internal/signal"
	"github.com/driftline/signalbot/internal/stats"
	"github.com/driftline/signalbot/internal/store"
	"github.com/driftline/signalbot/internal/types"
	"github.com/driftline/signalbot/internal/validator"
	"github.com/driftline/signalbot/internal/watchdog"
)

// positionCloseFanout fans every position.Notifier call out to Telegram,
// and additionally mirrors terminal closes into the optional analytics
// store and feeds them to the emergency watchdog. Structural typing:
// satisfies position.Notifier without analytics/watchdog needing to import
// position, or notify importing either of them.
type positionCloseFanout struct {
	*notify.Telegram
	analytics *analytics.Store
	watchdog  *watchdog.Watchdog
	equity    func() decimal.Decimal
}

func (n positionCloseFanout) NotifyPositionClosed(pos *types.SignalPosition) {
	n.Telegram.NotifyPositionClosed(pos)
	if n.analytics != nil {
		n.analytics.Record(pos)
	}
	n.watchdog.Observe(n.equity(), pos.RealizedPnl)
}

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().Str("version", version).Str("exchange", string(cfg.PrimaryExchange)).Msg("signalbot starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ====== PERSISTENCE ======
	positions, err := store.NewCollectionStore[*types.SignalPosition](cfg.DataDir+"/positions.json", func(p *types.SignalPosition) string { return p.ID })
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open position store")
	}
	cooldownStore, err := store.NewSingletonStore(cfg.DataDir+"/cooldown.json", cooldown.State{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open cooldown store")
	}

	var analyticsStore *analytics.Store
	if cfg.AnalyticsEnabled {
		analyticsStore, err = analytics.New(cfg.AnalyticsDSN, cfg.AnalyticsDriver)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open analytics store")
		}
	}

	// ====== EXCHANGE FACADES ======
	facades := make(map[types.Exchange]exchange.Facade)
	switch cfg.PrimaryExchange {
	case types.Binance:
		adapter := exchange.NewBinanceAdapter(cfg.BinanceAPIKey, cfg.BinanceSecret, cfg.BinanceTestnet)
		facades[types.Binance] = exchange.Facade{
			Name: types.Binance, Market: adapter, Executor: adapter,
			Updates: exchange.NewBinanceOrderUpdateListener(adapter),
		}
	case types.Bybit:
		adapter := exchange.NewBybitAdapter(cfg.BybitAPIKey, cfg.BybitSecret, cfg.BybitTestnet)
		wsURL := "wss://stream.bybit.com/v5/private"
		if cfg.BybitTestnet {
			wsURL = "wss://stream-testnet.bybit.com/v5/private"
		}
		facades[types.Bybit] = exchange.Facade{
			Name: types.Bybit, Market: adapter, Executor: adapter,
			Updates: exchange.NewBybitOrderUpdateListener(wsURL, cfg.BybitAPIKey, cfg.BybitSecret),
		}
	case types.Bitget:
		adapter := exchange.NewBitgetAdapter(cfg.BitgetAPIKey, cfg.BitgetSecret, cfg.BitgetPassphrase, cfg.BitgetTestnet)
		facades[types.Bitget] = exchange.Facade{
			Name: types.Bitget, Market: adapter, Executor: adapter,
			Updates: exchange.NewBitgetOrderUpdateListener(adapter),
		}
	}
	primaryFacade := facades[cfg.PrimaryExchange]

	// ====== TELEGRAM ======
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to telegram")
	}
	notifier := notify.New(api, cfg.TelegramChatID)

	// ====== CONTROL SINGLETONS ======
	modeCtrl := mode.New()
	cooldownCtrl := cooldown.New(cfg.CooldownPolicy)
	if saved, err := cooldownStore.Load(); err == nil {
		cooldownCtrl.Restore(saved)
	}
	modeCtrl.Subscribe(func(old, new types.OperatingMode) {
		notifier.NotifyModeChanged(old, new)
	})
	watchdogCtrl := watchdog.New(cfg.WatchdogPolicy, modeCtrl)

	// ====== SIGNAL PIPELINE ======
	registry := signal.NewRegistry()
	registry.Add(&signal.DollarParser{DefaultLeverage: cfg.ValidatorPolicy.MaxLeverage})
	registry.Add(&signal.HashtagParser{DefaultLeverage: cfg.ValidatorPolicy.MaxLeverage})

	orchestrator := execution.New(cfg.ExecutionPolicy, modeCtrl, cooldownCtrl, positions, notifier)
	posNotifier := positionCloseFanout{
		Telegram:  notifier,
		analytics: analyticsStore,
		watchdog:  watchdogCtrl,
		equity: func() decimal.Decimal {
			bal, err := primaryFacade.Market.GetBalance(context.Background(), "USDT")
			if err != nil {
				log.Warn().Err(err).Msg("failed to fetch equity for watchdog observation")
				return decimal.Zero
			}
			return bal
		},
	}
	manager := position.New(positions, cooldownCtrl, exchange.NewPositionAdapter(primaryFacade.Executor), primaryFacade.Executor, posNotifier)
	aggregator := stats.New(positions)
	reconciler := reconcile.New(positions)

	// Crash recovery (spec §4.8): reconcile every persisted open position
	// against exchange reality before accepting new signals or order
	// updates. Mismatches are reported, never auto-corrected.
	for venue, facade := range facades {
		result, err := reconciler.Run(ctx, venue, facade)
		if err != nil {
			log.Error().Err(err).Str("exchange", string(venue)).Msg("startup reconciliation failed")
			continue
		}
		if mismatched := result.CountByOutcome(reconcile.Mismatched); mismatched > 0 {
			notifier.NotifyError("startup reconciliation", fmt.Sprintf("%d position(s) mismatched on %s — see /reconcile", mismatched, venue))
		}
		if missing := result.CountByOutcome(reconcile.MissingOrders); missing > 0 {
			notifier.NotifyError("startup reconciliation", fmt.Sprintf("%d position(s) missing protective orders on %s — see /reconcile", missing, venue))
		}
	}

	liq := exchange.LiquidationEstimator{}

	// ====== CHANNEL LISTENER ======
	channelCfgs := make([]listener.ChannelConfig, len(cfg.Channels))
	for i, c := range cfg.Channels {
		channelCfgs[i] = listener.ChannelConfig{ChannelID: c.ChannelID, ChannelName: c.ChannelName, ParserName: c.ParserName}
	}
	mtproto := listener.NewMTProtoListener(listener.MTProtoConfig{
		AppID: cfg.MTProtoAppID, AppHash: cfg.MTProtoAppHash,
		SessionFilePath: cfg.MTProtoSessionFilePath, Channels: channelCfgs,
	})
	rawCh, err := mtproto.Start(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start channel listener")
	}
	if dialogs, err := mtproto.ListDialogs(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to list dialogs at boot; poll fallback will warm up lazily")
	} else {
		log.Info().Int("dialogs", len(dialogs)).Msg("resolved account dialogs, access-hash cache warmed")
	}

	poller, err := listener.NewPoller(cfg.PollIntervalCron, mtproto, func() {
		notifier.NotifyError("channel listener", "mtproto session appears unhealthy")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule listener health poller")
	}
	poller.Start()
	defer poller.Stop()

	// ====== ORDER UPDATE FAN-IN ======
	if primaryFacade.Updates != nil {
		updatesCh, err := primaryFacade.Updates.Start(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to start order update listener")
		} else {
			go func() {
				for upd := range updatesCh {
					if err := manager.Apply(upd); err != nil {
						log.Error().Err(err).Str("orderId", upd.OrderID).Msg("failed to apply order update")
					}
				}
			}()
		}
	}

	// ====== RAW MESSAGE PIPELINE ======
	go func() {
		for raw := range rawCh {
			res := registry.Parse(raw.Config.ParserName, raw.Text, raw.Source, cfg.ValidatorPolicy.MaxLeverage)
			if res.Err != nil {
				continue
			}
			notifier.NotifySignalReceived(res.Signal)

			result := validator.Validate(res.Signal, cfg.ValidatorPolicy, liq)
			if result.Rejected() {
				notifier.NotifySignalRejected(res.Signal, result.Reason)
				continue
			}

			equity, err := primaryFacade.Market.GetBalance(ctx, "USDT")
			if err != nil {
				notifier.NotifyError(res.Signal.Symbol, "failed to fetch account balance: "+err.Error())
				continue
			}
			if _, err := orchestrator.Execute(ctx, res.Signal, equity, primaryFacade); err != nil {
				log.Error().Err(err).Str("signal", res.Signal.ID).Msg("execution failed")
			}
		}
	}()

	// ====== COMMAND SURFACE ======
	surface := commands.New(api, cfg.TelegramChatID, cfg.TelegramUserID, modeCtrl, cooldownCtrl, manager, positions, aggregator, reconciler, facades)
	go surface.Run(ctx)

	log.Info().Msg("all services started")
	log.Info().Msg("use /help in the authorized chat to see available commands")

	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	surface.Stop()
	mtproto.Stop()
	if primaryFacade.Updates != nil {
		primaryFacade.Updates.Stop()
	}
	if err := cooldownStore.Save(cooldownCtrl.Snapshot()); err != nil {
		log.Error().Err(err).Msg("failed to persist cooldown state on shutdown")
	}

	log.Info().Msg("goodbye")
}
