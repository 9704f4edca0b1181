// Package config loads SignalBot's runtime configuration from the optional
// appsettings.json / appsettings.user.json files, then environment variables
// (.env via godotenv, then the process environment), matching the
// shape spec §3's Configuration aggregate names: trading policy, risk
// overrides, position-sizing policy, entry policy, cooldown policy, and the
// Telegram/venue credentials needed to wire everything together.
//
// Grounded directly on the teacher's internal/config/config.go Load()
// pattern (typed getEnv*/getEnvDecimal/getEnvDuration helpers, required-field
// validation at the end of Load), generalized from Polymarket risk knobs to
// the spec's duplicate/deviation/sizing/cooldown policy surface.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/cooldown"
	"github.com/driftline/signalbot/internal/execution"
	"github.com/driftline/signalbot/internal/types"
	"github.com/driftline/signalbot/internal/validator"
	"github.com/driftline/signalbot/internal/watchdog"
)

// fileLayer is the flattened result of layering appsettings.json then
// appsettings.user.json (spec §6): nested JSON objects are flattened into
// "__"-separated keys exactly like the final env-var layer, so a single
// getEnv* lookup can transparently fall back to either file without the
// rest of Load knowing which layer answered it.
var fileLayer map[string]string

// loadFileLayer reads appsettings.json then appsettings.user.json from the
// working directory, flattening both into one map with later files winning
// key-by-key. Missing files are not an error — both layers are optional,
// the way a fresh checkout with only .env configured still boots.
func loadFileLayer() (map[string]string, error) {
	merged := map[string]string{}
	for _, path := range []string{"appsettings.json", "appsettings.user.json"} {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		var tree map[string]interface{}
		if err := json.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		flatten("", tree, merged)
	}
	return merged, nil
}

// flatten turns {"Risk":{"MaxLeverage":20}} into {"RISK__MAXLEVERAGE":"20"},
// mirroring the "__" nesting separator spec §6 names for the env layer.
func flatten(prefix string, node map[string]interface{}, out map[string]string) {
	for k, v := range node {
		key := strings.ToUpper(k)
		if prefix != "" {
			key = prefix + "__" + key
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flatten(key, val, out)
		case string:
			out[key] = val
		case bool:
			out[key] = strconv.FormatBool(val)
		case float64:
			out[key] = strconv.FormatFloat(val, 'f', -1, 64)
		case nil:
			// absent/null leaves no entry; lower layers or defaults apply.
		default:
			if b, err := json.Marshal(val); err == nil {
				out[key] = string(b)
			}
		}
	}
}

// ChannelConfig maps one monitored channel to its parser, mirroring spec
// §3's per-channel parser table.
type ChannelConfig struct {
	ChannelID   string
	ChannelName string
	ParserName  string
}

// Config is the fully resolved, process-wide configuration.
type Config struct {
	DataDir string

	TelegramBotToken string
	TelegramChatID   int64
	TelegramUserID   int64 // 0 = accept any user in the authorized chat

	MTProtoAppID           int
	MTProtoAppHash         string
	MTProtoSessionFilePath string
	Channels               []ChannelConfig

	PrimaryExchange  types.Exchange
	BinanceAPIKey    string
	BinanceSecret    string
	BinanceTestnet   bool
	BybitAPIKey      string
	BybitSecret      string
	BybitTestnet     bool
	BitgetAPIKey     string
	BitgetSecret     string
	BitgetPassphrase string
	BitgetTestnet    bool

	ValidatorPolicy validator.Policy
	ExecutionPolicy execution.Policy
	CooldownPolicy  cooldown.Policy
	WatchdogPolicy  watchdog.Policy

	AnalyticsEnabled bool
	AnalyticsDSN     string
	AnalyticsDriver  string // "postgres" or "sqlite"

	PollIntervalCron string
}

// Load resolves every key through spec §6's layering: appsettings.json,
// then appsettings.user.json, then .env (via godotenv into the process
// environment), then the process environment itself — each layer
// overriding the one before it key-by-key.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	layer, err := loadFileLayer()
	if err != nil {
		return nil, err
	}
	fileLayer = layer

	cfg := &Config{
		DataDir: getEnv("DATA_DIR", "./data"),

		TelegramBotToken:       getEnv("TELEGRAM_BOT_TOKEN", ""),
		MTProtoAppID:           getEnvInt("MTPROTO_APP_ID", 0),
		MTProtoAppHash:         getEnv("MTPROTO_APP_HASH", ""),
		MTProtoSessionFilePath: getEnv("MTPROTO_SESSION_PATH", "./data/mtproto.session"),

		PrimaryExchange:  types.Exchange(strings.ToUpper(getEnv("PRIMARY_EXCHANGE", "BINANCE"))),
		BinanceAPIKey:    getEnv("BINANCE_API_KEY", ""),
		BinanceSecret:    getEnv("BINANCE_API_SECRET", ""),
		BinanceTestnet:   getEnvBool("BINANCE_TESTNET", false),
		BybitAPIKey:      getEnv("BYBIT_API_KEY", ""),
		BybitSecret:      getEnv("BYBIT_API_SECRET", ""),
		BybitTestnet:     getEnvBool("BYBIT_TESTNET", false),
		BitgetAPIKey:     getEnv("BITGET_API_KEY", ""),
		BitgetSecret:     getEnv("BITGET_API_SECRET", ""),
		BitgetPassphrase: getEnv("BITGET_PASSPHRASE", ""),
		BitgetTestnet:    getEnvBool("BITGET_TESTNET", false),

		ValidatorPolicy: validator.Policy{
			MaxLeverage:            getEnvInt("MAX_LEVERAGE", 20),
			StopLossMode:           types.StopLossMode(getEnv("STOP_LOSS_MODE", string(types.StopLossAsGiven))),
			StopLossPercent:        getEnvDecimal("STOP_LOSS_PERCENT", decimal.NewFromFloat(2)),
			SafeDistanceFromLiqPct: getEnvDecimal("SAFE_DISTANCE_FROM_LIQUIDATION_PCT", decimal.NewFromFloat(20)),
		},

		ExecutionPolicy: execution.Policy{
			DuplicateSameDirection:     types.DuplicatePolicy(getEnv("DUPLICATE_SAME_DIRECTION", string(types.DuplicateIgnore))),
			DuplicateOppositeDirection: types.DuplicatePolicy(getEnv("DUPLICATE_OPPOSITE_DIRECTION", string(types.DuplicateClose))),
			MinTimeBetweenDuplicates:   getEnvDuration("MIN_TIME_BETWEEN_DUPLICATES", 0),
			MaxPriceDeviationPercent:   getEnvDecimal("MAX_PRICE_DEVIATION_PCT", decimal.NewFromFloat(1)),
			DeviationAction:            types.DeviationAction(getEnv("DEVIATION_ACTION", string(types.DeviationSkip))),
			SizingMode:                 types.SizingMode(getEnv("SIZING_MODE", string(types.SizingFixedAmount))),
			FixedAmountUsdt:            getEnvDecimal("FIXED_AMOUNT_USDT", decimal.NewFromInt(100)),
			RiskPercent:                getEnvDecimal("RISK_PERCENT", decimal.NewFromFloat(1)),
			FixedMarginUsdt:            getEnvDecimal("FIXED_MARGIN_USDT", decimal.NewFromInt(50)),
			MaxPositionUsdt:            getEnvDecimal("MAX_POSITION_USDT", decimal.NewFromInt(1000)),
			MaxPositionPercent:         getEnvDecimal("MAX_POSITION_PCT", decimal.NewFromInt(50)),
			MinPositionUsdt:            getEnvDecimal("MIN_POSITION_USDT", decimal.NewFromInt(10)),
			MoveStopToBreakeven:        getEnvBool("MOVE_STOP_TO_BREAKEVEN", true),
			MarginType:                 types.MarginType(getEnv("MARGIN_TYPE", string(types.Isolated))),
		},

		CooldownPolicy: cooldown.Policy{
			ConsecutiveLossesForLongCooldown: getEnvInt("CONSECUTIVE_LOSSES_FOR_LONG_COOLDOWN", 3),
			CooldownAfterStopLoss:            getEnvDuration("COOLDOWN_AFTER_STOP_LOSS", 15*time.Minute),
			CooldownAfterLiquidation:         getEnvDuration("COOLDOWN_AFTER_LIQUIDATION", time.Hour),
			LongCooldownDuration:             getEnvDuration("LONG_COOLDOWN_DURATION", 4*time.Hour),
			WinsToResetLossCounter:           getEnvInt("WINS_TO_RESET_LOSS_COUNTER", 1),
			ReduceSizeAfterLosses:            getEnvBool("REDUCE_SIZE_AFTER_LOSSES", true),
		},

		WatchdogPolicy: watchdog.Policy{
			MaxDrawdownPercent:  getEnvDecimal("MAX_DRAWDOWN_PCT", decimal.NewFromInt(20)),
			MaxDailyLossPercent: getEnvDecimal("MAX_DAILY_LOSS_PCT", decimal.NewFromInt(10)),
		},

		AnalyticsEnabled: getEnvBool("ANALYTICS_ENABLED", false),
		AnalyticsDSN:     getEnv("ANALYTICS_DSN", ""),
		AnalyticsDriver:  getEnv("ANALYTICS_DRIVER", "sqlite"),

		PollIntervalCron: getEnv("CHANNEL_POLL_CRON", "@every 30s"),
	}

	cfg.ValidatorPolicy.Exchange = cfg.PrimaryExchange

	if chatID, ok := lookup("TELEGRAM_CHAT_ID"); ok {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}
	if userID, ok := lookup("TELEGRAM_USER_ID"); ok {
		id, err := strconv.ParseInt(userID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_USER_ID: %w", err)
		}
		cfg.TelegramUserID = id
	}

	cfg.Channels = parseChannels(getEnv("CHANNELS", ""))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseChannels reads CHANNELS="id1:name1:parser1,id2:name2:parser2".
func parseChannels(raw string) []ChannelConfig {
	if raw == "" {
		return nil
	}
	var out []ChannelConfig
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			continue
		}
		out = append(out, ChannelConfig{ChannelID: parts[0], ChannelName: parts[1], ParserName: parts[2]})
	}
	return out
}

func (c *Config) validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required")
	}
	if c.MTProtoAppID == 0 || c.MTProtoAppHash == "" {
		return fmt.Errorf("MTPROTO_APP_ID and MTPROTO_APP_HASH are required")
	}
	switch c.PrimaryExchange {
	case types.Binance, types.Bybit, types.Bitget:
	default:
		return fmt.Errorf("unknown PRIMARY_EXCHANGE %q", c.PrimaryExchange)
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("CHANNELS must configure at least one channel")
	}
	return nil
}

// lookup resolves one key through the full layering order spec §6 names:
// appsettings.json → appsettings.user.json → .env/environment, with later
// layers winning. godotenv.Load has already merged .env into the process
// environment, so os.Getenv alone covers the top two layers; fileLayer
// (populated once in Load) covers the two JSON layers beneath it.
func lookup(key string) (string, bool) {
	if value := os.Getenv(key); value != "" {
		return value, true
	}
	if value, ok := fileLayer[key]; ok && value != "" {
		return value, true
	}
	return "", false
}

func getEnv(key, defaultValue string) string {
	if value, ok := lookup(key); ok {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, ok := lookup(key); ok {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := lookup(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := lookup(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value, ok := lookup(key); ok {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
