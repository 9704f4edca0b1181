package signal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/driftline/signalbot/internal/types"
)

func testSource() Source {
	return Source{ChannelName: "alpha-calls", ChannelID: "-100123", MessageID: "42"}
}

func TestHashtagParser_HappyPath(t *testing.T) {
	text := `#BTC/USDT
Long
Entry: 100 - 100.4
SL: 95
Targets: 101, 102, 103, 104
Leverage: 10x`

	p := &HashtagParser{}
	res := p.Parse(text, testSource(), 5)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Signal)
	s := res.Signal
	require.Equal(t, "BTCUSDT", s.Symbol)
	require.Equal(t, types.Long, s.Direction)
	require.True(t, s.EntryPrice.Equal(decimalFromString(t, "100.2")))
	require.True(t, s.StopLoss.Equal(decimalFromString(t, "95")))
	require.Len(t, s.Targets, 4)
	require.Equal(t, 10, s.Leverage)
}

func TestHashtagParser_DefaultLeverage(t *testing.T) {
	text := `#ETH/USDT
Short
Entry: 3000
SL: 3100
Targets: 2900, 2800`
	p := &HashtagParser{}
	res := p.Parse(text, testSource(), 7)
	require.NoError(t, res.Err)
	require.Equal(t, 7, res.Signal.Leverage)
}

func TestHashtagParser_MissingTargets(t *testing.T) {
	text := `#BTC/USDT Long Entry: 100 SL: 95 Leverage: 10x this text is long enough to pass filter`
	p := &HashtagParser{}
	res := p.Parse(text, testSource(), 1)
	require.Error(t, res.Err)
}

func TestDollarParser_HappyPath(t *testing.T) {
	text := `SELL $ETH
Entry 3000
SL 3100
TP1 2900 TP2 2800 TP3 2700
Lev 5x`
	p := &DollarParser{}
	res := p.Parse(text, testSource(), 1)
	require.NoError(t, res.Err)
	s := res.Signal
	require.Equal(t, types.Short, s.Direction)
	require.Equal(t, "ETHUSDT", s.Symbol)
	require.Len(t, s.Targets, 3)
	require.Equal(t, 5, s.Leverage)
}

func TestRegistry_HeuristicFilterRejectsShortOrIncompleteText(t *testing.T) {
	r := NewRegistry()
	r.Add(&HashtagParser{})
	res := r.Parse("hashtag", "too short", testSource(), 1)
	require.ErrorIs(t, res.Err, ErrNotASignal)
}

func TestRegistry_UnknownParserName(t *testing.T) {
	r := NewRegistry()
	res := r.Parse("nonexistent", "entry stop target 1234567890123456789012345", testSource(), 1)
	require.ErrorIs(t, res.Err, ErrUnknownParser)
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	dec, err := parseDecimal(s)
	require.NoError(t, err)
	return dec
}
