package signal

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/types"
)

// DollarParser reads single- or multi-line messages shaped like:
//
//	BUY $BTC
//	Entry 100
//	SL 95
//	TP1 101 TP2 102 TP3 103
//	Lev 10x
//
// Unlike HashtagParser this format uses a leading BUY/SELL keyword rather
// than a bare long/short word, and a '$' sigil instead of '#'.
type DollarParser struct {
	DefaultLeverage int
}

var (
	dollarDirectionRe = regexp.MustCompile(`(?i)\b(buy|long|sell|short)\b`)
	dollarSymbolRe    = regexp.MustCompile(`\$\s*([A-Za-z0-9]{2,15})`)
	dollarEntryRe     = regexp.MustCompile(`(?i)entry\s*[:\-]?\s*([0-9][0-9,]*\.?[0-9]*)`)
	dollarStopRe      = regexp.MustCompile(`(?i)\b(?:sl|stop)\s*[:\-]?\s*([0-9][0-9,]*\.?[0-9]*)`)
	dollarTpRe        = regexp.MustCompile(`(?i)tp\s*[0-9]*\s*[:\-]?\s*([0-9][0-9,]*\.?[0-9]*)`)
	dollarLevRe       = regexp.MustCompile(`(?i)lev(?:erage)?\s*[:\-]?\s*([0-9]+)\s*x?`)
)

func (p *DollarParser) Name() string { return "dollar" }

func (p *DollarParser) Parse(text string, src Source, defaultLeverage int) Result {
	dirM := dollarDirectionRe.FindStringSubmatch(text)
	if dirM == nil {
		return Err(ErrInvalidDirection)
	}
	direction := types.Long
	switch strings.ToLower(dirM[1]) {
	case "sell", "short":
		direction = types.Short
	}

	symM := dollarSymbolRe.FindStringSubmatch(text)
	if symM == nil {
		return Err(ErrInvalidSymbol)
	}
	symbol := strings.ToUpper(symM[1])
	if !strings.HasSuffix(symbol, "USDT") && !strings.HasSuffix(symbol, "USDC") {
		symbol += "USDT"
	}

	entryM := dollarEntryRe.FindStringSubmatch(text)
	if entryM == nil {
		return Err(ErrInvalidEntry)
	}
	entry, err := parseDecimal(entryM[1])
	if err != nil {
		return Err(ErrInvalidEntry)
	}

	stopM := dollarStopRe.FindStringSubmatch(text)
	if stopM == nil {
		return Err(ErrInvalidStopLoss)
	}
	stop, err := parseDecimal(stopM[1])
	if err != nil {
		return Err(ErrInvalidStopLoss)
	}

	tpMatches := dollarTpRe.FindAllStringSubmatch(text, -1)
	if len(tpMatches) == 0 {
		return Err(ErrNoTargets)
	}
	targets := make([]decimal.Decimal, 0, len(tpMatches))
	for _, m := range tpMatches {
		d, err := parseDecimal(m[1])
		if err != nil {
			continue
		}
		targets = append(targets, d)
	}
	if len(targets) == 0 {
		return Err(ErrNoTargets)
	}

	leverage := defaultLeverage
	if p.DefaultLeverage > 0 {
		leverage = p.DefaultLeverage
	}
	if levM := dollarLevRe.FindStringSubmatch(text); levM != nil {
		if lv, err := strconv.Atoi(levM[1]); err == nil && lv > 0 {
			leverage = lv
		}
	}
	if leverage <= 0 {
		leverage = 1
	}

	return Ok(&TradingSignal{
		Source:     src,
		Symbol:     symbol,
		Direction:  direction,
		EntryPrice: entry,
		StopLoss:   stop,
		Targets:    targets,
		Leverage:   leverage,
	})
}
