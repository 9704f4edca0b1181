package signal

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/types"
)

// HashtagParser reads messages shaped like:
//
//	#BTC/USDT
//	Long
//	Entry: 100 - 100.4
//	SL: 95
//	Targets: 101, 102, 103, 104
//	Leverage: 10x
//
// Field order is not significant; each line is matched independently.
type HashtagParser struct {
	DefaultLeverage int
}

var (
	hashSymbolRe = regexp.MustCompile(`(?i)#\s*([A-Z0-9]{2,15})\s*/?\s*(USDT|USDC|USD)?`)
	directionRe  = regexp.MustCompile(`(?i)\b(long|buy|short|sell)\b`)
	entryRe      = regexp.MustCompile(`(?i)entry\s*[:\-]?\s*([0-9][0-9,]*\.?[0-9]*)\s*(?:-|to|–)?\s*([0-9][0-9,]*\.?[0-9]*)?`)
	stopRe       = regexp.MustCompile(`(?i)(?:stop\s*loss|stop|sl)\s*[:\-]?\s*([0-9][0-9,]*\.?[0-9]*)`)
	targetsRe    = regexp.MustCompile(`(?i)(?:targets?|tp)\s*[:\-]?\s*([0-9.,\s\-]+)`)
	leverageRe   = regexp.MustCompile(`(?i)leverage\s*[:\-]?\s*([0-9]+)\s*x?`)
	numberRe     = regexp.MustCompile(`[0-9]+\.?[0-9]*`)
)

func (p *HashtagParser) Name() string { return "hashtag" }

func (p *HashtagParser) Parse(text string, src Source, defaultLeverage int) Result {
	symM := hashSymbolRe.FindStringSubmatch(text)
	if symM == nil {
		return Err(ErrInvalidSymbol)
	}
	quote := symM[2]
	if quote == "" {
		quote = "USDT"
	}
	symbol := strings.ToUpper(symM[1]) + quote

	dirM := directionRe.FindStringSubmatch(text)
	if dirM == nil {
		return Err(ErrInvalidDirection)
	}
	direction := types.Long
	switch strings.ToLower(dirM[1]) {
	case "short", "sell":
		direction = types.Short
	}

	entryM := entryRe.FindStringSubmatch(text)
	if entryM == nil || entryM[1] == "" {
		return Err(ErrInvalidEntry)
	}
	entry, err := parseDecimal(entryM[1])
	if err != nil {
		return Err(ErrInvalidEntry)
	}
	if entryM[2] != "" {
		if second, err2 := parseDecimal(entryM[2]); err2 == nil {
			entry = entry.Add(second).Div(decimal.NewFromInt(2))
		}
	}

	stopM := stopRe.FindStringSubmatch(text)
	if stopM == nil {
		return Err(ErrInvalidStopLoss)
	}
	stop, err := parseDecimal(stopM[1])
	if err != nil {
		return Err(ErrInvalidStopLoss)
	}

	targetsM := targetsRe.FindStringSubmatch(text)
	if targetsM == nil {
		return Err(ErrNoTargets)
	}
	rawTargets := numberRe.FindAllString(targetsM[1], -1)
	if len(rawTargets) == 0 {
		return Err(ErrNoTargets)
	}
	targets := make([]decimal.Decimal, 0, len(rawTargets))
	for _, t := range rawTargets {
		d, err := parseDecimal(t)
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
	if levM := leverageRe.FindStringSubmatch(text); levM != nil {
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

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	return decimal.NewFromString(s)
}
