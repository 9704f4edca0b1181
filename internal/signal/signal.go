// Package signal turns raw chat messages into TradingSignal instructions.
//
// A parser is identified by a stable name; Configuration maps each monitored
// channel to one parser name (core/router.go in the teacher does the same
// kind of channel→handler mapping for strategies). New wire formats are
// added by registering a new Parser, never by touching an existing one.
package signal

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/driftline/signalbot/internal/types"
)

// Source identifies where a raw message came from.
type Source struct {
	ChannelName string
	ChannelID   string
	MessageID   string
}

// TradingSignal is one parsed instruction, frozen after the validator runs.
type TradingSignal struct {
	ID        string
	Source    Source
	Symbol    string
	Direction types.Direction

	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	Targets    []decimal.Decimal
	Leverage   int

	// Populated by the validator; zero values until then.
	AdjustedStopLoss decimal.Decimal
	AdjustedLeverage int

	Valid  bool
	Reason string

	CreatedAt time.Time
}

// Result is the typed outcome of a parse attempt.
type Result struct {
	Signal *TradingSignal
	Err    error
}

// Ok wraps a parsed signal.
func Ok(s *TradingSignal) Result { return Result{Signal: s} }

// Err wraps a parse failure.
func Err(err error) Result { return Result{Err: err} }

// Parser turns message text into a TradingSignal or a typed failure.
// Implementations must be whitespace-tolerant and case-insensitive.
type Parser interface {
	// Name is the stable identifier used in the per-channel parser table.
	Name() string
	// Parse attempts to extract a signal. defaultLeverage is used when the
	// text carries no explicit leverage and the parser has no override of
	// its own.
	Parse(text string, src Source, defaultLeverage int) Result
}

// heuristicFilter rejects text that plainly isn't a trading signal before
// any parser bothers with it. Mirrors the teacher's cheap-check-before-work
// shape (e.g. BreakoutDetector's range guard in feeds/signals.go).
func heuristicFilter(text string) bool {
	if len(text) < 20 {
		return false
	}
	lower := strings.ToLower(text)
	hasEntry := strings.Contains(lower, "entry")
	hasStop := strings.Contains(lower, "stop") || strings.Contains(lower, "sl")
	hasTarget := strings.Contains(lower, "target") || strings.Contains(lower, "tp")
	return hasEntry && hasStop && hasTarget
}

// Registry maps channel parser names to Parser implementations and applies
// the heuristic pre-filter ahead of every parser.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds an empty registry; callers register parsers with Add.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Add registers a parser under its own Name().
func (r *Registry) Add(p Parser) {
	r.parsers[p.Name()] = p
}

// Parse looks up parserName and runs the heuristic filter, then the parser.
func (r *Registry) Parse(parserName, text string, src Source, defaultLeverage int) Result {
	p, ok := r.parsers[parserName]
	if !ok {
		return Err(ErrUnknownParser)
	}
	if !heuristicFilter(text) {
		return Err(ErrNotASignal)
	}
	res := p.Parse(text, src, defaultLeverage)
	if res.Signal != nil {
		res.Signal.ID = uuid.NewString()
		res.Signal.CreatedAt = time.Now()
	}
	return res
}
