// Package listener ingests raw messages from monitored Telegram channels
// and hands them to internal/signal's Registry (spec §4.1: channel
// ingress). The implementation is MTProto (gotd/td), not the Bot API,
// because reading arbitrary channels as a listener — not as an admin bot
// added to them — requires a full user-account session; see DESIGN.md for
// why no Bot-API library in the pack can do this.
package listener

import (
	"context"

	"github.com/driftline/signalbot/internal/signal"
)

// ChannelConfig maps one monitored channel to the parser that understands
// its wire format, mirroring Configuration's per-channel parser table
// (spec §3).
type ChannelConfig struct {
	ChannelID   string
	ChannelName string
	ParserName  string
}

// RawMessage is one ingested channel post, not yet parsed.
type RawMessage struct {
	Source signal.Source
	Text   string
	Config ChannelConfig
}

// Listener streams RawMessages from every configured channel.
type Listener interface {
	Start(ctx context.Context) (<-chan RawMessage, error)
	Stop()
}
