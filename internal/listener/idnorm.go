package listener

import "strings"

// normalizeChannelID strips the "-100" bot-API supergroup/channel prefix so
// a channel ID configured either way (bot-API style "-1001234567890" or
// bare MTProto style "1234567890") compares equal. MTProto's tg.PeerChannel
// always carries the bare form.
func normalizeChannelID(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "-100")
	raw = strings.TrimPrefix(raw, "-")
	return raw
}
