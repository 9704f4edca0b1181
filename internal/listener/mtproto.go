package listener

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog/log"

	"github.com/driftline/signalbot/internal/signal"
)

// MTProtoConfig configures the user-account Telegram session and the set of
// channels it should report posts from.
type MTProtoConfig struct {
	AppID           int
	AppHash         string
	SessionFilePath string
	Channels        []ChannelConfig
}

// DialogInfo is one channel the logged-in account belongs to, as reported
// by ListDialogs and searched by ResolveChannelID.
type DialogInfo struct {
	ChannelID string
	Title     string
}

// MTProtoListener is a Listener backed by a single gotd/td user session.
// The session file must already be authorized before Start — this type only
// consumes updates, it never drives the login flow itself.
type MTProtoListener struct {
	cfg    MTProtoConfig
	client *telegram.Client
	byID   map[string]ChannelConfig
	msgCh  chan RawMessage
	cancel context.CancelFunc
	wg     sync.WaitGroup

	dedupMu    sync.Mutex
	lastSeenID map[string]int // normalized channel id -> highest message id delivered

	hashMu     sync.Mutex
	accessHash map[string]int64 // normalized channel id -> access hash, learned from updates/dialogs
}

// NewMTProtoListener builds the gotd/td client with a file-backed session
// and an update dispatcher scoped to new-channel-message events.
func NewMTProtoListener(cfg MTProtoConfig) *MTProtoListener {
	byID := make(map[string]ChannelConfig, len(cfg.Channels))
	for _, c := range cfg.Channels {
		byID[normalizeChannelID(c.ChannelID)] = c
	}

	l := &MTProtoListener{
		cfg:        cfg,
		byID:       byID,
		msgCh:      make(chan RawMessage, 64),
		lastSeenID: make(map[string]int),
		accessHash: make(map[string]int64),
	}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(l.handleNewChannelMessage)

	l.client = telegram.NewClient(cfg.AppID, cfg.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionFilePath},
		UpdateHandler:  dispatcher,
	})
	return l
}

// deliver pushes a raw message onto msgCh if its message id is newer than
// the highest one already delivered for that channel — the dedupe rule
// spec §6 requires ("must deduplicate by message id"), since both the push
// path and the poll-fallback path can observe the same post.
func (l *MTProtoListener) deliver(channelID string, msgID int, raw RawMessage) bool {
	norm := normalizeChannelID(channelID)

	l.dedupMu.Lock()
	seen, ok := l.lastSeenID[norm]
	if ok && msgID <= seen {
		l.dedupMu.Unlock()
		return false
	}
	l.lastSeenID[norm] = msgID
	l.dedupMu.Unlock()

	select {
	case l.msgCh <- raw:
		return true
	default:
		log.Warn().Str("channel", raw.Config.ChannelName).Msg("listener buffer full, dropping message")
		return false
	}
}

func (l *MTProtoListener) handleNewChannelMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
	msg, ok := u.Message.(*tg.Message)
	if !ok || msg.Message == "" {
		return nil
	}
	peer, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return nil
	}

	id := strconv.FormatInt(peer.ChannelID, 10)
	if ch, ok := e.Channels[peer.ChannelID]; ok {
		l.hashMu.Lock()
		l.accessHash[normalizeChannelID(id)] = ch.AccessHash
		l.hashMu.Unlock()
	}

	cfg, known := l.byID[normalizeChannelID(id)]
	if !known {
		return nil
	}

	l.deliver(id, msg.ID, RawMessage{
		Source: signal.Source{ChannelName: cfg.ChannelName, ChannelID: id, MessageID: strconv.Itoa(msg.ID)},
		Text:   msg.Message,
		Config: cfg,
	})
	return nil
}

// Start authenticates the stored session and begins streaming updates.
func (l *MTProtoListener) Start(ctx context.Context) (<-chan RawMessage, error) {
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := l.client.Run(runCtx, func(ctx context.Context) error {
			status, err := l.client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("auth status: %w", err)
			}
			if !status.Authorized {
				return fmt.Errorf("mtproto session at %s is not authorized; run the one-time login flow first", l.cfg.SessionFilePath)
			}
			log.Info().Int("channels", len(l.cfg.Channels)).Msg("mtproto listener authorized and streaming updates")
			<-ctx.Done()
			return nil
		})
		if err != nil && runCtx.Err() == nil {
			log.Error().Err(err).Msg("mtproto listener stopped unexpectedly")
		}
		close(l.msgCh)
	}()

	return l.msgCh, nil
}

// Stop cancels the background session loop and waits for it to exit.
func (l *MTProtoListener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

// IsHealthy implements listener.HealthChecker for the cron-driven Poller.
func (l *MTProtoListener) IsHealthy(ctx context.Context) bool {
	status, err := l.client.Auth().Status(ctx)
	if err != nil {
		return false
	}
	return status.Authorized
}

// ListDialogs reports every channel the logged-in account belongs to
// (spec §6: "list dialogs"), called once at boot to warm the access-hash
// cache that PollChannel needs.
func (l *MTProtoListener) ListDialogs(ctx context.Context) ([]DialogInfo, error) {
	api := l.client.API()
	resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	})
	if err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}

	var chats []tg.ChatClass
	switch d := resp.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	}

	out := make([]DialogInfo, 0, len(chats))
	for _, c := range chats {
		ch, ok := c.(*tg.Channel)
		if !ok {
			continue
		}
		id := strconv.FormatInt(ch.ID, 10)
		l.hashMu.Lock()
		l.accessHash[normalizeChannelID(id)] = ch.AccessHash
		l.hashMu.Unlock()
		out = append(out, DialogInfo{ChannelID: id, Title: ch.Title})
	}
	return out, nil
}

// ResolveChannelID finds the channel id for a given display name among the
// account's dialogs (spec §6: "resolve channel name → channel id").
func (l *MTProtoListener) ResolveChannelID(ctx context.Context, name string) (string, error) {
	dialogs, err := l.ListDialogs(ctx)
	if err != nil {
		return "", err
	}
	for _, d := range dialogs {
		if d.Title == name {
			return d.ChannelID, nil
		}
	}
	return "", fmt.Errorf("no channel named %q among the account's dialogs", name)
}

// PollChannel fetches messages newer than the last one delivered for
// channelID and re-enters them into the ingestion pipeline (spec §5: "the
// listener also polls every ~30s for new message ids and re-enters the
// pipeline", compensating for broadcast channels that don't always push).
// Returns the number of new messages delivered. The channel's access hash
// must already be known, learned from a prior push update or ListDialogs —
// callers should run ListDialogs once at boot to warm the cache.
func (l *MTProtoListener) PollChannel(ctx context.Context, channelID string) (int, error) {
	cfg, known := l.byID[normalizeChannelID(channelID)]
	if !known {
		return 0, fmt.Errorf("channel %s is not in the configured parser table", channelID)
	}
	id, err := strconv.ParseInt(normalizeChannelID(channelID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing channel id: %w", err)
	}
	l.hashMu.Lock()
	accessHash, known := l.accessHash[normalizeChannelID(channelID)]
	l.hashMu.Unlock()
	if !known {
		return 0, fmt.Errorf("no access hash cached for channel %s yet; run ListDialogs first", cfg.ChannelName)
	}

	api := l.client.API()
	resp, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerChannel{ChannelID: id, AccessHash: accessHash},
		Limit: 50,
	})
	if err != nil {
		return 0, fmt.Errorf("get history for %s: %w", cfg.ChannelName, err)
	}

	var msgs []tg.MessageClass
	switch m := resp.(type) {
	case *tg.MessagesChannelMessages:
		msgs = m.Messages
	case *tg.MessagesMessages:
		msgs = m.Messages
	case *tg.MessagesMessagesSlice:
		msgs = m.Messages
	}

	delivered := 0
	// History is returned newest-first; deliver oldest-first so downstream
	// message-id ordering (spec §5) is preserved.
	for i := len(msgs) - 1; i >= 0; i-- {
		msg, ok := msgs[i].(*tg.Message)
		if !ok || msg.Message == "" {
			continue
		}
		raw := RawMessage{
			Source: signal.Source{ChannelName: cfg.ChannelName, ChannelID: channelID, MessageID: strconv.Itoa(msg.ID)},
			Text:   msg.Message,
			Config: cfg,
		}
		if l.deliver(channelID, msg.ID, raw) {
			delivered++
		}
	}
	return delivered, nil
}

// Channels exposes the configured channel table for the cron poller.
func (l *MTProtoListener) Channels() []ChannelConfig {
	return l.cfg.Channels
}
