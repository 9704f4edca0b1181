package listener

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// HealthChecker is implemented by a Listener-backed client that can report
// whether its push session is still alive.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// ChannelPoller is implemented by a Listener-backed client that can pull
// missed messages for one configured channel, used for the polling
// fallback spec §5 requires ("broadcast channels do not always deliver
// pushes, so the listener also polls every ~30s for new message ids").
type ChannelPoller interface {
	HealthChecker
	Channels() []ChannelConfig
	PollChannel(ctx context.Context, channelID string) (int, error)
}

// Poller runs a cron schedule (default ~30s, per spec §4.1/§5) that checks
// the MTProto session's health and re-polls every configured channel for
// messages the push path may have missed.
type Poller struct {
	cron    *cron.Cron
	checker ChannelPoller
	onDead  func()
}

// NewPoller schedules the health+history check at the given cron spec
// (e.g. "@every 30s").
func NewPoller(spec string, checker ChannelPoller, onDead func()) (*Poller, error) {
	c := cron.New()
	p := &Poller{cron: c, checker: checker, onDead: onDead}
	if _, err := c.AddFunc(spec, p.tick); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Poller) tick() {
	ctx := context.Background()
	if !p.checker.IsHealthy(ctx) {
		log.Warn().Msg("channel listener session appears unhealthy, notifying operator")
		if p.onDead != nil {
			p.onDead()
		}
		return
	}

	for _, ch := range p.checker.Channels() {
		n, err := p.checker.PollChannel(ctx, ch.ChannelID)
		if err != nil {
			log.Debug().Err(err).Str("channel", ch.ChannelName).Msg("channel poll skipped")
			continue
		}
		if n > 0 {
			log.Info().Int("count", n).Str("channel", ch.ChannelName).Msg("poll fallback delivered missed messages")
		}
	}
}

func (p *Poller) Start() { p.cron.Start() }
func (p *Poller) Stop()  { p.cron.Stop() }
