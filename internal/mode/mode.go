// Package mode holds the operating-mode singleton (spec §4.6), grounded on
// the teacher's bot/telegram.go SetControlCallbacks(onPause, onResume)
// pattern, generalized from two fixed callbacks to an arbitrary subscriber
// list over the spec's four-state enum.
package mode

import (
	"sync"

	"github.com/driftline/signalbot/internal/types"
)

// Subscriber is notified whenever the mode changes.
type Subscriber func(old, new types.OperatingMode)

// Controller owns the OperatingMode singleton with a mutex, passed
// explicitly to every component that needs it rather than imported as a
// module global (Design Notes §9).
type Controller struct {
	mu          sync.Mutex
	current     types.OperatingMode
	subscribers []Subscriber
}

func New() *Controller {
	return &Controller{current: types.ModeAutomatic}
}

func (c *Controller) Current() types.OperatingMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) Set(m types.OperatingMode) {
	c.mu.Lock()
	old := c.current
	c.current = m
	subs := append([]Subscriber(nil), c.subscribers...)
	c.mu.Unlock()

	if old == m {
		return
	}
	for _, sub := range subs {
		sub(old, m)
	}
}

func (c *Controller) Subscribe(s Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, s)
}

// CanAcceptNewSignals is true only in Automatic.
func (c *Controller) CanAcceptNewSignals() bool {
	return c.Current() == types.ModeAutomatic
}

// CanManagePositions is true in Automatic or MonitorOnly.
func (c *Controller) CanManagePositions() bool {
	m := c.Current()
	return m == types.ModeAutomatic || m == types.ModeMonitorOnly
}

// IsRunning is false only once EmergencyStop has been entered.
func (c *Controller) IsRunning() bool {
	return c.Current() != types.ModeEmergencyStop
}
