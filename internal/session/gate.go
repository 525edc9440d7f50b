package session

import (
	"context"
	"log/slog"
	"time"
)

// Connector is the slice of the connection manager the gate drives.
type Connector interface {
	Connect(token string)
	Disconnect()
	Active() bool
}

// Gate is the single authority on whether a realtime connection should
// exist. It is level-triggered: every pass compares desired state (a valid
// token is present) against actual state (a channel is active), so a missed
// login or logout event self-corrects within one interval.
type Gate struct {
	store    Store
	manager  Connector
	interval time.Duration
	log      *slog.Logger
	kick     chan struct{}
}

func NewGate(store Store, manager Connector, interval time.Duration, log *slog.Logger) *Gate {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Gate{
		store:    store,
		manager:  manager,
		interval: interval,
		log:      log,
		kick:     make(chan struct{}, 1),
	}
}

// Kick forces an immediate reconcile, for focus-regained style triggers.
func (g *Gate) Kick() {
	select {
	case g.kick <- struct{}{}:
	default:
	}
}

// Run reconciles on mount, then on every tick, session change and Kick
// until ctx ends. The channel is torn down on exit so logout and shutdown
// behave the same: no connection survives the gate.
func (g *Gate) Run(ctx context.Context) {
	watch := g.store.Watch(ctx)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.Reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			g.manager.Disconnect()
			return
		case <-ticker.C:
		case _, ok := <-watch:
			if !ok {
				watch = nil
				continue
			}
		case <-g.kick:
		}
		g.Reconcile(ctx)
	}
}

// Reconcile applies the policy once: valid token and no channel, connect;
// no valid token and a channel, disconnect.
func (g *Gate) Reconcile(ctx context.Context) {
	tok, ok := g.store.Token(ctx)
	valid := ok && TokenValid(tok)
	active := g.manager.Active()

	switch {
	case valid && !active:
		g.log.Debug("gate: token present, opening channel")
		g.manager.Connect(tok)
	case !valid && active:
		g.log.Info("gate: no valid token, closing channel")
		g.manager.Disconnect()
	}
}
