package watch

import (
	"context"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultProbeInterval = 10 * time.Second
	probeDialTimeout     = 3 * time.Second
)

// NetGate tracks connectivity by periodically dialing the API host, and
// carries an application-set visibility flag (the headless analog of a
// backgrounded page). Both default to true until told otherwise.
type NetGate struct {
	probeAddr string
	interval  time.Duration
	logger    *zap.Logger
	online    atomic.Bool
	visible   atomic.Bool
}

// NewNetGate builds a gate probing the host of baseURL. An empty or
// unparseable baseURL disables probing and leaves the gate permanently
// online.
func NewNetGate(baseURL string, logger *zap.Logger) *NetGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	gate := &NetGate{
		probeAddr: probeAddr(baseURL),
		interval:  defaultProbeInterval,
		logger:    logger,
	}
	gate.online.Store(true)
	gate.visible.Store(true)
	return gate
}

// Online reports the last observed connectivity state.
func (g *NetGate) Online() bool {
	return g.online.Load()
}

// Visible reports whether the application considers itself foregrounded.
func (g *NetGate) Visible() bool {
	return g.visible.Load()
}

// SetOnline overrides the connectivity flag.
func (g *NetGate) SetOnline(online bool) {
	g.online.Store(online)
}

// SetVisible flips the visibility flag.
func (g *NetGate) SetVisible(visible bool) {
	g.visible.Store(visible)
}

// Run probes connectivity until the context is canceled. It is a no-op when
// no probe address could be derived.
func (g *NetGate) Run(ctx context.Context) {
	if g.probeAddr == "" {
		return
	}
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.probe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.probe()
		}
	}
}

func (g *NetGate) probe() {
	conn, err := net.DialTimeout("tcp", g.probeAddr, probeDialTimeout)
	if err != nil {
		if g.online.CompareAndSwap(true, false) {
			g.logger.Info("connectivity lost", zap.String("probe", g.probeAddr))
		}
		return
	}
	_ = conn.Close()
	if g.online.CompareAndSwap(false, true) {
		g.logger.Info("connectivity restored", zap.String("probe", g.probeAddr))
	}
}

func probeAddr(baseURL string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	if parsed.Port() != "" {
		return parsed.Host
	}
	switch parsed.Scheme {
	case "http":
		return net.JoinHostPort(parsed.Hostname(), "80")
	default:
		return net.JoinHostPort(parsed.Hostname(), "443")
	}
}
