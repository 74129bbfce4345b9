package integration

import (
	"context"
	"net"
	"time"
)

// ConnectivityReporter receives probe results.
type ConnectivityReporter interface {
	Report(online bool)
}

// NetworkProbe is an optional polling feed for hosts whose platform cannot
// push connectivity changes. It dials a well-known address on a timer and
// reports each outcome to a ConnectivityReporter. It lives outside the
// connectivity monitor, which only reacts to reports and never polls; the
// daemon starts a probe only when network.probe_addr is configured.
type NetworkProbe struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewNetworkProbe probes addr (for example 1.1.1.1:53) every interval.
func NewNetworkProbe(addr string, interval time.Duration) *NetworkProbe {
	d := &net.Dialer{}
	return &NetworkProbe{
		addr:     addr,
		interval: interval,
		timeout:  3 * time.Second,
		dial:     d.DialContext,
	}
}

// Check attempts one TCP dial.
func (p *NetworkProbe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	conn, err := p.dial(ctx, "tcp", p.addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Run reports a probe result immediately and then every interval until ctx
// is cancelled. The reporter suppresses repeats.
func (p *NetworkProbe) Run(ctx context.Context, r ConnectivityReporter) {
	r.Report(p.Check(ctx))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := p.Check(ctx)
			if ctx.Err() != nil {
				return
			}
			r.Report(online)
		}
	}
}
