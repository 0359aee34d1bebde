// Package probe performs bounded-time reachability checks.
//
// # Probe Order
//
// The primary probe is an ICMP echo with the configured timeout. When it
// fails and TCP fallback is enabled, each configured port is tried in
// order with the same timeout; the first successful connect classifies the
// device as reachable. A port's individual connect error is swallowed and
// the next port tried.
//
// # Privileges
//
// Raw ICMP sockets need CAP_NET_RAW (or root). The prober first tries a
// raw socket and falls back to an unprivileged datagram ICMP socket, which
// works on Linux when net.ipv4.ping_group_range allows it.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/uptrack-net/uptrack/pkg/types"
)

// Result is the outcome of one reachability check.
type Result struct {
	Reachable bool
	RTT       time.Duration
	// Method records which probe established reachability: "icmp" or
	// "tcp:<port>". Empty on failure.
	Method string
}

// Prober classifies a device address as reachable or not within the
// timeout carried by the options snapshot.
type Prober interface {
	Probe(ctx context.Context, ip string, opts types.MonitorOptions) (Result, error)
}

// PingProber is the production Prober: ICMP echo first, optional TCP
// connect fallback.
type PingProber struct {
	logger *slog.Logger
	dialer *net.Dialer
}

// NewPingProber creates a prober.
func NewPingProber(logger *slog.Logger) *PingProber {
	if logger == nil {
		logger = slog.Default()
	}
	return &PingProber{
		logger: logger.With("component", "probe"),
		dialer: &net.Dialer{},
	}
}

// Probe runs the primary ICMP probe and, per the options, the TCP
// fallback. The returned error is diagnostic only; callers classify the
// device by Result.Reachable.
func (p *PingProber) Probe(ctx context.Context, ip string, opts types.MonitorOptions) (Result, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return Result{}, fmt.Errorf("invalid ip address %q", ip)
	}

	timeout := opts.PingTimeout()

	rtt, icmpErr := pingOnce(ctx, addr, timeout)
	if icmpErr == nil {
		return Result{Reachable: true, RTT: rtt, Method: "icmp"}, nil
	}

	if opts.TCPFallbackEnabled && len(opts.TCPFallbackPorts) > 0 {
		if port, rtt, ok := p.tcpFallback(ctx, ip, opts.TCPFallbackPorts, timeout); ok {
			return Result{Reachable: true, RTT: rtt, Method: fmt.Sprintf("tcp:%d", port)}, nil
		}
	}

	return Result{}, fmt.Errorf("icmp probe failed: %w", icmpErr)
}

// tcpFallback tries each port in order; first successful connect wins.
func (p *PingProber) tcpFallback(ctx context.Context, ip string, ports []int, timeout time.Duration) (int, time.Duration, bool) {
	for _, port := range ports {
		select {
		case <-ctx.Done():
			return 0, 0, false
		default:
		}

		rtt, err := p.checkPort(ctx, ip, port, timeout)
		if err != nil {
			p.logger.Debug("tcp fallback port failed", "ip", ip, "port", port, "error", err)
			continue
		}
		return port, rtt, true
	}
	return 0, 0, false
}

// checkPort attempts a single TCP connect bounded by timeout.
func (p *PingProber) checkPort(ctx context.Context, ip string, port int, timeout time.Duration) (time.Duration, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := p.dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(ip, fmt.Sprintf("%d", port)))
	if err != nil {
		return 0, err
	}
	conn.Close()
	return time.Since(start), nil
}
