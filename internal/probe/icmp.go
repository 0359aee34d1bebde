package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// IANA protocol numbers for parsing received ICMP messages.
const (
	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

// pingOnce sends a single ICMP echo request to addr and waits up to
// timeout for the matching reply. Returns the round-trip time on success.
func pingOnce(ctx context.Context, addr net.IP, timeout time.Duration) (time.Duration, error) {
	v4 := addr.To4() != nil

	conn, useUDP, err := listenICMP(v4)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	// Unblock the read when the caller cancels mid-probe.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	id := os.Getpid() & 0xffff
	seq := int(time.Now().UnixNano() & 0xffff)

	var echoType icmp.Type = ipv4.ICMPTypeEcho
	proto := protocolICMP
	if !v4 {
		echoType = ipv6.ICMPTypeEchoRequest
		proto = protocolIPv6ICMP
	}

	msg := icmp.Message{
		Type: echoType,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  seq,
			Data: []byte("uptrack-reachability-probe"),
		},
	}
	payload, err := msg.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("marshaling echo request: %w", err)
	}

	var dst net.Addr = &net.IPAddr{IP: addr}
	if useUDP {
		dst = &net.UDPAddr{IP: addr}
	}

	start := time.Now()
	if _, err := conn.WriteTo(payload, dst); err != nil {
		return 0, fmt.Errorf("sending echo request: %w", err)
	}
	if err := conn.SetReadDeadline(start.Add(timeout)); err != nil {
		return 0, fmt.Errorf("setting read deadline: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, fmt.Errorf("awaiting echo reply: %w", err)
		}

		reply, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil {
			continue
		}
		if !isEchoReply(reply.Type, v4) {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq {
			continue
		}
		// Datagram sockets rewrite the id, so it only disambiguates on
		// raw sockets.
		if !useUDP && echo.ID != id {
			continue
		}
		if !peerMatches(peer, addr) {
			continue
		}
		return time.Since(start), nil
	}
}

// listenICMP opens an ICMP listener, preferring a raw socket and falling
// back to an unprivileged datagram socket. The second return reports
// whether the datagram (UDP-framed) mode is in use.
func listenICMP(v4 bool) (*icmp.PacketConn, bool, error) {
	network, wildcard := "ip4:icmp", "0.0.0.0"
	udpNetwork := "udp4"
	if !v4 {
		network, wildcard = "ip6:ipv6-icmp", "::"
		udpNetwork = "udp6"
	}

	conn, err := icmp.ListenPacket(network, wildcard)
	if err == nil {
		return conn, false, nil
	}

	conn, uerr := icmp.ListenPacket(udpNetwork, wildcard)
	if uerr == nil {
		return conn, true, nil
	}
	return nil, false, fmt.Errorf("opening icmp socket: raw: %v, datagram: %w", err, uerr)
}

func isEchoReply(t icmp.Type, v4 bool) bool {
	if v4 {
		return t == ipv4.ICMPTypeEchoReply
	}
	return t == ipv6.ICMPTypeEchoReply
}

// peerMatches compares the reply's source address against the probed one.
func peerMatches(peer net.Addr, addr net.IP) bool {
	switch p := peer.(type) {
	case *net.IPAddr:
		return p.IP.Equal(addr)
	case *net.UDPAddr:
		return p.IP.Equal(addr)
	default:
		return false
	}
}
