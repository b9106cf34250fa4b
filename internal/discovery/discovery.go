// Package discovery finds other daemons on the local network over UDP.
//
// A scan broadcasts a probe datagram; every responder answers with its
// protocol version and instance id. The scanner drops the answer of its
// own daemon.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"vawter.tech/stopper"

	"github.com/axondata/go-svcd"
)

// Defaults
const (
	DefaultPort        = 8124
	DefaultScanTimeout = 2 * time.Second
	maxDatagram        = 1024
	stopGrace          = 500 * time.Millisecond
)

// probeMagic identifies probe datagrams
const probeMagic = "svcd-scan"

// probe is sent by the scanner
type probe struct {
	Magic string    `json:"magic"`
	UID   uuid.UUID `json:"uid"`
}

// Reply is sent by the responder
type Reply struct {
	Version int       `json:"version"`
	UID     uuid.UUID `json:"uid"`
}

// Responder answers probes on a UDP socket
type Responder struct {
	uid  uuid.UUID
	log  zerolog.Logger
	conn net.PacketConn
	sctx *stopper.Context
}

// Listen opens addr and starts answering probes until Stop or ctx is done
func Listen(ctx context.Context, addr string, uid uuid.UUID, log zerolog.Logger) (*Responder, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery listen on %s: %w", addr, err)
	}
	r := &Responder{uid: uid, log: log, conn: conn}
	r.sctx = stopper.WithContext(ctx)
	r.sctx.Defer(func() { _ = conn.Close() })
	r.sctx.Go(func(sctx *stopper.Context) error {
		// closing the socket unblocks ReadFrom
		go func() {
			<-sctx.Stopping()
			_ = conn.Close()
		}()
		return r.serve(sctx)
	})
	log.Info().Str("listen", conn.LocalAddr().String()).Msg("discovery responder listening")
	return r, nil
}

// Addr returns the bound address
func (r *Responder) Addr() net.Addr {
	return r.conn.LocalAddr()
}

func (r *Responder) serve(sctx *stopper.Context) error {
	buf := make([]byte, maxDatagram)
	reply, err := json.Marshal(Reply{Version: svcd.ProtocolVersion, UID: r.uid})
	if err != nil {
		return err
	}
	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if sctx.IsStopping() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		var p probe
		if err := json.Unmarshal(buf[:n], &p); err != nil || p.Magic != probeMagic {
			r.log.Debug().Str("from", from.String()).Msg("ignoring malformed probe")
			continue
		}
		if _, err := r.conn.WriteTo(reply, from); err != nil {
			r.log.Warn().Err(err).Str("to", from.String()).Msg("discovery reply failed")
		}
	}
}

// Stop closes the socket and joins the loop
func (r *Responder) Stop() error {
	r.sctx.Stop(stopGrace)
	return r.sctx.Wait()
}

// Scanner broadcasts probes and collects replies. It implements
// svcd.Scanner.
type Scanner struct {
	// Targets are the addresses probed, usually broadcast addresses
	Targets []string
	// Timeout is how long replies are collected
	Timeout time.Duration

	uid uuid.UUID
	log zerolog.Logger
}

// NewScanner probes the limited broadcast address on port. uid is the local
// daemon's instance id, whose replies are dropped.
func NewScanner(port int, uid uuid.UUID, timeout time.Duration, log zerolog.Logger) *Scanner {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	return &Scanner{
		Targets: []string{fmt.Sprintf("255.255.255.255:%d", port)},
		Timeout: timeout,
		uid:     uid,
		log:     log,
	}
}

// Scan sends one probe to every target and returns the distinct daemons
// that answered within the timeout, ordered by arrival
func (s *Scanner) Scan(ctx context.Context) ([]svcd.FoundHostEvent, error) {
	conn, err := listenBroadcast()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	payload, err := json.Marshal(probe{Magic: probeMagic, UID: s.uid})
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(s.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	var (
		seen  = make(map[uuid.UUID]bool)
		found []svcd.FoundHostEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var errs svcd.MultiError
		for _, target := range s.Targets {
			addr, err := net.ResolveUDPAddr("udp", target)
			if err != nil {
				errs.Add(err)
				continue
			}
			if _, err := conn.WriteTo(payload, addr); err != nil {
				errs.Add(fmt.Errorf("probing %s: %w", target, err))
			}
		}
		if len(errs.Errors) == len(s.Targets) {
			return errs.Err()
		}
		for _, err := range errs.Errors {
			s.log.Warn().Err(err).Msg("discovery probe failed")
		}
		return nil
	})
	g.Go(func() error {
		go func() {
			<-gctx.Done()
			_ = conn.SetReadDeadline(time.Now())
		}()
		buf := make([]byte, maxDatagram)
		for {
			n, from, err := conn.ReadFrom(buf)
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					return nil
				}
				return err
			}
			var r Reply
			if err := json.Unmarshal(buf[:n], &r); err != nil || r.UID == uuid.Nil {
				continue
			}
			if r.UID == s.uid {
				continue
			}
			if !seen[r.UID] {
				seen[r.UID] = true
				found = append(found, svcd.FoundHostEvent{Host: hostOf(from), Version: r.Version})
			}
		}
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

func hostOf(addr net.Addr) string {
	if u, ok := addr.(*net.UDPAddr); ok {
		return u.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// listenBroadcast opens an ephemeral IPv4 socket. The runtime enables
// SO_BROADCAST on datagram sockets.
func listenBroadcast() (net.PacketConn, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("discovery scan socket: %w", err)
	}
	return conn, nil
}
