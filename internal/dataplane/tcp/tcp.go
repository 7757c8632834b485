// Package tcp implements the TCP Data Plane: per configured TCP port,
// an accepting socket that resolves a Session for each incoming
// connection, dials the bound backend, and splices bytes in both
// directions until either side closes.
//
// Directly grounded on transport/tunnel.Bridge.relay, generalized from
// a fixed pipe-listener target to a per-connection Session lookup and
// dial.
package tcp

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/nitecon/director/internal/core"
	"github.com/nitecon/director/internal/session"
	"github.com/nitecon/director/internal/transport"
)

// dialTimeout bounds how long a backend dial may take before the
// client connection is closed.
const dialTimeout = 5 * time.Second

// touchBytes rate-limits Session.Touch calls on the hot splice path
// to avoid lock contention: at most once per this many bytes copied.
const touchBytes = 64 * 1024

// Plane is a transport.Listener for one configured TCP data port.
type Plane struct {
	port     core.DataPortSpec
	sessions *session.Table
	fallback core.DefaultResolver
	log      *slog.Logger

	ln net.Listener
}

// New returns a Plane serving the given DataPortSpec. fallback may be
// nil, meaning no default endpoint is configured.
func New(port core.DataPortSpec, sessions *session.Table, fallback core.DefaultResolver) *Plane {
	return &Plane{
		port:     port,
		sessions: sessions,
		fallback: fallback,
		log:      slog.Default().With("component", "tcp-dataplane", "port", port.Port),
	}
}

var _ transport.Listener = (*Plane)(nil)

// Start binds the listen socket and accepts connections until ctx is
// cancelled.
func (p *Plane) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", portAddr(p.port.Port))
	if err != nil {
		return err
	}
	p.ln = ln
	p.log.Info("tcp data plane listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go p.handle(ctx, conn)
	}
}

// Stop closes the listen socket, unblocking Accept.
func (p *Plane) Stop(ctx context.Context) error {
	if p.ln != nil {
		return p.ln.Close()
	}
	return nil
}

func (p *Plane) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	source, ok := remoteAddrPort(conn)
	if !ok {
		return
	}

	binding, sess, ok := p.resolveBinding(ctx, source)
	if !ok {
		p.log.Warn("no session for source, closing", "source", source)
		return
	}

	backendPort, ok := binding.Ports[p.port.Name]
	if !ok {
		p.log.Warn("binding has no port for this listener", "name", p.port.Name)
		return
	}

	backendConn, err := net.DialTimeout("tcp", portAddr2(binding.Host, int(backendPort)), dialTimeout)
	if err != nil {
		p.log.Warn("dial backend failed", "error", err)
		return
	}
	defer backendConn.Close()

	splice(conn, backendConn, func() { p.touchRateLimited(sess) })
}

// resolveBinding implements the fallback chain: exact (source, TCP,
// listen_port) key, then any Session for source regardless of listen
// port (eager install on a sibling port), then the configured default
// endpoint re-selected live, else absent. The returned *session.Session
// is the row actually matched — nil when the binding came from the
// fallback resolver — so the caller touches the Session it really
// found instead of re-deriving (and missing) it from the current
// listener's own key.
func (p *Plane) resolveBinding(ctx context.Context, source netip.AddrPort) (core.Binding, *session.Session, bool) {
	key := core.SessionKey{Endpoint: source, Protocol: core.ProtocolTCP, ListenPort: p.port.Port}
	if sess := p.sessions.GetOrNone(key); sess != nil {
		return sess.Binding(), sess, true
	}
	if sess := p.sessions.GetByEndpoint(key); sess != nil {
		return sess.Binding(), sess, true
	}
	if p.fallback == nil {
		return core.Binding{}, nil, false
	}
	binding, ok, err := p.fallback.Resolve(ctx)
	if err != nil || !ok {
		return core.Binding{}, nil, false
	}
	return binding, nil, true
}

// touchRateLimited updates sess's last_activity, called at a bounded
// cadence from the splice loop. sess is nil when the connection was
// routed purely via the default-endpoint fallback (no Session exists
// to touch).
func (p *Plane) touchRateLimited(sess *session.Session) {
	if sess != nil {
		p.sessions.TouchSession(sess)
	}
}

// splice copies bytes in both directions until either side closes or
// errors, then closes both. onProgress is invoked at a bounded cadence
// (every touchBytes copied), not on every byte, to keep the hot path
// free of Session Table lock contention.
func splice(a, b net.Conn, onProgress func()) {
	errc := make(chan error, 2)
	go func() { errc <- copyTouched(a, b, onProgress) }()
	go func() { errc <- copyTouched(b, a, onProgress) }()

	<-errc
	a.Close()
	b.Close()
	<-errc
}

func copyTouched(dst, src net.Conn, onProgress func()) error {
	buf := make([]byte, 32*1024)
	var sinceTouch int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			sinceTouch += int64(n)
			if sinceTouch >= touchBytes {
				onProgress()
				sinceTouch = 0
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func remoteAddrPort(conn net.Conn) (netip.AddrPort, bool) {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	addr, ok := netip.AddrFromSlice(tcpAddr.IP)
	if !ok {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(tcpAddr.Port)), true
}

func portAddr(port int) string {
	return net.JoinHostPort("", strconv.Itoa(port))
}

func portAddr2(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
