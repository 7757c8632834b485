// Package udp implements the UDP Data Plane: per configured UDP port,
// a single socket that demultiplexes control packets (in-band token
// rebind) from data datagrams, forwards data to the bound backend, and
// relays backend replies back to the originating client through a
// pool of per-client backend sockets, one dedicated connected socket
// per client source endpoint.
//
// Grounded in shape on transport/tunnel.Bridge's relay goroutine
// pattern, generalized from a single 1:1 TCP pair to a pool of
// per-source UDP sockets redialed in place on rebind.
package udp

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"

	"github.com/nitecon/director/internal/core"
	"github.com/nitecon/director/internal/session"
	"github.com/nitecon/director/internal/transport"
)

// TokenConsumer resolves the tokens carried in control packets.
type TokenConsumer interface {
	Get(token core.Token) (core.Binding, error)
	Invalidate(token core.Token)
}

// maxDatagramSize bounds a single UDP read.
const maxDatagramSize = 64 * 1024

// Plane is a transport.Listener for one configured UDP data port.
type Plane struct {
	port     core.DataPortSpec
	magic    []byte
	tokens   TokenConsumer
	sessions *session.Table
	fallback core.DefaultResolver
	log      *slog.Logger

	conn *net.UDPConn

	mu   sync.Mutex
	pool map[netip.AddrPort]*backendSocket // client source -> socket
}

// backendSocket is a connected UDP socket dedicated to one client
// source endpoint, dialed to that client's currently bound backend.
// Keying the pool by client source (rather than by backend host:port)
// is what makes reply demultiplexing unambiguous: two clients bound to
// the same backend host:port never share a socket, so a reply read
// off a socket always belongs to that socket's one client. On rebind,
// the socket is redialed to the new backend in place; its identity
// (and read goroutine) is preserved.
type backendSocket struct {
	mu   sync.Mutex
	conn *net.UDPConn
	host string
	port int32
}

// New returns a Plane serving the given DataPortSpec. fallback may be
// nil, meaning no default endpoint is configured.
func New(port core.DataPortSpec, magic []byte, tokens TokenConsumer, sessions *session.Table, fallback core.DefaultResolver) *Plane {
	return &Plane{
		port:     port,
		magic:    magic,
		tokens:   tokens,
		sessions: sessions,
		fallback: fallback,
		log:      slog.Default().With("component", "udp-dataplane", "port", port.Port),
		pool:     make(map[netip.AddrPort]*backendSocket),
	}
}

var _ transport.Listener = (*Plane)(nil)

// Start binds the listen socket and processes datagrams until ctx is
// cancelled.
func (p *Plane) Start(ctx context.Context) error {
	addr := &net.UDPAddr{Port: p.port.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	p.conn = conn
	p.log.Info("udp data plane listening")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		go p.handle(ctx, src, datagram)
	}
}

// Stop closes the listen socket and every pooled backend socket.
func (p *Plane) Stop(ctx context.Context) error {
	if p.conn != nil {
		p.conn.Close()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.pool {
		b.mu.Lock()
		if b.conn != nil {
			b.conn.Close()
		}
		b.mu.Unlock()
	}
	return nil
}

func (p *Plane) handle(ctx context.Context, src netip.AddrPort, datagram []byte) {
	if p.isControlPacket(datagram) {
		p.handleControl(src, datagram[len(p.magic):])
		return
	}
	p.handleData(ctx, src, datagram)
}

// isControlPacket reports whether datagram begins with the configured
// magic prefix. A prefix match marks the whole datagram as a control
// packet regardless of whether its suffix turns out to be a valid
// token — it must never fall through to the data path (§4.6 numeric
// rules).
func (p *Plane) isControlPacket(datagram []byte) bool {
	return len(datagram) >= len(p.magic) && bytes.Equal(datagram[:len(p.magic)], p.magic)
}

// handleControl consumes a control packet: malformed token shape or
// unknown/expired token both drop the datagram with any existing
// Session left untouched; a valid, live token rebinds the Session
// keyed by (src, UDP, listen_port).
func (p *Plane) handleControl(src netip.AddrPort, suffix []byte) {
	token, ok := core.ParseToken(string(suffix))
	if !ok {
		p.log.Warn("control packet with malformed token", "source", src)
		return
	}

	binding, err := p.tokens.Get(token)
	if err != nil {
		p.log.Warn("control packet with unknown or expired token", "source", src)
		return
	}

	key := core.SessionKey{Endpoint: src, Protocol: core.ProtocolUDP, ListenPort: p.port.Port}
	p.sessions.Upsert(key, binding)
}

func (p *Plane) handleData(ctx context.Context, src netip.AddrPort, datagram []byte) {
	binding, sess, ok := p.resolveBinding(ctx, src)
	if !ok {
		return
	}

	backendPort, ok := binding.Ports[p.port.Name]
	if !ok {
		p.log.Warn("binding has no port for this listener", "name", p.port.Name)
		return
	}

	sock, err := p.backendSocket(src, binding.Host, backendPort)
	if err != nil {
		p.log.Warn("dial backend failed", "error", err)
		return
	}

	if err := sock.write(datagram); err != nil {
		p.log.Warn("write to backend failed", "error", err)
		return
	}

	if sess != nil {
		p.sessions.TouchSession(sess)
	}
}

// resolveBinding implements the fallback chain: exact (source, UDP,
// listen_port) key, then any Session for source on a sibling listen
// port (eager install by the Query Server), then the configured
// default endpoint re-selected live, else absent (drop). The returned
// *session.Session is the row that was actually matched — nil when
// the binding came from the fallback resolver — so callers touch the
// Session they really found rather than re-deriving (and missing) it
// from the current listener's own key.
func (p *Plane) resolveBinding(ctx context.Context, src netip.AddrPort) (core.Binding, *session.Session, bool) {
	key := core.SessionKey{Endpoint: src, Protocol: core.ProtocolUDP, ListenPort: p.port.Port}
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

// backendSocket returns source's dedicated backend socket, dialing it
// on first use and redialing in place (preserving the socket's pool
// identity) whenever the client's current binding points at a
// different (host, port) than the socket's last dial — this is how a
// rebind takes effect on the return path without disturbing any other
// client's socket.
func (p *Plane) backendSocket(source netip.AddrPort, host string, port int32) (*backendSocket, error) {
	p.mu.Lock()
	sock, ok := p.pool[source]
	if !ok {
		sock = &backendSocket{}
		p.pool[source] = sock
	}
	p.mu.Unlock()

	sock.mu.Lock()
	defer sock.mu.Unlock()

	if sock.conn != nil && sock.host == host && sock.port == port {
		return sock, nil
	}

	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, err
	}

	if sock.conn != nil {
		sock.conn.Close()
	}
	sock.conn = conn
	sock.host = host
	sock.port = port

	go p.relayReplies(source, conn)
	return sock, nil
}

// write sends datagram on sock's currently dialed backend connection.
func (s *backendSocket) write(datagram []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	_, err := conn.Write(datagram)
	return err
}

// relayReplies reads backend replies off conn, a socket dedicated to
// source, and forwards each one back to source, touching its Session.
// It returns once conn is closed, whether by Stop or by a redial that
// superseded it.
func (p *Plane) relayReplies(source netip.AddrPort, conn *net.UDPConn) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		if _, err := p.conn.WriteToUDPAddrPort(buf[:n], source); err != nil {
			p.log.Warn("write to client failed", "error", err)
			continue
		}
		p.touchSource(source)
	}
}

// touchSource finds source's Session the same way resolveBinding does
// (exact key, then sibling-listen-port fallback) and touches whichever
// one it finds. It is a no-op if source has no Session at all (its
// traffic is being relayed purely via the default-endpoint fallback).
func (p *Plane) touchSource(source netip.AddrPort) {
	key := core.SessionKey{Endpoint: source, Protocol: core.ProtocolUDP, ListenPort: p.port.Port}
	if sess := p.sessions.GetOrNone(key); sess != nil {
		p.sessions.TouchSession(sess)
		return
	}
	if sess := p.sessions.GetByEndpoint(key); sess != nil {
		p.sessions.TouchSession(sess)
	}
}
