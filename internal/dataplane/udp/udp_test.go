package udp

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/nitecon/director/internal/core"
	"github.com/nitecon/director/internal/providers/cache"
	"github.com/nitecon/director/internal/session"
)

var testMagic = []byte{0xFF, 0xFF, 0xFF, 0xFF, 'R', 'E', 'S', 'E', 'T'}

// echoBackend starts a UDP echo server and returns its port.
func echoBackend(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			conn.WriteToUDP(buf[:n], src)
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func newTestPlane(t *testing.T, sessions *session.Table, tokens TokenConsumer) (*Plane, *net.UDPConn) {
	t.Helper()
	dp := core.DataPortSpec{Port: 0, Protocol: core.ProtocolUDP, Name: "game"}
	p := New(dp, testMagic, tokens, sessions, nil)

	ln, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		t.Fatal(err)
	}
	p.conn = ln
	t.Cleanup(func() { ln.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		buf := make([]byte, maxDatagramSize)
		for {
			n, src, err := ln.ReadFromUDPAddrPort(buf)
			if err != nil {
				return
			}
			datagram := make([]byte, n)
			copy(datagram, buf[:n])
			go p.handle(ctx, src, datagram)
		}
	}()

	return p, ln
}

// TestPlane_DataForwardedToSessionBackend covers a client with an
// existing Session whose datagrams are forwarded and echoed back.
func TestPlane_DataForwardedToSessionBackend(t *testing.T) {
	backendPort := echoBackend(t)

	sessions := session.NewTable()
	tokens := cache.NewTokenCache(cache.DefaultTokenTTL)
	plane, ln := newTestPlane(t, sessions, tokens)

	client, err := net.DialUDP("udp", nil, ln.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	clientAddr, ok := netip.AddrFromSlice(client.LocalAddr().(*net.UDPAddr).IP)
	if !ok {
		t.Fatal("bad client addr")
	}
	source := netip.AddrPortFrom(clientAddr.Unmap(), uint16(client.LocalAddr().(*net.UDPAddr).Port))

	key := core.SessionKey{Endpoint: source, Protocol: core.ProtocolUDP, ListenPort: plane.port.Port}
	sessions.Upsert(key, core.Binding{Host: "127.0.0.1", Ports: map[string]int32{"game": int32(backendPort)}})

	client.SetDeadline(time.Now().Add(3 * time.Second))
	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 16)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q, want %q", buf[:n], "hello")
	}
}

// TestPlane_ControlPacketRebinds covers in-band rebind: a control
// packet carrying a valid token atomically rebinds the Session to a
// new backend, and the following data datagram goes to the new one.
func TestPlane_ControlPacketRebinds(t *testing.T) {
	oldBackendPort := echoBackend(t)
	newBackendPort := echoBackend(t)

	sessions := session.NewTable()
	tokens := cache.NewTokenCache(cache.DefaultTokenTTL)
	plane, ln := newTestPlane(t, sessions, tokens)

	client, err := net.DialUDP("udp", nil, ln.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	clientAddr, _ := netip.AddrFromSlice(client.LocalAddr().(*net.UDPAddr).IP)
	source := netip.AddrPortFrom(clientAddr.Unmap(), uint16(client.LocalAddr().(*net.UDPAddr).Port))
	key := core.SessionKey{Endpoint: source, Protocol: core.ProtocolUDP, ListenPort: plane.port.Port}
	sessions.Upsert(key, core.Binding{Host: "127.0.0.1", Ports: map[string]int32{"game": int32(oldBackendPort)}})

	newBinding := core.Binding{Host: "127.0.0.1", Ports: map[string]int32{"game": int32(newBackendPort)}}
	token := tokens.Put(newBinding)

	client.SetDeadline(time.Now().Add(3 * time.Second))
	control := append(append([]byte{}, testMagic...), []byte(token)...)
	if _, err := client.Write(control); err != nil {
		t.Fatal(err)
	}

	// Give the control packet time to be processed; no response is
	// sent for a control packet, so poll the Session instead of
	// reading a reply.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sessions.GetOrNone(key).Binding().Host == newBinding.Host &&
			sessions.GetOrNone(key).Binding().Ports["game"] == newBinding.Ports["game"] {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := sessions.GetOrNone(key).Binding(); got.Ports["game"] != int32(newBackendPort) {
		t.Fatalf("session not rebound: got port %d, want %d", got.Ports["game"], newBackendPort)
	}

	if _, err := tokens.Get(token); err != nil {
		t.Fatal("token should remain usable until its TTL elapses")
	}

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("got %q, want %q", buf[:n], "ping")
	}
}

// TestPlane_ExpiredTokenLeavesSessionUntouched covers a control
// packet whose token has already expired: it is dropped, and any
// existing Session is left exactly as it was.
func TestPlane_ExpiredTokenLeavesSessionUntouched(t *testing.T) {
	backendPort := echoBackend(t)

	fixedNow := time.Now()
	clock := func() time.Time { return fixedNow }

	sessions := session.NewTableWithClock(clock)
	tokens := cache.NewTokenCache(1 * time.Millisecond).WithClock(clock)
	plane, ln := newTestPlane(t, sessions, tokens)

	client, err := net.DialUDP("udp", nil, ln.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	clientAddr, _ := netip.AddrFromSlice(client.LocalAddr().(*net.UDPAddr).IP)
	source := netip.AddrPortFrom(clientAddr.Unmap(), uint16(client.LocalAddr().(*net.UDPAddr).Port))
	key := core.SessionKey{Endpoint: source, Protocol: core.ProtocolUDP, ListenPort: plane.port.Port}
	original := core.Binding{Host: "127.0.0.1", Ports: map[string]int32{"game": int32(backendPort)}}
	sessions.Upsert(key, original)

	token := tokens.Put(core.Binding{Host: "127.0.0.1", Ports: map[string]int32{"game": 9999}})
	fixedNow = fixedNow.Add(10 * time.Millisecond) // token now expired

	client.SetDeadline(time.Now().Add(2 * time.Second))
	control := append(append([]byte{}, testMagic...), []byte(token)...)
	if _, err := client.Write(control); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	got := sessions.GetOrNone(key).Binding()
	if got.Ports["game"] != original.Ports["game"] {
		t.Fatalf("session changed after expired token: got port %d, want unchanged %d", got.Ports["game"], original.Ports["game"])
	}
}

// TestPlane_TouchesSiblingSession covers the eager-install case: a
// Session exists for this client's endpoint but on a different
// listen port (installed by the query server ahead of time), so
// handleData resolves it via GetByEndpoint rather than the exact key.
// The Session that was actually found must be the one touched.
func TestPlane_TouchesSiblingSession(t *testing.T) {
	backendPort := echoBackend(t)

	clock := time.Now()
	sessions := session.NewTableWithClock(func() time.Time { return clock })
	tokens := cache.NewTokenCache(cache.DefaultTokenTTL)
	plane, ln := newTestPlane(t, sessions, tokens)

	client, err := net.DialUDP("udp", nil, ln.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	clientAddr, ok := netip.AddrFromSlice(client.LocalAddr().(*net.UDPAddr).IP)
	if !ok {
		t.Fatal("bad client addr")
	}
	source := netip.AddrPortFrom(clientAddr.Unmap(), uint16(client.LocalAddr().(*net.UDPAddr).Port))

	// Installed on a sibling listen port (9999), not plane.port.Port (0).
	siblingKey := core.SessionKey{Endpoint: source, Protocol: core.ProtocolUDP, ListenPort: 9999}
	sess := sessions.Upsert(siblingKey, core.Binding{Host: "127.0.0.1", Ports: map[string]int32{"game": int32(backendPort)}})
	installedAt := sess.LastActivity()

	clock = clock.Add(time.Minute)

	client.SetDeadline(time.Now().Add(3 * time.Second))
	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	if _, err := client.Read(buf); err != nil {
		t.Fatal(err)
	}

	// The reply path also touches asynchronously; give it a moment.
	time.Sleep(50 * time.Millisecond)

	if !sess.LastActivity().After(installedAt) {
		t.Fatal("expected sibling Session's last_activity to advance, but it did not")
	}
}

func TestIsControlPacket_WithoutMagicIsData(t *testing.T) {
	p := New(core.DataPortSpec{Port: 0, Protocol: core.ProtocolUDP, Name: "game"}, testMagic, nil, session.NewTable(), nil)
	if p.isControlPacket([]byte("just some game data")) {
		t.Fatal("non-magic-prefixed datagram misidentified as control packet")
	}
}

func TestIsControlPacket_MagicPrefixMalformedSuffixStillControl(t *testing.T) {
	p := New(core.DataPortSpec{Port: 0, Protocol: core.ProtocolUDP, Name: "game"}, testMagic, nil, session.NewTable(), nil)
	datagram := append(append([]byte{}, testMagic...), []byte("not-a-valid-token")...)
	if !p.isControlPacket(datagram) {
		t.Fatal("magic-prefixed datagram with malformed suffix must still be classified as a control packet")
	}
}
