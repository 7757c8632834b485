package tcp

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/nitecon/director/internal/core"
	"github.com/nitecon/director/internal/session"
)

func TestPlane_Splice(t *testing.T) {
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer backendLn.Close()

	go func() {
		conn, err := backendLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn) // echo
	}()

	backendAddr := backendLn.Addr().(*net.TCPAddr)

	sessions := session.NewTable()
	dp := core.DataPortSpec{Port: 0, Protocol: core.ProtocolTCP, Name: "game"}
	plane := New(dp, sessions, nil)

	frontLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	plane.ln = frontLn

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for {
			conn, err := frontLn.Accept()
			if err != nil {
				return
			}
			go plane.handle(ctx, conn)
		}
	}()

	client, err := net.Dial("tcp", frontLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	source, ok := remoteAddrPort(client)
	if !ok {
		t.Fatal("could not derive source")
	}
	// Install the session under the *server's* view of the client's
	// address, i.e. client.LocalAddr(), before any bytes are sent.
	localAddr, _ := netip.AddrFromSlice(client.LocalAddr().(*net.TCPAddr).IP)
	key := core.SessionKey{
		Endpoint:   netip.AddrPortFrom(localAddr.Unmap(), uint16(client.LocalAddr().(*net.TCPAddr).Port)),
		Protocol:   core.ProtocolTCP,
		ListenPort: 0,
	}
	sessions.Upsert(key, core.Binding{Host: backendAddr.IP.String(), Ports: map[string]int32{"game": int32(backendAddr.Port)}})
	_ = source

	payload := bytes.Repeat([]byte{0xAB}, 1<<20) // 1 MiB
	client.SetDeadline(time.Now().Add(5 * time.Second))

	go client.Write(payload)

	received := make([]byte, len(payload))
	if _, err := io.ReadFull(client, received); err != nil {
		t.Fatal(err)
	}
	client.Close()

	if !bytes.Equal(received, payload) {
		t.Fatalf("got %d bytes back, want %d unchanged", len(received), len(payload))
	}
}

// TestPlane_TouchesSiblingSession verifies that when a connection is
// routed via the sibling-listen-port fallback (no Session exists at
// this listener's own SessionKey), the Session actually found on the
// other port is the one whose last_activity advances — not a no-op
// against a key with no row.
func TestPlane_TouchesSiblingSession(t *testing.T) {
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer backendLn.Close()
	go func() {
		conn, err := backendLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(io.Discard, conn)
	}()
	backendAddr := backendLn.Addr().(*net.TCPAddr)

	clock := time.Unix(1000, 0)
	sessions := session.NewTableWithClock(func() time.Time { return clock })

	dp := core.DataPortSpec{Port: 0, Protocol: core.ProtocolTCP, Name: "game"}
	plane := New(dp, sessions, nil)

	frontLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	plane.ln = frontLn

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for {
			conn, err := frontLn.Accept()
			if err != nil {
				return
			}
			go plane.handle(ctx, conn)
		}
	}()

	client, err := net.Dial("tcp", frontLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	localAddr, _ := netip.AddrFromSlice(client.LocalAddr().(*net.TCPAddr).IP)
	endpoint := netip.AddrPortFrom(localAddr.Unmap(), uint16(client.LocalAddr().(*net.TCPAddr).Port))

	// Install the Session on a *different* listen port than this
	// Plane's own (9999, not 0) — the query server's eager-install
	// case this Plane must fall back to via GetByEndpoint.
	siblingKey := core.SessionKey{Endpoint: endpoint, Protocol: core.ProtocolTCP, ListenPort: 9999}
	sess := sessions.Upsert(siblingKey, core.Binding{
		Host:  backendAddr.IP.String(),
		Ports: map[string]int32{"game": int32(backendAddr.Port)},
	})

	installedAt := sess.LastActivity()

	// Advance the clock well past touchBytes worth of traffic so the
	// splice loop's rate-limited touch fires, then send enough data.
	clock = clock.Add(time.Minute)
	payload := bytes.Repeat([]byte{0xCD}, touchBytes+1)
	client.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := client.Write(payload); err != nil {
		t.Fatal(err)
	}
	client.Close()

	// Give the splice goroutines a moment to observe EOF and invoke
	// the progress callback before the final close.
	time.Sleep(100 * time.Millisecond)

	if !sess.LastActivity().After(installedAt) {
		t.Fatal("expected sibling Session's last_activity to advance, but it did not")
	}
}
