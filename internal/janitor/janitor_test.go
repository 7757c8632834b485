package janitor

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/nitecon/director/internal/core"
	"github.com/nitecon/director/internal/session"
)

// TestSessionSweeper_IdleEviction verifies that a session idle past
// sessionTimeout is gone after the sweeper's next tick, and a
// subsequent lookup for that source finds nothing.
func TestSessionSweeper_IdleEviction(t *testing.T) {
	fixedNow := time.Now()
	clock := func() time.Time { return fixedNow }

	sessions := session.NewTableWithClock(clock)
	key := core.SessionKey{
		Endpoint:   netip.MustParseAddrPort("10.0.0.1:5555"),
		Protocol:   core.ProtocolUDP,
		ListenPort: 7000,
	}
	sessions.Upsert(key, core.Binding{Host: "10.0.0.9", Ports: map[string]int32{"game": 7777}})

	fixedNow = fixedNow.Add(3 * time.Second) // idle past a 2s timeout

	sweeper := NewSessionSweeper(sessions, 2*time.Second, 10*time.Millisecond).WithClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sessions.GetOrNone(key) == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if sessions.GetOrNone(key) != nil {
		t.Fatal("session should have been swept after idle timeout")
	}
}

func TestSessionSweeper_KeepsActiveSessions(t *testing.T) {
	fixedNow := time.Now()
	clock := func() time.Time { return fixedNow }

	sessions := session.NewTableWithClock(clock)
	key := core.SessionKey{
		Endpoint:   netip.MustParseAddrPort("10.0.0.1:5555"),
		Protocol:   core.ProtocolUDP,
		ListenPort: 7000,
	}
	sessions.Upsert(key, core.Binding{Host: "10.0.0.9", Ports: map[string]int32{"game": 7777}})

	sweeper := NewSessionSweeper(sessions, 2*time.Second, 10*time.Millisecond).WithClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if sessions.GetOrNone(key) == nil {
		t.Fatal("an active session must not be swept")
	}
}

type fakeTokenEvictor struct {
	started chan time.Duration
}

func (f *fakeTokenEvictor) StartEvictionLoop(ctx context.Context, interval time.Duration) {
	f.started <- interval
	<-ctx.Done()
}

func TestTokenSweeper_DelegatesToEvictor(t *testing.T) {
	fake := &fakeTokenEvictor{started: make(chan time.Duration, 1)}
	sweeper := NewTokenSweeper(fake, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Start(ctx) }()

	select {
	case interval := <-fake.started:
		if interval != 5*time.Second {
			t.Fatalf("got interval %v, want 5s", interval)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("evictor never started")
	}

	cancel()
	<-done
}
