package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/nitecon/director/internal/transport/pipe"
)

// Bridge is the agent-side TCP-to-pipe relay that sits between the
// chisel tunnel client and the agent's reverse-proxy HTTP server. The
// chisel client only knows how to forward to a local TCP port, so
// Bridge listens on one and hands every accepted connection to the
// proxy's pipe.Listener via net.Pipe — the proxy itself never binds a
// real socket and is reachable only through whatever the director's
// tunnel forwards here.
//
// Bridge implements transport.Listener.
type Bridge struct {
	pipeListener *pipe.Listener
	tcpListener  net.Listener
	log          *slog.Logger
	wg           sync.WaitGroup
}

// NewBridge creates a Bridge that feeds connections into pl.
// It binds to an ephemeral localhost TCP port immediately so that
// Port() is available before Start is called.
func NewBridge(pl *pipe.Listener) (*Bridge, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("bridge listen: %w", err)
	}
	return &Bridge{
		pipeListener: pl,
		tcpListener:  ln,
		log:          slog.Default().With("component", "tunnel-bridge"),
	}, nil
}

// Port returns the TCP port the bridge is listening on. The chisel
// client's reverse remote (tunnel.Client.dial) forwards to this port.
func (b *Bridge) Port() int {
	return b.tcpListener.Addr().(*net.TCPAddr).Port
}

// Start accepts TCP connections and bridges them into the pipe
// listener. It blocks until ctx is cancelled or an unrecoverable
// error occurs.
func (b *Bridge) Start(ctx context.Context) error {
	b.log.Info("starting", "address", b.tcpListener.Addr().String())

	// Close the TCP listener when the context is done so that
	// Accept unblocks.
	go func() {
		<-ctx.Done()
		b.tcpListener.Close()
	}()

	for {
		tcpConn, err := b.tcpListener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			// Temporary errors (e.g. too many open files) are
			// retried; permanent errors stop the loop.
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				b.log.Warn("temporary accept error", "error", err)
				continue
			}
			return fmt.Errorf("bridge accept: %w", err)
		}

		b.wg.Add(1)
		go b.relay(tcpConn)
	}

	b.wg.Wait()
	return nil
}

// Stop gracefully shuts down the bridge. It closes the TCP listener
// and the pipe listener, then waits for in-flight relays to finish.
func (b *Bridge) Stop(_ context.Context) error {
	b.log.Info("shutting down")
	b.tcpListener.Close()
	b.pipeListener.Close()
	b.wg.Wait()
	return nil
}

// relay bridges one chisel-forwarded TCP connection to the reverse
// proxy's pipe listener: it dials the pipe to get the client end of a
// net.Pipe pair (handing the server end to the proxy's Accept), then
// copies data bidirectionally between that pair and the TCP side.
//
// When either copy direction finishes (typically because the HTTP
// handler closed its end of the pipe once the response was sent),
// both connections are closed so the other direction terminates too.
func (b *Bridge) relay(tcpConn net.Conn) {
	defer b.wg.Done()

	pipeConn, err := b.pipeListener.Dial()
	if err != nil {
		b.log.Debug("pipe dial failed, listener likely closed", "error", err)
		tcpConn.Close()
		return
	}

	done := make(chan error, 2)
	go func() {
		_, err := io.Copy(tcpConn, pipeConn) // proxy response -> tunnel
		done <- err
	}()
	go func() {
		_, err := io.Copy(pipeConn, tcpConn) // tunnel request -> proxy
		done <- err
	}()

	<-done // first direction done
	pipeConn.Close()
	tcpConn.Close()
	<-done // second direction done
}

// ErrBridgeRequired is returned when a Bridge is expected but nil.
var ErrBridgeRequired = errors.New("tunnel: bridge is required")
