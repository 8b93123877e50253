// Package broker implements the RocketCAN broker core: a listening
// endpoint, N concurrent client sockets, a background accept/receive
// worker per client, synchronized fan-out writes, per-client error
// handling and statistics — grounded on the reference ipc_server
// module and adapted from the teacher's internal/hub + internal/server
// (mutex-guarded client set, goroutine-per-connection reactor), but
// reworked for RocketCAN's synchronous, ordered fan-out contract rather
// than the teacher's buffered-channel broadcast.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mac-can/rocketcan-go/internal/logging"
	"github.com/mac-can/rocketcan-go/internal/metrics"
	"github.com/mac-can/rocketcan-go/internal/transport"
	"github.com/mac-can/rocketcan-go/internal/wire"
)

// RecvFunc is invoked with a single validated-length wire record read
// from a client; returning an error counts the record as lost. This is
// the broker's callback into the embedding application, which is
// expected to CRC-verify, translate (internal/canframe) and hand the
// frame to its CAN driver's write call — all of that lives outside the
// broker core, per the CAN-driver-is-an-external-collaborator contract.
type RecvFunc func(record []byte) error

// Broker is the running broker core: an opaque handle returned by
// Start. The zero value is not usable.
type Broker struct {
	port     uint16
	listener net.Listener
	reg      *registry
	recvCB   RecvFunc
	log      *eventLog
	logger   *slog.Logger

	sent     atomic.Uint64
	received atomic.Uint64
	lost     atomic.Uint64

	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	stopOnce sync.Once
	stopped  atomic.Bool
}

// Start brings the broker from Stopped to Running: opens the
// ipc_<port>.log file if logging is enabled, creates the listener,
// and spawns the accept loop. Any setup failure rolls back every
// resource opened so far and returns a nil handle plus a wrapped error.
func Start(port uint16, sockType transport.SockType, recvCB RecvFunc, level Level) (*Broker, error) {
	ln, err := transport.Listen(port, sockType)
	if err != nil {
		return nil, err
	}
	elog, err := newEventLog(port, level)
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("%w: opening log file: %v", transport.ErrIO, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		port:      port,
		listener:  ln,
		reg:       newRegistry(),
		recvCB:    recvCB,
		log:       elog,
		logger:    logging.L().With("component", "broker", "port", port),
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	socketKind := "TCP"
	if sockType != transport.Tcp {
		socketKind = "unsupported"
	}
	b.log.info("+++ IPC Server on port %d using %s with mtu size %d +++", port, socketKind, wire.Size)
	b.logger.Info("listening", "addr", ln.Addr().String())

	b.wg.Add(1)
	go b.acceptLoop()
	return b, nil
}

func (b *Broker) acceptLoop() {
	defer b.wg.Done()
	go func() { <-b.ctx.Done(); _ = b.listener.Close() }()
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			select {
			case <-b.ctx.Done():
				return
			default:
			}
			b.log.errorf("accept failed: %v", err)
			b.logger.Warn("accept_failed", "error", err)
			return
		}
		c := &client{id: uuid.New(), conn: conn, addr: conn.RemoteAddr().String()}
		b.reg.add(c)
		metrics.SetActiveClients(b.reg.count())
		b.log.info("New connection from %s on socket %s", c.addr, c.id)
		b.logger.Info("client_connected", "conn_id", c.id, "remote", c.addr)

		b.wg.Add(1)
		go b.serveClient(c)
	}
}

// serveClient is the per-connection receive dispatch, generalized from
// one shared select-based fd set into one goroutine per connection.
func (b *Broker) serveClient(c *client) {
	defer b.wg.Done()
	buf := make([]byte, wire.Size)
	for {
		err := transport.Recv(c.conn, buf)
		if err != nil {
			b.disconnect(c, err)
			return
		}
		b.received.Add(1)
		metrics.IncReceived()
		b.log.recv(len(buf))
		b.log.data(0, buf)

		if b.recvCB == nil {
			continue
		}
		record := make([]byte, wire.Size)
		copy(record, buf)
		if err := b.recvCB(record); err != nil {
			b.lost.Add(1)
			metrics.AddLost(1)
			b.log.errorf("callback failed for socket %s: %v", c.id, err)
			b.logger.Debug("recv_callback_error", "conn_id", c.id, "error", err)
		}
	}
}

func (b *Broker) disconnect(c *client, cause error) {
	b.reg.remove(c.id)
	_ = c.conn.Close()
	metrics.SetActiveClients(b.reg.count())
	switch {
	case errors.Is(cause, transport.ErrNoData):
		b.log.info("Socket %s hung up", c.id)
		b.logger.Info("client_disconnected", "conn_id", c.id)
	case errors.Is(cause, transport.ErrBadMessage):
		b.log.errorf("bad message on socket %s: %v", c.id, cause)
		b.logger.Warn("client_bad_message", "conn_id", c.id, "error", cause)
	default:
		b.log.errorf("connection reset by peer on socket %s: %v", c.id, cause)
		b.logger.Warn("client_reset", "conn_id", c.id, "error", cause)
	}
}

// Send fans a wire record out to every connected client. It is called
// only by the single bus-side producer; ordering across and within
// clients therefore falls out of the caller's own serialization, with
// no extra lock required beyond the registry's (which only ever guards
// the client-set snapshot, never the per-client writes).
func (b *Broker) Send(record []byte) error {
	if b.stopped.Load() {
		return ErrNotRunning
	}
	if len(record) == 0 {
		return ErrInvalidArgument
	}
	clients := b.reg.snapshot()
	if len(clients) == 0 {
		b.lost.Add(1)
		metrics.AddLost(1)
		if b.log.level >= LogData {
			b.log.info("lost %d bytes (no client connected)", len(record))
		}
		return nil
	}
	delivered := false
	for _, c := range clients {
		if err := transport.Send(c.conn, record); err != nil {
			b.log.errorf("send failed on socket %s: %v", c.id, err)
			b.logger.Debug("send_failed", "conn_id", c.id, "error", err)
			continue
		}
		delivered = true
		b.log.sent(len(record))
		b.log.data(1, record)
	}
	if delivered {
		b.sent.Add(1)
		metrics.IncSent()
	}
	return nil
}

// SendAbort builds a canonical abort record overlaid with status and
// fans it out. It does not wait for clients to acknowledge.
func (b *Broker) SendAbort(status byte) error {
	now := time.Now()
	rec := wire.MakeAbort(uint64(now.Unix()), uint64(now.Nanosecond())).WithStatus(status)
	metrics.IncAbortSent()
	return b.Send(rec[:])
}

// Stop cancels the accept loop, closes every client and the listener,
// writes the session summary to the log, and releases the log file.
func (b *Broker) Stop() error {
	if !b.stopped.CompareAndSwap(false, true) {
		return ErrNotRunning
	}
	b.stopOnce.Do(func() {
		b.cancel()
		_ = b.listener.Close()
		for _, c := range b.reg.snapshot() {
			_ = c.conn.Close()
			b.reg.remove(c.id)
		}
		b.wg.Wait()

		elapsed := time.Since(b.startedAt).Seconds()
		b.log.info("sent=%d received=%d lost=%d elapsed=%.3fs",
			b.sent.Load(), b.received.Load(), b.lost.Load(), elapsed)
		b.logger.Info("shutdown_summary",
			"sent", b.sent.Load(), "received", b.received.Load(), "lost", b.lost.Load(),
			"elapsed_seconds", elapsed)
		b.log.close()
	})
	return nil
}

// Stats is a point-in-time copy of the broker's session counters.
type Stats struct {
	Sent     uint64
	Received uint64
	Lost     uint64
	Clients  int
}

// Stats returns the broker's current counters.
func (b *Broker) Stats() Stats {
	return Stats{
		Sent:     b.sent.Load(),
		Received: b.received.Load(),
		Lost:     b.lost.Load(),
		Clients:  b.reg.count(),
	}
}

// Addr returns the bound listener address (useful when Start was called
// with port 0 for ephemeral allocation in tests).
func (b *Broker) Addr() net.Addr { return b.listener.Addr() }
