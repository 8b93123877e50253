package broker

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mac-can/rocketcan-go/internal/transport"
	"github.com/mac-can/rocketcan-go/internal/wire"
)

func dialBroker(t *testing.T, b *Broker) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp4", b.Addr().String())
	if err != nil {
		t.Fatalf("dial broker: %v", err)
	}
	return conn
}

func sampleRecord(id uint32) wire.Record {
	return wire.Pack(wire.Fields{ID: id, Length: 0, CtrlChar: wire.ETX})
}

func TestBroker_StartStop(t *testing.T) {
	b, err := Start(0, transport.Tcp, nil, LogNone)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if err := b.Stop(); err == nil {
		t.Fatalf("second Stop() should fail, got nil")
	}
}

func TestBroker_EchoManyFrames(t *testing.T) {
	var received atomic.Int64
	b, err := Start(0, transport.Tcp, func(rec []byte) error {
		received.Add(1)
		return nil
	}, LogNone)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer b.Stop()

	conn := dialBroker(t, b)
	defer conn.Close()

	const n = 1000
	go func() {
		for i := 0; i < n; i++ {
			rec := sampleRecord(uint32(i))
			if err := transport.Send(conn, rec[:]); err != nil {
				return
			}
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && received.Load() < n {
		time.Sleep(2 * time.Millisecond)
	}
	if got := received.Load(); got != n {
		t.Fatalf("received %d frames, want %d", got, n)
	}
	stats := b.Stats()
	if stats.Received != n {
		t.Fatalf("Stats().Received = %d, want %d", stats.Received, n)
	}
}

func TestBroker_TwoClientFanOut(t *testing.T) {
	b, err := Start(0, transport.Tcp, nil, LogNone)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer b.Stop()

	c1 := dialBroker(t, b)
	defer c1.Close()
	c2 := dialBroker(t, b)
	defer c2.Close()

	// give the accept loop time to register both clients
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && b.reg.count() < 2 {
		time.Sleep(2 * time.Millisecond)
	}
	if got := b.reg.count(); got != 2 {
		t.Fatalf("registered clients = %d, want 2", got)
	}

	rec := sampleRecord(0x42)
	if err := b.Send(rec[:]); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	var wg sync.WaitGroup
	results := make([][]byte, 2)
	for i, c := range []net.Conn{c1, c2} {
		wg.Add(1)
		go func(i int, c net.Conn) {
			defer wg.Done()
			buf := make([]byte, wire.Size)
			if err := transport.Recv(c, buf); err != nil {
				t.Errorf("Recv() on client %d: %v", i, err)
				return
			}
			results[i] = buf
		}(i, c)
	}
	wg.Wait()

	for i, got := range results {
		if got == nil {
			continue
		}
		if !wire.IsValid(got) {
			t.Fatalf("client %d received an invalid record", i)
		}
	}
	if b.Stats().Sent != 1 {
		t.Fatalf("Stats().Sent = %d, want 1", b.Stats().Sent)
	}
}

func TestBroker_SendWithNoClientsCountsLost(t *testing.T) {
	b, err := Start(0, transport.Tcp, nil, LogNone)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer b.Stop()

	rec := sampleRecord(0x1)
	if err := b.Send(rec[:]); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	stats := b.Stats()
	if stats.Lost != 1 {
		t.Fatalf("Stats().Lost = %d, want 1", stats.Lost)
	}
	if stats.Sent != 0 {
		t.Fatalf("Stats().Sent = %d, want 0", stats.Sent)
	}
}

func TestBroker_SendAbort(t *testing.T) {
	b, err := Start(0, transport.Tcp, nil, LogNone)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer b.Stop()

	conn := dialBroker(t, b)
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && b.reg.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}

	if err := b.SendAbort(wire.StatReset); err != nil {
		t.Fatalf("SendAbort() error: %v", err)
	}
	buf := make([]byte, wire.Size)
	if err := transport.Recv(conn, buf); err != nil {
		t.Fatalf("Recv() error: %v", err)
	}
	if !wire.IsAbort(buf) {
		t.Fatalf("expected an abort record")
	}
}

func TestBroker_ClientShortReadDisconnects(t *testing.T) {
	b, err := Start(0, transport.Tcp, nil, LogNone)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer b.Stop()

	conn := dialBroker(t, b)
	defer conn.Close()
	if err := transport.Send(conn, make([]byte, 10)); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && b.reg.count() != 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if got := b.reg.count(); got != 0 {
		t.Fatalf("registered clients after disconnect = %d, want 0", got)
	}
}
