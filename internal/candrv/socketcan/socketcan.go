// Package socketcan is a demo candrv.Driver backed by the Linux
// SocketCAN interface, adapted from the teacher's internal/socketcan
// (raw AF_CAN via golang.org/x/sys/unix) but reworked on top of
// github.com/brutella/can's callback-based Bus, following the wrapper
// shape samsamfire-gocanopen's pkg/can/socketcan uses to adapt the same
// library to a pull-style driver interface.
package socketcan

import (
	"context"
	"fmt"
	"sync"
	"time"

	sockcan "github.com/brutella/can"

	"github.com/mac-can/rocketcan-go/internal/candrv"
	"github.com/mac-can/rocketcan-go/internal/canframe"
)

// bus is the subset of *sockcan.Bus the driver needs, narrowed to an
// interface so tests can substitute a fake in place of a real
// SocketCAN network interface — the same Dev-interface-for-testability
// pattern the teacher uses in internal/socketcan/txwriter.go.
type bus interface {
	ConnectAndPublish() error
	Disconnect() error
	Publish(sockcan.Frame) error
	Subscribe(sockcan.Handler)
}

// Driver wraps a single SocketCAN network interface (e.g. "can0").
// brutella/can only models classic CAN frames (8-byte payload); FD
// frames are rejected by Write.
type Driver struct {
	iface string
	bus   bus

	mu      sync.Mutex
	started bool
	stopped bool

	rx     chan canframe.Frame
	sig    chan struct{}
	status struct {
		sync.Mutex
		lost uint32
	}
}

// Open binds to the named SocketCAN interface without yet joining the
// bus; call Start to begin receiving and transmitting.
func Open(iface string) (*Driver, error) {
	b, err := sockcan.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, fmt.Errorf("candrv/socketcan: open %s: %w", iface, err)
	}
	return newDriver(iface, b), nil
}

// newDriver wires a Driver around any bus implementation, real or
// fake, and subscribes it for received frames.
func newDriver(iface string, b bus) *Driver {
	d := &Driver{
		iface: iface,
		bus:   b,
		rx:    make(chan canframe.Frame, 256),
		sig:   make(chan struct{}, 1),
	}
	b.Subscribe(d)
	return d
}

// Start joins the bus. SocketCAN's bit-rate and listen-only mode are
// configured at the interface level (ip link set canX type can bitrate
// ... [listen-only on]) rather than by the application, so mode and
// nominalBitrate/dataBitrate are accepted only for contract symmetry
// with other drivers and otherwise ignored; CAN FD framing is rejected
// at Write time instead, since brutella/can cannot carry it.
func (d *Driver) Start(mode candrv.Mode, nominalBitrate, dataBitrate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("candrv/socketcan: %s already started", d.iface)
	}
	go func() { _ = d.bus.ConnectAndPublish() }()
	d.started = true
	return nil
}

// Handle implements brutella/can's Handler interface: it is invoked
// from the bus's own read goroutine for every frame received on the
// wire.
func (d *Driver) Handle(frame sockcan.Frame) {
	f := canframe.Frame{
		ID:   frame.ID,
		XTD:  frame.ID > 0x7FF,
		RTR:  frame.Flags&canRTRFlag != 0,
		Data: append([]byte(nil), frame.Data[:frame.Length]...),
	}
	select {
	case d.rx <- f:
	default:
		d.status.Lock()
		d.status.lost++
		d.status.Unlock()
	}
}

// canRTRFlag mirrors brutella/can's Frame.Flags bit for a remote frame;
// the library does not export a named constant for it.
const canRTRFlag = 0x01

// Read blocks for up to timeout for the next received frame.
func (d *Driver) Read(ctx context.Context, timeout time.Duration) (canframe.Frame, error) {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return canframe.Frame{}, candrv.ErrClosed
	}

	if timeout == 0 {
		select {
		case f := <-d.rx:
			return f, nil
		default:
			return canframe.Frame{}, candrv.ErrRxEmpty
		}
	}

	var timer *time.Timer
	var after <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		after = timer.C
	}
	select {
	case f := <-d.rx:
		return f, nil
	case <-d.sig:
		return canframe.Frame{}, candrv.ErrClosed
	case <-ctx.Done():
		return canframe.Frame{}, ctx.Err()
	case <-after:
		return canframe.Frame{}, candrv.ErrRxEmpty
	}
}

// Write publishes a classic CAN frame. FD-flagged frames and payloads
// over 8 bytes are rejected, since brutella/can's Frame is fixed at an
// 8-byte data array.
func (d *Driver) Write(f canframe.Frame, inhibitMs int) error {
	if f.FDF || len(f.Data) > 8 {
		return fmt.Errorf("candrv/socketcan: %w: FD frames unsupported on this backend", candrv.ErrTxBusy)
	}
	var flags byte
	if f.RTR {
		flags |= canRTRFlag
	}
	var data [8]byte
	copy(data[:], f.Data)
	out := sockcan.Frame{ID: f.ID, Length: uint8(len(f.Data)), Flags: flags, Data: data}
	if err := d.bus.Publish(out); err != nil {
		return fmt.Errorf("candrv/socketcan: %w: %v", candrv.ErrTxBusy, err)
	}
	return nil
}

// Status reports RX_EMPTY when the receive queue is drained and
// MSG_LST when frames have been dropped for lack of queue space; this
// backend has no visibility into controller-level bus-off/warning
// state, which the kernel resolves (and reports) out of band via
// netlink, not through this read path.
func (d *Driver) Status() (byte, error) {
	var s byte
	if len(d.rx) == 0 {
		s |= statRxEmpty
	}
	d.status.Lock()
	lost := d.status.lost
	d.status.Unlock()
	if lost > 0 {
		s |= statMsgLst
	}
	return s, nil
}

const (
	statRxEmpty = 1 << 2
	statMsgLst  = 1 << 1
)

// BusLoad is not observable through brutella/can; SocketCAN exposes it
// only via the kernel's can-utils bcm/netlink statistics, out of scope
// for this demo backend.
func (d *Driver) BusLoad() (uint16, error) {
	return 0, nil
}

// Signal interrupts any goroutine currently blocked in Read.
func (d *Driver) Signal() {
	select {
	case d.sig <- struct{}{}:
	default:
	}
}

// Stop disconnects from the bus and unblocks any pending Read.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()
	d.Signal()
	return d.bus.Disconnect()
}
