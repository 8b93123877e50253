// Package slcan is a demo candrv.Driver for a serial-line CAN adapter,
// generalized from the teacher's internal/serial UART framing (preamble
// + length + running-sum checksum) to RocketCAN's canframe.Frame model,
// with the payload range widened from the teacher's fixed 8-byte
// classic-CAN frame to the full 0..64 bytes a CAN FD frame can carry.
package slcan

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mac-can/rocketcan-go/internal/candrv"
	"github.com/mac-can/rocketcan-go/internal/canframe"
	"github.com/mac-can/rocketcan-go/internal/metrics"
)

// Backend selects which serial library opens the port.
type Backend int

const (
	// BackendTarm uses github.com/tarm/serial, the teacher's backend
	// and this driver's default.
	BackendTarm Backend = iota
	// BackendBugst uses go.bug.st/serial, selected via a
	// --serial-driver=bugst flag for USB-UART chips tarm/serial
	// handles poorly.
	BackendBugst
)

// Open opens name at baud using the requested backend and wraps it in
// a Driver. The port is read continuously in a background goroutine
// from the moment Open returns, buffering decoded frames until Read is
// called.
func Open(name string, baud int, backend Backend) (*Driver, error) {
	var (
		p   Port
		err error
	)
	const pollTimeout = 50 * time.Millisecond
	switch backend {
	case BackendBugst:
		p, err = OpenBugst(name, baud, pollTimeout)
	default:
		p, err = OpenTarm(name, baud, pollTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("candrv/slcan: open %s: %w", name, err)
	}
	return newDriver(p), nil
}

// Driver bridges a serial Port to the candrv.Driver contract.
type Driver struct {
	port Port

	mu      sync.Mutex
	stopped bool

	rx     chan canframe.Frame
	sig    chan struct{}
	done   chan struct{}
	rxLost uint32
}

func newDriver(p Port) *Driver {
	d := &Driver{
		port: p,
		rx:   make(chan canframe.Frame, 256),
		sig:  make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.readLoop()
	return d
}

// readLoop continuously pulls bytes off the port and feeds them
// through decodeStream, mirroring the teacher's pattern of a single
// background reader draining into a growable bytes.Buffer.
func (d *Driver) readLoop() {
	var buf bytes.Buffer
	chunk := make([]byte, 256)
	for {
		select {
		case <-d.done:
			return
		default:
		}
		n, err := d.port.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			decodeStream(&buf, func(f canframe.Frame) {
				select {
				case d.rx <- f:
				default:
					d.mu.Lock()
					d.rxLost++
					d.mu.Unlock()
				}
			})
		}
		if err != nil {
			select {
			case <-d.done:
				return
			default:
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// Start is a no-op for this backend: the serial adapter is already
// operating at whatever bit-rate and mode it was provisioned with out
// of band (this framing protocol has no in-band bit-rate or mode
// negotiation). mode/nominalBitrate/dataBitrate are accepted only to
// satisfy the candrv.Driver contract.
func (d *Driver) Start(mode candrv.Mode, nominalBitrate, dataBitrate int) error {
	return nil
}

// Read waits for up to timeout for the next decoded frame.
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

	var after <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
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

// Write encodes f and writes it to the port. inhibitMs is accepted for
// the candrv.Driver contract and ignored; a port write error is
// returned wrapped in candrv.ErrTxBusy.
func (d *Driver) Write(f canframe.Frame, inhibitMs int) error {
	frame := encode(f)
	if _, err := d.port.Write(frame); err != nil {
		metrics.IncError(metrics.ErrDriverWrite)
		return fmt.Errorf("candrv/slcan: %w: %v", candrv.ErrTxBusy, err)
	}
	return nil
}

// Status reports RX_EMPTY when the decode queue is drained and
// MSG_LST once frames have been dropped for lack of queue space;
// controller-level status (bus-off, warning, error-passive) is not
// observable over this plain framing protocol.
func (d *Driver) Status() (byte, error) {
	var s byte
	if len(d.rx) == 0 {
		s |= statRxEmpty
	}
	d.mu.Lock()
	lost := d.rxLost
	d.mu.Unlock()
	if lost > 0 {
		s |= statMsgLst
	}
	return s, nil
}

const (
	statRxEmpty = 1 << 2
	statMsgLst  = 1 << 1
)

// BusLoad is not observable over this framing protocol; a real adapter
// would need a dedicated query frame this demo protocol does not
// define.
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

// Stop halts the read loop, closes the port, and unblocks any pending
// Read.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()
	close(d.done)
	d.Signal()
	return d.port.Close()
}
