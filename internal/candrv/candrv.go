// Package candrv defines the narrow CAN controller contract the broker
// core consumes: open, start with a bit-rate, read a frame (blocking or
// timed), write a frame, query status/bus-load, stop. The broker never
// imports a driver; cmd/rocketcan-broker picks one by name and bridges
// it to the broker through this interface.
package candrv

import (
	"context"
	"errors"
	"time"

	"github.com/mac-can/rocketcan-go/internal/canframe"
)

// Mode selects classic CAN vs CAN FD operation, and listen-only vs
// normal participation on the bus.
type Mode struct {
	FD         bool
	ListenOnly bool
}

var (
	// ErrRxEmpty is returned by Read when no frame is available within
	// the requested timeout.
	ErrRxEmpty = errors.New("candrv: rx empty")
	// ErrTxBusy is returned by Write when the frame was not handed to
	// the controller: the write failed, or the backend cannot carry it.
	ErrTxBusy = errors.New("candrv: tx busy")
	// ErrClosed is returned by any call made after Stop.
	ErrClosed = errors.New("candrv: driver stopped")
)

// Driver is the capability surface every concrete CAN backend
// implements. A Driver is created already bound to a channel
// (interface name, serial device, ...); Start activates it at a given
// bit-rate, Stop releases all of its resources.
type Driver interface {
	// Start brings the controller onto the bus in the given mode at the
	// given nominal bit-rate (bits/sec). For CAN FD drivers, dataBitrate
	// is the data phase rate; classic drivers ignore it.
	Start(mode Mode, nominalBitrate, dataBitrate int) error

	// Read blocks for up to timeout for one received frame. timeout==0
	// means return immediately (non-blocking poll); timeout<0 means
	// block until a frame arrives, an error occurs, or Signal is called.
	// Returns ErrRxEmpty when nothing arrived within the timeout.
	Read(ctx context.Context, timeout time.Duration) (canframe.Frame, error)

	// Write transmits one frame. inhibitMs is a reserved parameter: the
	// drivers in this repository accept it and ignore it. A frame that
	// could not be handed to the controller is reported as ErrTxBusy.
	Write(f canframe.Frame, inhibitMs int) error

	// Status returns the controller's status byte, in the wire.Stat*
	// bit layout (RESET/BOFF/EWRN/BERR/TX_BUSY/RX_EMPTY/MSG_LST/QUE_OVR).
	Status() (byte, error)

	// BusLoad returns bus utilization in hundredths of a percent
	// (0..10000), matching wire.MaxBusload.
	BusLoad() (uint16, error)

	// Signal interrupts any goroutine currently blocked in Read.
	Signal()

	// Stop tears the controller down and releases its resources. Stop
	// is idempotent; it unblocks any pending Read with ErrClosed.
	Stop() error
}
