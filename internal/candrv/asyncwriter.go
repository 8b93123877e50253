package candrv

import (
	"context"
	"errors"

	"github.com/mac-can/rocketcan-go/internal/candrv/txqueue"
	"github.com/mac-can/rocketcan-go/internal/canframe"
	"github.com/mac-can/rocketcan-go/internal/logging"
	"github.com/mac-can/rocketcan-go/internal/metrics"
)

// ErrTxOverflow is returned by AsyncWriter.SendFrame when the queue is
// full; the frame is dropped rather than blocking the caller.
var ErrTxOverflow = errors.New("candrv: tx overflow")

// AsyncWriter funnels every transmit onto a Driver through a single
// goroutine, so the broker's per-client receive path never blocks on a
// slow or wedged CAN backend — generalized from the teacher's two near-
// identical TXWriter types (internal/serial/txwriter.go,
// internal/socketcan/txwriter.go), unified here into one wrapper since
// every Driver exposes the same blocking Write regardless of backend.
type AsyncWriter struct{ base *txqueue.AsyncTx }

// NewAsyncWriter wraps d with a buffered async queue of the given
// depth. inhibitMs is forwarded to every Driver.Write call.
func NewAsyncWriter(parent context.Context, d Driver, buf int, inhibitMs int) *AsyncWriter {
	send := func(f canframe.Frame) error { return d.Write(f, inhibitMs) }
	hooks := txqueue.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrDriverWrite)
			logging.L().Error("candrv_write_error", "error", err)
		},
		OnAfter: func() {},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrDriverOverflow)
			return ErrTxOverflow
		},
	}
	return &AsyncWriter{base: txqueue.NewAsyncTx(parent, buf, send, hooks)}
}

// SendFrame queues a frame for asynchronous transmit, dropping it with
// ErrTxOverflow if the queue is full.
func (w *AsyncWriter) SendFrame(f canframe.Frame) error { return w.base.SendFrame(f) }

// Close stops the writer and waits for its goroutine to exit.
func (w *AsyncWriter) Close() { w.base.Close() }
