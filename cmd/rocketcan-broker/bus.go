package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mac-can/rocketcan-go/internal/broker"
	"github.com/mac-can/rocketcan-go/internal/candrv"
	"github.com/mac-can/rocketcan-go/internal/canframe"
	"github.com/mac-can/rocketcan-go/internal/metrics"
	"github.com/mac-can/rocketcan-go/internal/wire"
)

// makeRecvCallback builds the broker.RecvFunc that turns a client's
// wire record into a CAN frame and queues it for transmit onto the bus,
// adapted from the teacher's cmd/can-server backends' frame-sender
// closures (there tcp->hub->device; here client->broker->driver).
func makeRecvCallback(aw *candrv.AsyncWriter, l *slog.Logger) broker.RecvFunc {
	return func(record []byte) error {
		f, err := wire.Unpack(record)
		if err != nil {
			if errors.Is(err, wire.ErrChecksum) {
				metrics.IncChecksumError()
			} else {
				metrics.IncProtocolError()
			}
			return err
		}
		if f.CtrlChar == wire.EOT {
			l.Warn("client_sent_abort_record", "id", f.ID)
			return nil
		}
		frame := canframe.WireToHost(f)
		if err := aw.SendFrame(frame); err != nil {
			l.Debug("drv_tx_drop", "error", err)
			return err
		}
		return nil
	}
}

// runBusRxLoop pulls frames off the CAN driver and fans each out to
// every connected client as a wire record, stamping the ingestion
// timestamp the driver itself does not supply. It runs until ctx is
// cancelled or the driver reports it has stopped.
func runBusRxLoop(ctx context.Context, d candrv.Driver, b *broker.Broker, l *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		frame, err := d.Read(ctx, -1)
		if err != nil {
			if errors.Is(err, candrv.ErrClosed) || ctx.Err() != nil {
				return
			}
			if errors.Is(err, candrv.ErrRxEmpty) {
				continue
			}
			metrics.IncError(metrics.ErrDriverRead)
			l.Warn("drv_read_error", "error", err)
			continue
		}
		now := time.Now()
		frame.TsSec = uint64(now.Unix())
		frame.TsNsec = uint64(now.Nanosecond())

		fields, err := canframe.HostToWire(frame)
		if err != nil {
			l.Warn("drv_frame_rejected", "error", err)
			continue
		}
		rec := wire.Pack(fields)
		if err := b.Send(rec[:]); err != nil {
			l.Debug("broker_send_error", "error", err)
		}
	}
}
