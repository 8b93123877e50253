package slcan

import (
	"bytes"

	"github.com/mac-can/rocketcan-go/internal/canframe"
	"github.com/mac-can/rocketcan-go/internal/metrics"
)

// Flag bits packed into the wire-framed flags byte, generalized from
// the teacher's fixed classic-CAN encoding to also carry the FD/BRS/ESI
// bits canframe.Frame models.
const (
	flagRTR = 1 << 0
	flagXTD = 1 << 1
	flagFDF = 1 << 2
	flagBRS = 1 << 3
	flagESI = 1 << 4
)

const (
	pre0 = 0x2D
	pre1 = 0xD4

	// header = flags(1) + id(4); payload is 0..64 bytes (classic or FD).
	headerLen = 5
	// ln = headerLen + payload + 1(checksum); minLn allows an empty
	// payload, maxLn allows the largest CAN FD payload.
	minLn = headerLen + 0 + 1
	maxLn = headerLen + 64 + 1
)

// compactBuffer reclaims consumed prefix capacity once the unread tail
// shrinks well below the buffer's grown capacity, same thresholds the
// teacher's internal/serial.CompactBuffer uses.
func compactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// encode builds one line-framed record:
// [0x2D, 0xD4, len, flags, id(4 bytes BE), payload..., checksum]
// checksum = (0x2D + len + sum(flags, id, payload)) mod 256, the same
// running-sum style the teacher's canUARTSend uses.
func encode(f canframe.Frame) []byte {
	n := len(f.Data)
	tab := make([]byte, headerLen+n)
	var flags byte
	if f.RTR {
		flags |= flagRTR
	}
	if f.XTD {
		flags |= flagXTD
	}
	if f.FDF {
		flags |= flagFDF
	}
	if f.BRS {
		flags |= flagBRS
	}
	if f.ESI {
		flags |= flagESI
	}
	tab[0] = flags
	tab[1] = byte(f.ID >> 24)
	tab[2] = byte(f.ID >> 16)
	tab[3] = byte(f.ID >> 8)
	tab[4] = byte(f.ID)
	copy(tab[headerLen:], f.Data)

	out := make([]byte, len(tab)+4)
	out[0] = pre0
	out[1] = pre1
	out[2] = byte(len(tab) + 1)
	sum := out[2] + pre0
	for i, b := range tab {
		out[3+i] = b
		sum += b
	}
	out[3+len(tab)] = sum
	return out
}

// decodeStream consumes complete frames out of in, invoking out for
// each, and resynchronizes on the 2-byte preamble after any malformed
// length or checksum mismatch — directly adapted from the teacher's
// Codec.DecodeStream, generalized to the wider FD-capable payload
// range and canframe.Frame's richer flag set.
func decodeStream(in *bytes.Buffer, out func(canframe.Frame)) {
	header := []byte{pre0, pre1}
	for {
		data := in.Bytes()
		_ = compactBuffer(in)
		if len(data) < 3 {
			return
		}

		i := bytes.Index(data, header)
		if i < 0 {
			if in.Len() > 1 {
				last := data[len(data)-1]
				in.Reset()
				_ = in.WriteByte(last)
			}
			return
		}
		if i > 0 {
			in.Next(i)
			continue
		}

		if len(data) < 4 {
			return
		}
		ln := int(data[2])
		if ln < minLn || ln > maxLn {
			metrics.IncError(metrics.ErrDriverRead)
			in.Next(1)
			continue
		}

		req := 3 + ln
		if len(data) < req {
			return
		}

		sum := uint(pre0) + uint(data[2])
		for _, b := range data[3 : req-1] {
			sum += uint(b)
		}
		if byte(sum) != data[req-1] {
			metrics.IncError(metrics.ErrDriverRead)
			in.Next(1)
			continue
		}

		flags := data[3]
		id := uint32(data[4])<<24 | uint32(data[5])<<16 | uint32(data[6])<<8 | uint32(data[7])
		payload := append([]byte(nil), data[8:req-1]...)

		out(canframe.Frame{
			ID:   id,
			XTD:  flags&flagXTD != 0,
			RTR:  flags&flagRTR != 0,
			FDF:  flags&flagFDF != 0,
			BRS:  flags&flagBRS != 0,
			ESI:  flags&flagESI != 0,
			Data: payload,
		})
		in.Next(req)
	}
}
