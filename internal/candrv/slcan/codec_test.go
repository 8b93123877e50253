package slcan

import (
	"bytes"
	"testing"

	"github.com/mac-can/rocketcan-go/internal/canframe"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	f := canframe.Frame{ID: 0x1ABCDEF0, XTD: true, BRS: true, Data: []byte{1, 2, 3, 4, 5}}
	raw := encode(f)

	var buf bytes.Buffer
	buf.Write(raw)
	var got []canframe.Frame
	decodeStream(&buf, func(fr canframe.Frame) { got = append(got, fr) })

	if len(got) != 1 {
		t.Fatalf("decoded %d frames, want 1", len(got))
	}
	if got[0].ID != f.ID || !got[0].XTD || !got[0].BRS {
		t.Fatalf("decoded frame = %+v, want %+v", got[0], f)
	}
	if !bytes.Equal(got[0].Data, f.Data) {
		t.Fatalf("decoded data = %v, want %v", got[0].Data, f.Data)
	}
}

func TestDecodeStream_MultipleFramesInOneChunk(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(encode(canframe.Frame{ID: 1, Data: []byte{0xAA}}))
	buf.Write(encode(canframe.Frame{ID: 2, Data: []byte{0xBB, 0xCC}}))

	var got []canframe.Frame
	decodeStream(&buf, func(fr canframe.Frame) { got = append(got, fr) })
	if len(got) != 2 {
		t.Fatalf("decoded %d frames, want 2", len(got))
	}
	if got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("decoded ids = %d,%d, want 1,2", got[0].ID, got[1].ID)
	}
}

func TestDecodeStream_ResyncsPastGarbagePrefix(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0xFF, 0x11})
	buf.Write(encode(canframe.Frame{ID: 7, Data: []byte{0x42}}))

	var got []canframe.Frame
	decodeStream(&buf, func(fr canframe.Frame) { got = append(got, fr) })
	if len(got) != 1 || got[0].ID != 7 {
		t.Fatalf("decoded = %+v, want one frame with ID 7", got)
	}
}

func TestDecodeStream_ResyncsPastChecksumMismatch(t *testing.T) {
	raw := encode(canframe.Frame{ID: 9, Data: []byte{0x01, 0x02}})
	raw[len(raw)-1] ^= 0xFF // corrupt the checksum

	var buf bytes.Buffer
	buf.Write(raw)
	buf.Write(encode(canframe.Frame{ID: 10, Data: []byte{0x03}}))

	var got []canframe.Frame
	decodeStream(&buf, func(fr canframe.Frame) { got = append(got, fr) })
	if len(got) != 1 || got[0].ID != 10 {
		t.Fatalf("decoded = %+v, want only the valid frame with ID 10", got)
	}
}

func TestDecodeStream_WaitsForMoreDataOnPartialFrame(t *testing.T) {
	raw := encode(canframe.Frame{ID: 5, Data: []byte{0x01, 0x02, 0x03}})

	var buf bytes.Buffer
	buf.Write(raw[:len(raw)-2])

	var got []canframe.Frame
	decodeStream(&buf, func(fr canframe.Frame) { got = append(got, fr) })
	if len(got) != 0 {
		t.Fatalf("decoded %d frames from a partial write, want 0", len(got))
	}

	buf.Write(raw[len(raw)-2:])
	decodeStream(&buf, func(fr canframe.Frame) { got = append(got, fr) })
	if len(got) != 1 || got[0].ID != 5 {
		t.Fatalf("decoded = %+v after completing the frame, want ID 5", got)
	}
}

func TestEncode_MaxFDPayload(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	f := canframe.Frame{ID: 0x7FF, FDF: true, ESI: true, Data: data}
	raw := encode(f)

	var buf bytes.Buffer
	buf.Write(raw)
	var got []canframe.Frame
	decodeStream(&buf, func(fr canframe.Frame) { got = append(got, fr) })
	if len(got) != 1 {
		t.Fatalf("decoded %d frames, want 1", len(got))
	}
	if !got[0].FDF || !got[0].ESI || len(got[0].Data) != 64 {
		t.Fatalf("decoded frame = %+v, want 64-byte FD/ESI frame", got[0])
	}
}
