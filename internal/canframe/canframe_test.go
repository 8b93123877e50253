package canframe

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mac-can/rocketcan-go/internal/wire"
)

func TestDLC2LEN_Table(t *testing.T) {
	want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}
	for dlc, length := range want {
		if got := DLC2LEN(byte(dlc)); got != length {
			t.Fatalf("DLC2LEN(%d) = %d, want %d", dlc, got, length)
		}
	}
	// out-of-range DLC saturates to the DLC-15 entry.
	if got := DLC2LEN(255); got != 64 {
		t.Fatalf("DLC2LEN(255) = %d, want 64", got)
	}
}

func TestLEN2DLC_Table(t *testing.T) {
	cases := []struct {
		length byte
		dlc    byte
	}{
		{0, 0}, {8, 8}, {9, 9}, {12, 9}, {13, 10}, {16, 10},
		{17, 11}, {20, 11}, {21, 12}, {24, 12}, {25, 13}, {32, 13},
		{33, 14}, {48, 14}, {49, 15}, {64, 15}, {255, 15},
	}
	for _, c := range cases {
		if got := LEN2DLC(c.length); got != c.dlc {
			t.Fatalf("LEN2DLC(%d) = %d, want %d", c.length, got, c.dlc)
		}
	}
}

func TestHostToWire_RTRandFDFMutuallyExclusive(t *testing.T) {
	f := Frame{ID: 0x123, RTR: true, FDF: true}
	_, err := HostToWire(f)
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("HostToWire() err = %v, want ErrInvalidFrame", err)
	}
}

func TestHostToWire_PayloadTooLong(t *testing.T) {
	f := Frame{ID: 0x123, Data: make([]byte, 65)}
	_, err := HostToWire(f)
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("HostToWire() err = %v, want ErrInvalidFrame", err)
	}
}

func TestHostToWireWireToHost_RoundTrip(t *testing.T) {
	in := Frame{
		ID:     0x1ABCDEF,
		XTD:    true,
		FDF:    true,
		BRS:    true,
		Data:   []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		TsSec:  1700000000,
		TsNsec: 123456789,
	}
	fields, err := HostToWire(in)
	if err != nil {
		t.Fatalf("HostToWire() error: %v", err)
	}
	if fields.CtrlChar != wire.ETX {
		t.Fatalf("CtrlChar = %#x, want ETX", fields.CtrlChar)
	}
	rec := wire.Pack(fields)
	decoded, err := wire.Unpack(rec[:])
	if err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}
	out := WireToHost(decoded)
	if out.ID != in.ID || out.XTD != in.XTD || out.FDF != in.FDF || out.BRS != in.BRS {
		t.Fatalf("round-trip frame mismatch: got %+v, want fields from %+v", out, in)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("round-trip data = %v, want %v", out.Data, in.Data)
	}
	if out.TsSec != in.TsSec || out.TsNsec != in.TsNsec {
		t.Fatalf("round-trip timestamp mismatch: got (%d,%d), want (%d,%d)", out.TsSec, out.TsNsec, in.TsSec, in.TsNsec)
	}
}

func TestWireToHost_QuantizesLengthToDLCTable(t *testing.T) {
	// A wire length of 10 is not itself a legal FD DLC length; it quantizes
	// up to DLC 9 (12 bytes) same as the reference implementation's
	// can->dlc = len2dlc(net->length) followed by dlc2len(can->dlc).
	fields := wire.Fields{Length: 10}
	copy(fields.Data[:], bytes.Repeat([]byte{0xAA}, 10))
	out := WireToHost(fields)
	if len(out.Data) != 12 {
		t.Fatalf("quantized length = %d, want 12", len(out.Data))
	}
}
