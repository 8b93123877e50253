package wire

import (
	"errors"
	"testing"

	"github.com/mac-can/rocketcan-go/internal/crc"
)

func TestPackUnpack_RoundTrip(t *testing.T) {
	f := Fields{
		ID:       0x123,
		Flags:    FlagXTD | FlagBRS,
		Length:   4,
		Status:   0,
		Extra:    0,
		TsSec:    1700000000,
		TsNsec:   42,
		Busload:  1234,
		CtrlChar: ETX,
	}
	copy(f.Data[:], []byte{0xDE, 0xAD, 0xBE, 0xEF})

	rec := Pack(f)
	if len(rec) != Size {
		t.Fatalf("Record size = %d, want %d", len(rec), Size)
	}
	got, err := Unpack(rec[:])
	if err != nil {
		t.Fatalf("Unpack() error: %v", err)
	}
	if got.ID != f.ID || got.Flags != f.Flags || got.Length != f.Length ||
		got.TsSec != f.TsSec || got.TsNsec != f.TsNsec || got.Busload != f.Busload {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, f)
	}
	if got.Data != f.Data {
		t.Fatalf("round-trip data mismatch: got %v, want %v", got.Data, f.Data)
	}
}

func TestUnpack_WrongLength(t *testing.T) {
	_, err := Unpack(make([]byte, 95))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Unpack(95 bytes) err = %v, want ErrProtocol", err)
	}
}

func TestUnpack_ChecksumMismatch(t *testing.T) {
	rec := Pack(Fields{ID: 1, CtrlChar: ETX})
	rec[offChecksum] ^= 0xFF // tamper with the checksum byte
	_, err := Unpack(rec[:])
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("Unpack(tampered) err = %v, want ErrChecksum", err)
	}
}

func TestUnpack_TamperedPayloadFailsChecksum(t *testing.T) {
	rec := Pack(Fields{ID: 1, Length: 1, CtrlChar: ETX})
	rec[offData] ^= 0x01 // flip a data bit after sealing
	_, err := Unpack(rec[:])
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("Unpack(tampered payload) err = %v, want ErrChecksum", err)
	}
}

func TestUnpack_UnknownControlChar(t *testing.T) {
	rec := Pack(Fields{ID: 1, CtrlChar: ETX})
	rec[offCtrlChar] = ETB
	reseal(&rec)
	_, err := Unpack(rec[:])
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Unpack(ETB) err = %v, want ErrProtocol", err)
	}
}

func TestUnpack_ReservedIDBitsRejected(t *testing.T) {
	rec := Pack(Fields{ID: 0, CtrlChar: ETX})
	// Poke a reserved high bit directly into the packed record and
	// reseal so only the reserved-bit check fires.
	rec[0] = 0xE0
	reseal(&rec)
	_, err := Unpack(rec[:])
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Unpack(reserved bits) err = %v, want ErrProtocol", err)
	}
}

func TestUnpack_LengthTooLong(t *testing.T) {
	rec := Pack(Fields{ID: 1, CtrlChar: ETX})
	rec[offLength] = 65
	reseal(&rec)
	_, err := Unpack(rec[:])
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Unpack(length>64) err = %v, want ErrProtocol", err)
	}
}

func TestIsValidIsAbort(t *testing.T) {
	data := Pack(Fields{ID: 1, CtrlChar: ETX})
	if !IsValid(data[:]) {
		t.Fatalf("IsValid(data record) = false, want true")
	}
	if IsAbort(data[:]) {
		t.Fatalf("IsAbort(data record) = true, want false")
	}

	abort := MakeAbort(1700000000, 0)
	if !IsAbort(abort[:]) {
		t.Fatalf("IsAbort(abort record) = false, want true")
	}
	if IsValid(abort[:]) {
		t.Fatalf("IsValid(abort record) = true, want false")
	}
}

func TestMakeAbort_CanonicalFields(t *testing.T) {
	rec := MakeAbort(123, 456)
	f, err := Unpack(rec[:])
	if err != nil {
		t.Fatalf("Unpack(abort) error: %v", err)
	}
	if f.ID != 0x001 {
		t.Fatalf("abort ID = %#x, want 0x001", f.ID)
	}
	if f.Flags != FlagSTS {
		t.Fatalf("abort Flags = %#x, want FlagSTS", f.Flags)
	}
	if f.Length != 4 {
		t.Fatalf("abort Length = %d, want 4", f.Length)
	}
	if f.Status != StatReset {
		t.Fatalf("abort Status = %#x, want StatReset", f.Status)
	}
	if f.Data[3] != StatReset {
		t.Fatalf("abort Data[3] = %#x, want StatReset", f.Data[3])
	}
	if f.TsSec != 123 || f.TsNsec != 456 {
		t.Fatalf("abort timestamp = (%d,%d), want (123,456)", f.TsSec, f.TsNsec)
	}
}

func TestWithStatusWithExtra_ResealsChecksum(t *testing.T) {
	rec := Pack(Fields{ID: 1, CtrlChar: ETX})
	updated := rec.WithStatus(StatBoff)
	f, err := Unpack(updated[:])
	if err != nil {
		t.Fatalf("Unpack(WithStatus) error: %v", err)
	}
	if f.Status != StatBoff {
		t.Fatalf("Status = %#x, want StatBoff", f.Status)
	}

	updated2 := updated.WithExtra(0x7F)
	f2, err := Unpack(updated2[:])
	if err != nil {
		t.Fatalf("Unpack(WithExtra) error: %v", err)
	}
	if f2.Extra != 0x7F || f2.Status != StatBoff {
		t.Fatalf("overlay did not preserve prior fields: %+v", f2)
	}
}

// reseal recomputes the checksum over offsets 0..94, for tests that poke
// a field directly and need the CRC gate to pass so a different
// validation branch can be isolated.
func reseal(r *Record) {
	r[offChecksum] = crc.Calc(r[:offChecksum], nil)
}
