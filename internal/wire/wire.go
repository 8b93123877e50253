// Package wire implements the RocketCAN on-wire record: a fixed 96-byte,
// network-byte-order, CRC8-sealed frame exchanged between the broker and
// its clients over a byte-oriented transport.
//
// The layout (all multi-byte fields big-endian) is:
//
//	offset  size  field
//	0       4     id        (upper 3 bits reserved, must be zero)
//	4       1     flags     (XTD/RTR/FDF/BRS/ESI/STS bits)
//	5       1     length    (payload byte count, 0..64)
//	6       1     status    (status register snapshot)
//	7       1     extra     (reserved side-channel byte)
//	8       64    data      (zero-padded beyond length)
//	72      8     ts_sec
//	80      8     ts_nsec
//	88      4     reserved
//	92      2     busload   (0..10000 = 0..100.00%)
//	94      1     ctrlchar  (ETX for data, EOT for abort)
//	95      1     checksum  (J1850 CRC8 over offsets 0..94)
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mac-can/rocketcan-go/internal/crc"
)

// Size is the fixed length of a RocketCAN wire record.
const Size = 96

// Control characters.
const (
	ETX byte = 0x03 // end of text: normal data record
	EOT byte = 0x04 // end of transmission: server abort record
	ETB byte = 0x17 // end of transmission block: reserved
)

// Flag bits, offset 4.
const (
	FlagXTD byte = 0x01
	FlagRTR byte = 0x02
	FlagFDF byte = 0x04
	FlagBRS byte = 0x08
	FlagESI byte = 0x10
	FlagSTS byte = 0x80
)

// Status register bits, offset 6.
const (
	StatReset   byte = 0x80
	StatBoff    byte = 0x40
	StatEwrn    byte = 0x20
	StatBerr    byte = 0x10
	StatTxBusy  byte = 0x08
	StatRxEmpty byte = 0x04
	StatMsgLst  byte = 0x02
	StatQueOvr  byte = 0x01
)

// MaxBusload is 100.00% expressed in the wire's 0..10000 busload unit.
const MaxBusload uint16 = 10000

// Field byte offsets.
const (
	offID       = 0
	offFlags    = 4
	offLength   = 5
	offStatus   = 6
	offExtra    = 7
	offData     = 8
	offTsSec    = 72
	offTsNsec   = 80
	offReserved = 88
	offBusload  = 92
	offCtrlChar = 94
	offChecksum = 95
)

// MaxLen is the maximum payload length held in a record.
const MaxLen = 64

// Errors raised by this package.
var (
	ErrProtocol = errors.New("rocketcan wire: protocol error")
	ErrChecksum = errors.New("rocketcan wire: checksum mismatch")
)

// Record is a single 96-byte RocketCAN wire record. The zero value is a
// valid, all-zero record (not yet sealed).
type Record [Size]byte

// Fields is the host-order (unpacked) view of a Record used when packing
// or after unpacking. All values are already in host byte order; Pack
// converts to network order and seals the CRC, Unpack does the reverse.
type Fields struct {
	ID       uint32
	Flags    byte
	Length   byte
	Status   byte
	Extra    byte
	Data     [MaxLen]byte
	TsSec    uint64
	TsNsec   uint64
	Busload  uint16
	CtrlChar byte
}

// Pack builds a sealed wire Record from host-order Fields. CtrlChar must
// already be set to ETX or EOT by the caller (HostToWire / MakeAbort do
// this); Pack does not choose it.
func Pack(f Fields) Record {
	var r Record
	binary.BigEndian.PutUint32(r[offID:], f.ID)
	r[offFlags] = f.Flags
	r[offLength] = f.Length
	r[offStatus] = f.Status
	r[offExtra] = f.Extra
	n := int(f.Length)
	if n > MaxLen {
		n = MaxLen
	}
	copy(r[offData:offData+n], f.Data[:n])
	binary.BigEndian.PutUint64(r[offTsSec:], f.TsSec)
	binary.BigEndian.PutUint64(r[offTsNsec:], f.TsNsec)
	binary.BigEndian.PutUint16(r[offBusload:], f.Busload)
	r[offCtrlChar] = f.CtrlChar
	r[offChecksum] = crc.Calc(r[:offChecksum], nil)
	return r
}

// Unpack validates and decodes a wire record read from the transport.
// buf must be exactly Size bytes. Returns ErrProtocol if the length is
// wrong, the reserved identifier bits are set, the payload length
// exceeds MaxLen, or the control character is neither ETX nor EOT.
// Returns ErrChecksum if the CRC does not match.
func Unpack(buf []byte) (Fields, error) {
	var f Fields
	if len(buf) != Size {
		return f, fmt.Errorf("%w: record length %d, want %d", ErrProtocol, len(buf), Size)
	}
	var r Record
	copy(r[:], buf)
	if got, want := r[offChecksum], crc.Calc(r[:offChecksum], nil); got != want {
		return f, fmt.Errorf("%w: got %#x, want %#x", ErrChecksum, got, want)
	}
	ctrl := r[offCtrlChar]
	if ctrl != ETX && ctrl != EOT {
		return f, fmt.Errorf("%w: unknown control character %#x", ErrProtocol, ctrl)
	}
	id := binary.BigEndian.Uint32(r[offID:])
	if id&0xE0000000 != 0 {
		return f, fmt.Errorf("%w: reserved identifier bits set in %#x", ErrProtocol, id)
	}
	length := r[offLength]
	if length > MaxLen {
		return f, fmt.Errorf("%w: length %d exceeds %d", ErrProtocol, length, MaxLen)
	}
	f.ID = id
	f.Flags = r[offFlags]
	f.Length = length
	f.Status = r[offStatus]
	f.Extra = r[offExtra]
	copy(f.Data[:], r[offData:offData+MaxLen])
	f.TsSec = binary.BigEndian.Uint64(r[offTsSec:])
	f.TsNsec = binary.BigEndian.Uint64(r[offTsNsec:])
	f.Busload = binary.BigEndian.Uint16(r[offBusload:])
	f.CtrlChar = ctrl
	return f, nil
}

// IsValid reports whether buf is a checksum-valid data record (ETX).
func IsValid(buf []byte) bool {
	f, err := Unpack(buf)
	return err == nil && f.CtrlChar == ETX
}

// IsAbort reports whether buf is a checksum-valid abort record (EOT).
func IsAbort(buf []byte) bool {
	f, err := Unpack(buf)
	return err == nil && f.CtrlChar == EOT
}

// MakeAbort builds the canonical server-initiated abort record: id=0x001,
// flags=STS, length=4, status=RESET, data[3]=RESET, timestamp = tsSec/
// tsNsec (caller-supplied, normally the current UTC realtime clock),
// sealed with ctrlchar=EOT.
func MakeAbort(tsSec, tsNsec uint64) Record {
	f := Fields{
		ID:       0x001,
		Flags:    FlagSTS,
		Length:   4,
		Status:   StatReset,
		TsSec:    tsSec,
		TsNsec:   tsNsec,
		CtrlChar: EOT,
	}
	f.Data[3] = StatReset
	return Pack(f)
}

// WithStatus returns a copy of r with the status byte overlaid and the
// checksum recomputed, without re-deriving the record from a CAN frame.
func (r Record) WithStatus(status byte) Record {
	r[offStatus] = status
	r[offChecksum] = crc.Calc(r[:offChecksum], nil)
	return r
}

// WithExtra returns a copy of r with the extra byte overlaid and the
// checksum recomputed.
func (r Record) WithExtra(extra byte) Record {
	r[offExtra] = extra
	r[offChecksum] = crc.Calc(r[:offChecksum], nil)
	return r
}

// WithBusload returns a copy of r with the busload field overlaid and the
// checksum recomputed.
func (r Record) WithBusload(busload uint16) Record {
	binary.BigEndian.PutUint16(r[offBusload:], busload)
	r[offChecksum] = crc.Calc(r[:offChecksum], nil)
	return r
}
