// Package canframe translates between a host-side CAN frame and the
// wire.Fields representation used by the codec. It holds no I/O and no
// state; it is a pure mapping layer, same as the original rock_msg_to_can
// / rock_msg_from_can pair it is grounded on.
package canframe

import (
	"errors"
	"fmt"

	"github.com/mac-can/rocketcan-go/internal/wire"
)

// ErrInvalidFrame is returned when a Frame cannot be represented on the
// wire (RTR and FDF both set, or payload longer than 64 bytes).
var ErrInvalidFrame = errors.New("canframe: invalid frame")

// Frame is a host-order CAN message: CAN 2.0 or CAN FD, independent of
// any particular controller API's bit-packed representation.
type Frame struct {
	ID     uint32
	XTD    bool // extended (29-bit) identifier
	RTR    bool // remote transmission request
	FDF    bool // CAN FD frame format
	BRS    bool // bit-rate switch (FD only)
	ESI    bool // error state indicator (FD only)
	STS    bool // status frame (broker-synthesized, e.g. abort/reset)
	Data   []byte
	TsSec  uint64
	TsNsec uint64
}

// dlc2len maps a CAN FD DLC code (0..15) to its payload length in bytes.
var dlc2len = [16]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// DLC2LEN returns the payload length in bytes for DLC code dlc. dlc
// values above 15 saturate to the DLC-15 (64-byte) entry.
func DLC2LEN(dlc byte) byte {
	if dlc > 15 {
		dlc = 15
	}
	return dlc2len[dlc]
}

// LEN2DLC returns the smallest CAN FD DLC code whose payload length is
// at least len. Lengths above 64 saturate to DLC 15.
func LEN2DLC(length byte) byte {
	switch {
	case length > 48:
		return 0x0F
	case length > 32:
		return 0x0E
	case length > 24:
		return 0x0D
	case length > 20:
		return 0x0C
	case length > 16:
		return 0x0B
	case length > 12:
		return 0x0A
	case length > 8:
		return 0x09
	default:
		return length
	}
}

// HostToWire maps a host Frame to wire.Fields ready for wire.Pack. The
// control character is always set to ETX; use wire.MakeAbort for the
// broker's own synthesized abort record instead of this path.
func HostToWire(f Frame) (wire.Fields, error) {
	var out wire.Fields
	if f.RTR && f.FDF {
		return out, fmt.Errorf("%w: RTR and FDF are mutually exclusive", ErrInvalidFrame)
	}
	if len(f.Data) > wire.MaxLen {
		return out, fmt.Errorf("%w: payload length %d exceeds %d", ErrInvalidFrame, len(f.Data), wire.MaxLen)
	}
	out.ID = f.ID
	out.Flags = flagsOf(f)
	out.Length = byte(len(f.Data))
	copy(out.Data[:], f.Data)
	out.TsSec = f.TsSec
	out.TsNsec = f.TsNsec
	out.CtrlChar = wire.ETX
	return out, nil
}

// WireToHost maps decoded wire.Fields back to a host Frame. length is
// translated DLC-round-trip (len2dlc then dlc2len) exactly as the
// original rock_msg_to_can does, so the reported data length always
// matches a legal CAN FD DLC's payload size.
func WireToHost(f wire.Fields) Frame {
	length := dlc2len[LEN2DLC(f.Length)]
	if int(length) > len(f.Data) {
		length = byte(len(f.Data))
	}
	out := Frame{
		ID:     f.ID,
		XTD:    f.Flags&wire.FlagXTD != 0,
		RTR:    f.Flags&wire.FlagRTR != 0,
		FDF:    f.Flags&wire.FlagFDF != 0,
		BRS:    f.Flags&wire.FlagBRS != 0,
		ESI:    f.Flags&wire.FlagESI != 0,
		STS:    f.Flags&wire.FlagSTS != 0,
		Data:   append([]byte(nil), f.Data[:length]...),
		TsSec:  f.TsSec,
		TsNsec: f.TsNsec,
	}
	return out
}

func flagsOf(f Frame) byte {
	var flags byte
	if f.XTD {
		flags |= wire.FlagXTD
	}
	if f.RTR {
		flags |= wire.FlagRTR
	}
	if f.FDF {
		flags |= wire.FlagFDF
	}
	if f.BRS {
		flags |= wire.FlagBRS
	}
	if f.ESI {
		flags |= wire.FlagESI
	}
	if f.STS {
		flags |= wire.FlagSTS
	}
	return flags
}
