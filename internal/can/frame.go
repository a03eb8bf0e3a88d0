// internal/can/frame.go
package can

import (
	"encoding/binary"
	"fmt"
	"strings"

	"vehicle-gateway/internal/errs"
)

// FrameSize is the length of one frame on the CAN-over-TCP wire.
const FrameSize = 13

// Identifier limits.
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
)

// Frame format.
const (
	FormatStandard uint8 = 0
	FormatExtended uint8 = 1
)

// Frame type.
const (
	TypeData   uint8 = 0
	TypeRemote uint8 = 1
)

// Frame is a classical CAN frame.
//
// Wire layout (13 bytes):
//
//	0     format<<7 | type<<6 | dlc
//	1..4  identifier, big endian
//	5..12 data, zero padded
type Frame struct {
	Format uint8
	Type   uint8
	DLC    uint8
	ID     uint32
	Data   [8]byte
}

// NewFrame builds a data frame. The format is extended when id does not fit
// in 11 bits.
func NewFrame(id uint32, data []byte) (Frame, error) {
	f := Frame{ID: id, Type: TypeData}
	if id > MaxStandardID {
		f.Format = FormatExtended
	}
	if len(data) > 8 {
		return Frame{}, errs.Invalid("dlc", "payload of %d bytes exceeds 8", len(data))
	}
	f.DLC = uint8(len(data))
	copy(f.Data[:], data)
	return f, f.Validate()
}

// Extended reports whether the frame carries a 29-bit identifier.
func (f Frame) Extended() bool {
	return f.Format == FormatExtended
}

// Validate checks the length code and identifier range.
func (f Frame) Validate() error {
	if f.DLC > 8 {
		return errs.Invalid("dlc", "%d exceeds 8", f.DLC)
	}
	max := uint32(MaxStandardID)
	if f.Extended() {
		max = MaxExtendedID
	}
	if f.ID > max {
		return errs.Invalid("id", "0x%X out of range for %s frame", f.ID, f.formatName())
	}
	return nil
}

// Payload returns the first DLC data bytes.
func (f Frame) Payload() []byte {
	return f.Data[:f.DLC]
}

func (f Frame) formatName() string {
	if f.Extended() {
		return "extended"
	}
	return "standard"
}

func (f Frame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%08X [%d]", f.ID, f.DLC)
	for _, v := range f.Payload() {
		fmt.Fprintf(&b, " %02X", v)
	}
	if f.Type == TypeRemote {
		b.WriteString(" RTR")
	}
	return b.String()
}

// Encode serializes f into its wire form.
func Encode(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, FrameSize)
	out[0] = (f.Format&1)<<7 | (f.Type&1)<<6 | f.DLC
	binary.BigEndian.PutUint32(out[1:5], f.ID)
	copy(out[5:], f.Data[:f.DLC])
	return out, nil
}

// Decode parses one wire frame.
func Decode(b []byte) (Frame, error) {
	if len(b) != FrameSize {
		return Frame{}, errs.Invalid("length", "frame must be %d bytes, got %d", FrameSize, len(b))
	}

	f := Frame{
		Format: b[0] >> 7 & 1,
		Type:   b[0] >> 6 & 1,
		DLC:    b[0] & 0x0F,
		ID:     binary.BigEndian.Uint32(b[1:5]),
	}
	if f.Format == FormatExtended {
		f.ID &= MaxExtendedID
	} else {
		f.ID &= MaxStandardID
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	copy(f.Data[:], b[5:5+f.DLC])
	return f, nil
}
