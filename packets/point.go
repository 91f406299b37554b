package packets

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Point is one laser sample. The simulator only keeps position and the three
// color channels; the extended wire layout's remaining fields are read and
// dropped.
type Point struct {
	X, Y    int16
	R, G, B uint16
}

// PointFormat selects the point record layout used inside a 'd' command.
type PointFormat int

// Supported point record layouts.
const (
	// Compact is x, y, r, g, b: 10 bytes.
	Compact PointFormat = iota
	// Extended is control, x, y, r, g, b, i, u1, u2: 18 bytes, the layout
	// sent by clients written for real hardware.
	Extended
)

// ParseFormat converts a configuration name into a PointFormat.
func ParseFormat(name string) (PointFormat, error) {
	switch strings.ToLower(name) {
	case "", "compact":
		return Compact, nil
	case "extended":
		return Extended, nil
	}
	return Compact, fmt.Errorf("unknown point format %q (want compact or extended)", name)
}

func (f PointFormat) String() string {
	switch f {
	case Compact:
		return "compact"
	case Extended:
		return "extended"
	}
	return fmt.Sprintf("PointFormat(%d)", int(f))
}

// Size is the number of bytes one point record occupies on the wire.
func (f PointFormat) Size() int {
	if f == Extended {
		return 18
	}
	return 10
}

// Decode parses one point record from b, which must hold at least f.Size() bytes.
func (f PointFormat) Decode(b []byte) (Point, error) {
	if len(b) < f.Size() {
		return Point{}, fmt.Errorf("%v point record has %d bytes, want %d: %w", f, len(b), f.Size(), ErrShortPacket)
	}
	if f == Extended {
		b = b[2:] // skip control
	}
	return Point{
		X: int16(binary.LittleEndian.Uint16(b[0:])),
		Y: int16(binary.LittleEndian.Uint16(b[2:])),
		R: binary.LittleEndian.Uint16(b[4:]),
		G: binary.LittleEndian.Uint16(b[6:]),
		B: binary.LittleEndian.Uint16(b[8:]),
	}, nil
}

// Append appends the wire form of p to b. In the extended layout the
// control, intensity and user channels are written as zero.
func (f PointFormat) Append(b []byte, p Point) []byte {
	if f == Extended {
		b = binary.LittleEndian.AppendUint16(b, 0)
	}
	b = binary.LittleEndian.AppendUint16(b, uint16(p.X))
	b = binary.LittleEndian.AppendUint16(b, uint16(p.Y))
	b = binary.LittleEndian.AppendUint16(b, p.R)
	b = binary.LittleEndian.AppendUint16(b, p.G)
	b = binary.LittleEndian.AppendUint16(b, p.B)
	if f == Extended {
		b = append(b, 0, 0, 0, 0, 0, 0)
	}
	return b
}

// DataCommand builds a complete 'd' command carrying pts.
func (f PointFormat) DataCommand(pts []Point) []byte {
	b := make([]byte, 0, 1+DataHeaderSize+len(pts)*f.Size())
	b = append(b, CmdData)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(pts)))
	for _, p := range pts {
		b = f.Append(b, p)
	}
	return b
}
