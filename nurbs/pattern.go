package nurbs

import (
	"math"

	"github.com/lasergo/edsim/packets"
)

// squarePath moves a shape around the square with corners (+-2, +-2) in
// twelve quadratic segments, three per side.
var squarePath = [][Order]XY{
	{{-2.0, 2.0}, {-2.0, 2.0}, {-1.5, 2.0}, {-1.0, 2.0}},
	{{-1.0, 2.0}, {-0.5, 2.0}, {0.5, 2.0}, {1.0, 2.0}},
	{{1.0, 2.0}, {1.5, 2.0}, {2.0, 2.0}, {2.0, 2.0}},

	{{2.0, 2.0}, {2.0, 2.0}, {2.0, 1.5}, {2.0, 1.0}},
	{{2.0, 1.0}, {2.0, 0.5}, {2.0, -0.5}, {2.0, -1.0}},
	{{2.0, -1.0}, {2.0, -1.5}, {2.0, -2.0}, {2.0, -2.0}},

	{{2.0, -2.0}, {2.0, -2.0}, {1.5, -2.0}, {1.0, -2.0}},
	{{1.0, -2.0}, {0.5, -2.0}, {-0.5, -2.0}, {-1.0, -2.0}},
	{{-1.0, -2.0}, {-1.5, -2.0}, {-2.0, -2.0}, {-2.0, -2.0}},

	{{-2.0, -2.0}, {-2.0, -2.0}, {-2.0, -1.5}, {-2.0, -1.0}},
	{{-2.0, -1.0}, {-2.0, -0.5}, {-2.0, 0.5}, {-2.0, 1.0}},
	{{-2.0, 1.0}, {-2.0, 1.5}, {-2.0, 2.0}, {-2.0, 2.0}},
}

// Pattern is a shape traced repeatedly while it travels once around a
// square.
type Pattern struct {
	patches []*Patch
}

// MovingCircles builds the pattern that sweeps shape around the square.
// Pass Circle() for the classic moving circles test pattern.
func MovingCircles(shape *Line) *Pattern {
	p := &Pattern{patches: make([]*Patch, len(squarePath))}
	for i, path := range squarePath {
		p.patches[i] = Extrude(shape, path)
	}
	return p
}

// Point returns the position at phase u of the pattern. Only the fractional
// part of u is used. The shape is traced repeat times during one trip
// around the square.
func (p *Pattern) Point(u, repeat float64) XY {
	_, u = math.Modf(u)
	if u < 0 {
		u++
	}
	u *= float64(len(p.patches))
	ipart, fpart := math.Modf(u)
	i := min(int(ipart), len(p.patches)-1)
	along := math.Mod(u*repeat/float64(len(p.patches)), 1.0)
	return p.patches[i].Evaluate(along, fpart)
}

// Points renders n consecutive full-brightness DAC points starting at point
// index start of a pattern that takes total points per trip. Coordinates
// are multiplied by scale and clamped to the DAC range.
func (p *Pattern) Points(start, n, total int, repeat, scale float64) []packets.Point {
	out := make([]packets.Point, n)
	for i := range out {
		xy := p.Point(float64(start+i)/float64(total), repeat)
		out[i] = packets.Point{
			X: toDAC(xy.X * scale),
			Y: toDAC(xy.Y * scale),
			R: math.MaxUint16,
			G: math.MaxUint16,
			B: math.MaxUint16,
		}
	}
	return out
}

func toDAC(v float64) int16 {
	return int16(max(math.MinInt16, min(math.MaxInt16, math.Round(v))))
}
