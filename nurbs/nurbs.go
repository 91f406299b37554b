// Package nurbs evaluates the quadratic NURBS curves and surfaces used to
// generate laser test patterns, and reads the .nub version 3 files that
// store curves.
//
// A .nub file is little-endian: the magic "nub\x03", an int32 point count n,
// n control points of three float32 (x, y, weight), then n+3 float32 knots.
package nurbs

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
)

// Order is the number of control points along the extrusion direction of a
// Patch.
const Order = 4

// Magic starts every .nub version 3 file.
const Magic = "nub\x03"

// ErrNotNub is returned when a file does not start with Magic.
var ErrNotNub = errors.New("nurbs: not a nub3 file")

// tKnots is the knot vector along the extrusion direction.
var tKnots = []float64{0, 0, 0, 0.5, 1, 1, 1}

// XY is a point in the plane.
type XY struct {
	X, Y float64
}

// ControlPoint is a weighted control point.
type ControlPoint struct {
	X, Y, Weight float64
}

// Line is a quadratic NURBS curve.
type Line struct {
	Points []ControlPoint
	Knots  []float64 // len(Points)+3 values
}

// Validate checks that the knot vector matches the control points.
func (l *Line) Validate() error {
	if len(l.Points) == 0 {
		return fmt.Errorf("nurbs: line has no control points")
	}
	if len(l.Knots) != len(l.Points)+3 {
		return fmt.Errorf("nurbs: line has %d knots for %d points, want %d",
			len(l.Knots), len(l.Points), len(l.Points)+3)
	}
	return nil
}

// Load reads a Line from a .nub file.
func Load(filename string) (*Line, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	l, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("could not load %s: %w", filename, err)
	}
	return l, nil
}

// Decode reads a Line in .nub format from r.
func Decode(r io.Reader) (*Line, error) {
	var hdr struct {
		Magic [4]byte
		Count int32
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotNub, err)
	}
	if string(hdr.Magic[:]) != Magic {
		return nil, ErrNotNub
	}
	if hdr.Count <= 0 || hdr.Count > 1<<20 {
		return nil, fmt.Errorf("nurbs: implausible point count %d", hdr.Count)
	}

	n := int(hdr.Count)
	raw := make([]float32, 3*n+n+3)
	if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
		return nil, fmt.Errorf("nurbs: short read: %w", err)
	}
	l := &Line{
		Points: make([]ControlPoint, n),
		Knots:  make([]float64, n+3),
	}
	for i := range l.Points {
		l.Points[i] = ControlPoint{
			X:      float64(raw[3*i]),
			Y:      float64(raw[3*i+1]),
			Weight: float64(raw[3*i+2]),
		}
	}
	for i := range l.Knots {
		l.Knots[i] = float64(raw[3*n+i])
	}
	return l, nil
}

// Encode writes l to w in .nub format.
func (l *Line) Encode(w io.Writer) error {
	if err := l.Validate(); err != nil {
		return err
	}
	b := make([]byte, 0, 8+4*(4*len(l.Points)+3))
	b = append(b, Magic...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(l.Points)))
	for _, p := range l.Points {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(p.X)))
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(p.Y)))
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(p.Weight)))
	}
	for _, k := range l.Knots {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(k)))
	}
	_, err := w.Write(b)
	return err
}

// Circle returns the unit circle as an exact rational quadratic curve.
func Circle() *Line {
	const w = math.Sqrt2 / 2
	return &Line{
		Points: []ControlPoint{
			{1, 0, 1}, {1, 1, w}, {0, 1, 1}, {-1, 1, w}, {-1, 0, 1},
			{-1, -1, w}, {0, -1, 1}, {1, -1, w}, {1, 0, 1},
		},
		Knots: []float64{0, 0, 0, 0.25, 0.25, 0.5, 0.5, 0.75, 0.75, 1, 1, 1},
	}
}

// Patch is a Line swept along a quadratic path: each control point of the
// line is repeated Order times, offset by the path's control points.
type Patch struct {
	Points [][Order]ControlPoint
	Knots  []float64
}

// Extrude sweeps l along path.
func Extrude(l *Line, path [Order]XY) *Patch {
	p := &Patch{
		Points: make([][Order]ControlPoint, len(l.Points)),
		Knots:  l.Knots,
	}
	for i, cp := range l.Points {
		for j, off := range path {
			p.Points[i][j] = ControlPoint{X: cp.X + off.X, Y: cp.Y + off.Y, Weight: cp.Weight}
		}
	}
	return p
}

// Evaluate returns the surface point at u along the line and v along the
// path. Both are in [0, 1); the basis functions vanish at 1, in which case
// the zero XY is returned.
func (p *Patch) Evaluate(u, v float64) XY {
	bu := make([]float64, len(p.Points))
	for i := range bu {
		bu[i] = basis2(p.Knots, i, u)
	}
	var bv [Order]float64
	for j := range bv {
		bv[j] = basis2(tKnots, j, v)
	}

	// Rational weights r_ij = N_i(u) N_j(v) w_ij
	xs := make([]float64, 0, len(bu)*Order)
	ys := make([]float64, 0, len(bu)*Order)
	rs := make([]float64, 0, len(bu)*Order)
	for i, ru := range bu {
		if ru == 0 {
			continue
		}
		for j, rv := range bv {
			if rv == 0 {
				continue
			}
			cp := p.Points[i][j]
			rs = append(rs, ru*rv*cp.Weight)
			xs = append(xs, cp.X)
			ys = append(ys, cp.Y)
		}
	}
	div := floats.Sum(rs)
	if div == 0 {
		return XY{}
	}
	return XY{X: floats.Dot(rs, xs) / div, Y: floats.Dot(rs, ys) / div}
}

func ratioUp(knots []float64, i, n int, u float64) float64 {
	return (u - knots[i]) / (knots[i+n] - knots[i])
}

func ratioDown(knots []float64, i, n int, u float64) float64 {
	return (knots[i+n] - u) / (knots[i+n] - knots[i])
}

// basis1 is the linear B-spline basis function N_{i,1}.
func basis1(knots []float64, i int, u float64) float64 {
	out := 0.0
	if knots[i] <= u && u < knots[i+1] {
		out = ratioUp(knots, i, 1, u)
	}
	if knots[i+1] <= u && u < knots[i+2] {
		out += ratioDown(knots, i+1, 1, u)
	}
	return out
}

// basis2 is the quadratic B-spline basis function N_{i,2}.
func basis2(knots []float64, i int, u float64) float64 {
	out := 0.0
	if knots[i] <= u && u < knots[i+2] {
		out = ratioUp(knots, i, 2, u) * basis1(knots, i, u)
	}
	if knots[i+1] <= u && u < knots[i+3] {
		out += ratioDown(knots, i+1, 2, u) * basis1(knots, i+1, u)
	}
	return out
}
