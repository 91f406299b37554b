package edsim

import (
	"time"

	"github.com/lasergo/edsim/packets"
)

// Frame is a time-bounded slice of points released from the DAC buffer. Its
// Data never grows beyond the capacity it was created with.
type Frame struct {
	Data      []packets.Point
	LastDrain time.Time // when points were last moved into this frame
}

// Size is the number of points held.
func (f *Frame) Size() int {
	return len(f.Data)
}

// Room is the number of points that still fit.
func (f *Frame) Room() int {
	return cap(f.Data) - len(f.Data)
}

// FrameRing is a circular set of frames covering the persistence-of-vision
// window. Exactly one slot, the store slot, is open for filling; the others
// are closed snapshots.
type FrameRing struct {
	frames []Frame
	store  int
}

// NewFrameRing creates a ring of nframes frames of capacity points each.
func NewFrameRing(nframes, capacity int) *FrameRing {
	fr := &FrameRing{frames: make([]Frame, nframes)}
	for i := range fr.frames {
		fr.frames[i].Data = make([]packets.Point, 0, capacity)
	}
	return fr
}

// Len is the number of slots P.
func (fr *FrameRing) Len() int {
	return len(fr.frames)
}

// Capacity is the per-frame point capacity F.
func (fr *FrameRing) Capacity() int {
	return cap(fr.frames[0].Data)
}

// Open returns the frame being filled.
func (fr *FrameRing) Open() *Frame {
	return &fr.frames[fr.store]
}

// Advance closes the open frame and opens the next slot. The new open frame
// is emptied and inherits the previous frame's LastDrain so elapsed time is
// accounted continuously across the boundary.
func (fr *FrameRing) Advance() {
	next := (fr.store + 1) % len(fr.frames)
	fr.frames[next].Data = fr.frames[next].Data[:0]
	fr.frames[next].LastDrain = fr.frames[fr.store].LastDrain
	fr.store = next
}

// Snapshot returns copies of the point data of every slot, oldest first,
// starting just after the open slot and ending with the open slot.
func (fr *FrameRing) Snapshot() [][]packets.Point {
	out := make([][]packets.Point, len(fr.frames))
	for i := range fr.frames {
		f := &fr.frames[(fr.store+1+i)%len(fr.frames)]
		out[i] = append([]packets.Point(nil), f.Data...)
	}
	return out
}

// Reset empties every frame and stamps them all with now.
func (fr *FrameRing) Reset(now time.Time) {
	for i := range fr.frames {
		fr.frames[i].Data = fr.frames[i].Data[:0]
		fr.frames[i].LastDrain = now
	}
	fr.store = 0
}
