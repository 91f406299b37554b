package edsim

import (
	"sync"
	"time"

	"github.com/lasergo/edsim/packets"
	"github.com/lasergo/edsim/ringbuffer"
)

// SharedState is everything the connection handler, the announcer and the
// presentation loop share: the playback state, the point buffer, the frame
// ring and the drained point counter. Each exported method is one logical
// operation performed under a single lock; none of them block on I/O.
type SharedState struct {
	mu         sync.Mutex
	rate       int
	state      DacState
	points     *ringbuffer.Ring[packets.Point]
	frames     *FrameRing
	pointCount uint32

	now     func() time.Time
	drained func([]packets.Point)
}

// NewSharedState allocates the buffers described by cfg in their power-on state.
func NewSharedState(cfg Config) *SharedState {
	s := &SharedState{
		rate:   cfg.PointRate,
		points: ringbuffer.New[packets.Point](cfg.BufferPoints),
		frames: NewFrameRing(cfg.PersistenceFrames(), cfg.FrameCapacity()),
		now:    time.Now,
	}
	s.Reset()
	return s
}

// SetClock replaces the time source. It is meant for tests.
func (s *SharedState) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.frames.Reset(now())
}

// SetDrainObserver registers fn to receive every batch of drained points.
// fn runs with the state lock held and must not block or retain the slice.
func (s *SharedState) SetDrainObserver(fn func([]packets.Point)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drained = fn
}

// Reset returns everything to power-on values: Idle, empty buffer, empty
// frames and a zero point count.
func (s *SharedState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Idle
	s.points.Reset()
	s.frames.Reset(s.now())
	s.pointCount = 0
}

// State returns the current playback state.
func (s *SharedState) State() DacState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status takes a status snapshot.
func (s *SharedState) Status() packets.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status()
}

func (s *SharedState) status() packets.Status {
	st := packets.Status{
		PlaybackState:  uint8(s.state),
		BufferFullness: uint16(s.points.Fullness()),
		PointCount:     s.pointCount,
	}
	// Only report a point rate if currently playing
	if s.state == Running {
		st.PointRate = uint32(s.rate)
	}
	return st
}

// Prepare attempts Idle -> Prepared and returns the resulting status.
func (s *SharedState) Prepare() (bool, packets.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.state.prepare()
	return ok, s.status()
}

// Begin attempts Prepared -> Running and returns the resulting status.
func (s *SharedState) Begin() (bool, packets.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.state.begin()
	return ok, s.status()
}

// Push queues one point, returning ringbuffer.ErrOverflow when the buffer is full.
func (s *SharedState) Push(p packets.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.points.Push(p)
}

// Drain runs one drain step and returns the number of points moved.
func (s *SharedState) Drain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drain()
}

// Present runs a drain step, snapshots the persistence window oldest frame
// first, and then advances the frame ring so that each refresh opens a new
// frame.
func (s *SharedState) Present() [][]packets.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drain()
	frames := s.frames.Snapshot()
	s.frames.Advance()
	return frames
}

// drain moves points from the buffer into the open frame at the nominal
// rate: no more than the time elapsed since the frame's last drain allows,
// no more than are queued, and no more than fit in the frame.
func (s *SharedState) drain() int {
	if s.state != Running {
		return 0
	}
	f := s.frames.Open()
	now := s.now()

	n := 0
	if elapsed := now.Sub(f.LastDrain).Microseconds(); elapsed > 0 {
		n = int(elapsed * int64(s.rate) / 1e6)
	}
	n = min(n, s.points.Fullness(), f.Room())

	start := f.Size()
	f.Data = s.points.Drain(f.Data, n)
	s.pointCount += uint32(n)
	f.LastDrain = now

	if n > 0 && s.drained != nil {
		s.drained(f.Data[start:])
	}
	if f.Room() == 0 {
		s.frames.Advance()
	}
	return n
}
