package edsim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lasergo/edsim/packets"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// Renderer draws one persistence-of-vision window: a list of point
// sequences, oldest first, each to be drawn as a connected line strip.
type Renderer interface {
	Render(frames [][]packets.Point) error
}

// Presenter is the presentation loop. At every refresh it runs a drain step,
// hands the current window to its Renderer and opens a new frame.
type Presenter struct {
	state    *SharedState
	period   time.Duration
	renderer Renderer
}

// NewPresenter creates a Presenter refreshing fps times per second.
func NewPresenter(state *SharedState, fps int, r Renderer) *Presenter {
	return &Presenter{
		state:    state,
		period:   time.Second / time.Duration(fps),
		renderer: r,
	}
}

// Run refreshes at the configured rate until ctx is cancelled. Rendering
// happens on a copy of the frames, outside the state lock.
func (p *Presenter) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			frames := p.state.Present()
			if err := p.renderer.Render(frames); err != nil {
				return fmt.Errorf("could not render frames: %w", err)
			}
		}
	}
}

// ErrNoPoints is returned when a dump is requested while the window is empty.
var ErrNoPoints = errors.New("no points in the persistence window")

// FrameKeeper is a headless Renderer that keeps the latest window so it can
// be inspected or exported.
type FrameKeeper struct {
	mu      sync.Mutex
	frames  [][]packets.Point
	renders int
}

// Render stores frames as the latest window.
func (fk *FrameKeeper) Render(frames [][]packets.Point) error {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	fk.frames = frames
	fk.renders++
	return nil
}

// Frames returns the latest window and the number of refreshes seen so far.
func (fk *FrameKeeper) Frames() ([][]packets.Point, int) {
	fk.mu.Lock()
	defer fk.mu.Unlock()
	return fk.frames, fk.renders
}

// Matrix lays the latest window out as one row per point with columns
// frame, x, y, r, g, b. It returns ErrNoPoints when the window is empty.
func (fk *FrameKeeper) Matrix() (*mat.Dense, error) {
	frames, _ := fk.Frames()
	npts := 0
	for _, f := range frames {
		npts += len(f)
	}
	if npts == 0 {
		return nil, ErrNoPoints
	}

	const ncols = 6
	data := make([]float64, 0, npts*ncols)
	for i, f := range frames {
		for _, p := range f {
			data = append(data, float64(i), float64(p.X), float64(p.Y),
				float64(p.R), float64(p.G), float64(p.B))
		}
	}
	return mat.NewDense(npts, ncols, data), nil
}

// WriteNpy writes the latest window to w in NumPy's .npy format and returns
// the number of points written.
func (fk *FrameKeeper) WriteNpy(w io.Writer) (int, error) {
	m, err := fk.Matrix()
	if err != nil {
		return 0, err
	}
	if err := npyio.Write(w, m); err != nil {
		return 0, fmt.Errorf("could not write npy data: %w", err)
	}
	rows, _ := m.Dims()
	return rows, nil
}
