package edsim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/lasergo/edsim/packets"
	"github.com/oklog/ulid/v2"
)

// SessionSummary describes one finished client connection.
type SessionSummary struct {
	ID         string
	Remote     string
	Start      time.Time
	End        time.Time
	FinalState string
	PointCount uint32 // points drained during the session
	Error      string // why the connection was dropped, "" for a clean disconnect
	SessionStats
}

// SessionRecorder receives a summary of every finished session.
type SessionRecorder interface {
	RecordSession(*SessionSummary)
}

// Supervisor accepts one control connection at a time and runs the command
// protocol on it. Shared state is reset before every accept, so each client
// starts from power-on values.
type Supervisor struct {
	ln      net.Listener
	state   *SharedState
	format  packets.PointFormat
	version []byte

	notify   func(ClientUpdate)
	recorder SessionRecorder
	verbose  bool

	historyLock sync.Mutex
	history     []SessionSummary
}

// maxHistory is how many finished sessions Sessions remembers.
const maxHistory = 32

// NewSupervisor listens on cfg.TCPAddr.
func NewSupervisor(cfg Config, state *SharedState) (*Supervisor, error) {
	ln, err := net.Listen("tcp", cfg.TCPAddr)
	if err != nil {
		return nil, fmt.Errorf("could not listen on %q: %w", cfg.TCPAddr, err)
	}
	return &Supervisor{
		ln:      ln,
		state:   state,
		format:  cfg.Format(),
		version: packets.VersionString(cfg.VersionString),
		notify:  func(ClientUpdate) {},
		verbose: cfg.Verbose,
	}, nil
}

// Addr returns the control listener's address.
func (sv *Supervisor) Addr() net.Addr {
	return sv.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled or accepting fails.
// A connection that is open when ctx is cancelled is closed.
func (sv *Supervisor) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { sv.ln.Close() })
	defer stop()
	defer sv.ln.Close()

	for {
		// Reset everything before the next connection
		sv.state.Reset()

		conn, err := sv.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("could not accept connection: %w", err)
		}
		sv.handle(ctx, conn)
	}
}

func (sv *Supervisor) handle(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	sum := SessionSummary{
		ID:     ulid.Make().String(),
		Remote: conn.RemoteAddr().String(),
		Start:  time.Now(),
	}
	UpdateLogger.Printf("Connection from %s (session %s)", sum.Remote, sum.ID)
	sv.notify(ClientUpdate{Tag: "CONNECT", State: sum})

	sess := newSession(conn, sv.state, sv.format, sv.version, sv.notify)
	err := sess.serve()

	st := sv.state.Status()
	sum.End = time.Now()
	sum.FinalState = DacState(st.PlaybackState).String()
	sum.PointCount = st.PointCount
	sum.SessionStats = sess.stats
	switch {
	case err == nil:
	case errors.Is(err, ErrProtocolViolation):
		sum.Error = err.Error()
		ProblemLogger.Printf("Bogus command from %s, dropping connection: %v", sum.Remote, err)
	default:
		sum.Error = err.Error()
		UpdateLogger.Printf("Connection from %s aborted: %v", sum.Remote, err)
	}
	UpdateLogger.Printf("Connection closed (%s: %d commands, %d points queued, %d dropped)",
		sum.Remote, sum.Commands, sum.PointsReceived, sum.PointsDropped)
	if sv.verbose {
		UpdateLogger.Print(spew.Sdump(sum))
	}

	sv.remember(sum)
	sv.notify(ClientUpdate{Tag: "DISCONNECT", State: sum})
	if sv.recorder != nil {
		sv.recorder.RecordSession(&sum)
	}
}

func (sv *Supervisor) remember(sum SessionSummary) {
	sv.historyLock.Lock()
	defer sv.historyLock.Unlock()
	sv.history = append(sv.history, sum)
	if n := len(sv.history); n > maxHistory {
		sv.history = append(sv.history[:0], sv.history[n-maxHistory:]...)
	}
}

// Sessions returns the most recently finished sessions, oldest first.
func (sv *Supervisor) Sessions() []SessionSummary {
	sv.historyLock.Lock()
	defer sv.historyLock.Unlock()
	return append([]SessionSummary(nil), sv.history...)
}
