package edsim

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/lasergo/edsim/internal/pointtrace"
	"github.com/lasergo/edsim/internal/sessiondb"
	"github.com/lasergo/edsim/internal/unboundedchan"
	"golang.org/x/sync/errgroup"
)

// Simulator is a complete simulated DAC: control server, discovery
// announcer, presentation loop and the optional status, RPC, trace and
// database services.
type Simulator struct {
	cfg        Config
	state      *SharedState
	supervisor *Supervisor
	announcer  *Announcer
	presenter  *Presenter
	keeper     *FrameKeeper
	control    *SimControl

	rpcListener net.Listener
	updates     *unboundedchan.UnboundedChannel[ClientUpdate]
	trace       *pointtrace.Writer
}

// statusPeriod is how often a STATUS message is published.
const statusPeriod = time.Second

// NewSimulator validates cfg and opens every socket and file the simulator
// needs, so that configuration problems surface before Run.
func NewSimulator(cfg Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Simulator{
		cfg:    cfg,
		state:  NewSharedState(cfg),
		keeper: new(FrameKeeper),
	}
	var err error
	if s.supervisor, err = NewSupervisor(cfg, s.state); err != nil {
		return nil, err
	}
	if s.announcer, err = NewAnnouncer(cfg, s.state); err != nil {
		s.supervisor.ln.Close()
		return nil, err
	}
	s.presenter = NewPresenter(s.state, cfg.FPS, s.keeper)
	s.control = &SimControl{cfg: cfg, state: s.state, keeper: s.keeper, supervisor: s.supervisor}

	if cfg.RPCPort > 0 {
		addr := fmt.Sprintf(":%d", cfg.RPCPort)
		if s.rpcListener, err = net.Listen("tcp", addr); err != nil {
			s.close()
			return nil, fmt.Errorf("could not listen for rpc on %q: %w", addr, err)
		}
	}

	if cfg.TraceFile != "" {
		if s.trace, err = pointtrace.Create(cfg.TraceFile, 1024, time.Second); err != nil {
			s.close()
			return nil, err
		}
		s.state.SetDrainObserver(s.trace.Observe)
		UpdateLogger.Printf("Tracing drained points to %s", cfg.TraceFile)
	}

	if cfg.StatusPort > 0 {
		s.updates = unboundedchan.NewUnboundedChannel[ClientUpdate]()
		in := s.updates.In()
		s.supervisor.notify = func(u ClientUpdate) { in <- u }
	}
	return s, nil
}

// ControlAddr returns the address of the TCP control listener.
func (s *Simulator) ControlAddr() net.Addr {
	return s.supervisor.Addr()
}

// RPCAddr returns the address of the JSON-RPC listener, or nil if RPC is
// disabled.
func (s *Simulator) RPCAddr() net.Addr {
	if s.rpcListener == nil {
		return nil
	}
	return s.rpcListener.Addr()
}

// Run runs every part of the simulator until ctx is cancelled or one of
// them fails, in which case the others are stopped and the error returned.
// Run may be called only once.
func (s *Simulator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var db *sessiondb.Connection
	if s.cfg.DBAddr != "" {
		db = sessiondb.Start(s.cfg.DBAddr, sessiondb.NewActivity(Build.Version, Build.Githash), ctx.Done())
		if db.IsConnected() {
			s.supervisor.recorder = dbRecorder{db}
			UpdateLogger.Printf("Recording sessions in the database at %s", s.cfg.DBAddr)
		} else {
			ProblemLogger.Printf("Sessions will not be recorded: %v", db.Err())
		}
	}

	UpdateLogger.Printf("Simulated DAC listening on %v", s.ControlAddr())
	g.Go(func() error { return s.supervisor.Serve(ctx) })
	g.Go(func() error { return s.announcer.Run(ctx) })
	g.Go(func() error { return s.presenter.Run(ctx) })
	if s.updates != nil {
		g.Go(func() error { return RunClientUpdater(s.updates.Out(), s.cfg.StatusPort, ctx.Done()) })
		g.Go(func() error { return s.publishStatus(ctx) })
	}
	if s.rpcListener != nil {
		g.Go(func() error { return ServeRPC(ctx, s.rpcListener, s.control) })
	}

	err := g.Wait()
	s.finish()
	if db.IsConnected() {
		db.Wait()
		if ierr := db.InsertErr(); ierr != nil {
			ProblemLogger.Printf("Some sessions were not recorded: %v", ierr)
		}
	}
	return err
}

// publishStatus queues a STATUS update once per statusPeriod.
func (s *Simulator) publishStatus(ctx context.Context) error {
	ticker := time.NewTicker(statusPeriod)
	defer ticker.Stop()
	in := s.updates.In()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var st ServerStatus
			if err := s.control.Status(nil, &st); err != nil {
				return err
			}
			in <- ClientUpdate{Tag: "STATUS", State: st}
		}
	}
}

// finish releases what the stopped goroutines leave behind.
func (s *Simulator) finish() {
	if s.updates != nil {
		s.updates.Close()
		for range s.updates.Out() {
		}
	}
	if s.trace != nil {
		s.state.SetDrainObserver(nil)
		rows, err := s.trace.Close()
		if err != nil {
			ProblemLogger.Printf("Point trace %s is incomplete: %v", s.cfg.TraceFile, err)
		}
		if dropped := s.trace.Dropped(); dropped > 0 {
			ProblemLogger.Printf("Point trace %s is missing %d points", s.cfg.TraceFile, dropped)
		}
		UpdateLogger.Printf("Wrote %d points to %s", rows, s.cfg.TraceFile)
	}
}

// close releases the resources of a simulator that will never Run.
func (s *Simulator) close() {
	s.supervisor.ln.Close()
	s.announcer.Close()
	if s.rpcListener != nil {
		s.rpcListener.Close()
	}
	if s.trace != nil {
		s.trace.Close()
	}
}

// dbRecorder stores session summaries in the database.
type dbRecorder struct {
	db *sessiondb.Connection
}

func (r dbRecorder) RecordSession(sum *SessionSummary) {
	r.db.RecordSession(&sessiondb.SessionMessage{
		ID:             sum.ID,
		Remote:         sum.Remote,
		FinalState:     sum.FinalState,
		PointCount:     sum.PointCount,
		Commands:       sum.Commands,
		PointsReceived: sum.PointsReceived,
		PointsDropped:  sum.PointsDropped,
		NAKs:           sum.NAKs,
		Error:          sum.Error,
		Start:          sum.Start,
		End:            sum.End,
	})
}
