package edsim

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"time"
)

// SimControl is the JSON-RPC service that lets tools inspect a running
// simulator without speaking the DAC protocol.
type SimControl struct {
	cfg        Config
	state      *SharedState
	keeper     *FrameKeeper
	supervisor *Supervisor
}

// ServerStatus is the status that SimControl reports to clients.
type ServerStatus struct {
	State          string
	PlaybackState  uint8
	BufferFullness int
	BufferCapacity int
	PointRate      int
	PointCount     uint32
	Renders        int
	Uptime         string
	Version        string
}

// Status reports the current playback status.
func (s *SimControl) Status(dummy *string, reply *ServerStatus) error {
	st := s.state.Status()
	*reply = ServerStatus{
		State:          DacState(st.PlaybackState).String(),
		PlaybackState:  st.PlaybackState,
		BufferFullness: int(st.BufferFullness),
		BufferCapacity: s.cfg.BufferPoints,
		PointRate:      int(st.PointRate),
		PointCount:     st.PointCount,
		Uptime:         time.Since(StartTime).Round(time.Second).String(),
		Version:        Build.Version,
	}
	if s.keeper != nil {
		_, reply.Renders = s.keeper.Frames()
	}
	return nil
}

// DumpFrames writes the current persistence window to the named .npy file
// and replies with the number of points written.
func (s *SimControl) DumpFrames(filename *string, reply *int) error {
	if s.keeper == nil {
		return fmt.Errorf("presentation is not running")
	}
	f, err := os.Create(*filename)
	if err != nil {
		return err
	}
	n, err := s.keeper.WriteNpy(f)
	if err != nil {
		f.Close()
		os.Remove(*filename)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	UpdateLogger.Printf("Dumped %d points to %s", n, *filename)
	*reply = n
	return nil
}

// Sessions replies with the most recently finished client sessions.
func (s *SimControl) Sessions(dummy *string, reply *[]SessionSummary) error {
	if s.supervisor == nil {
		*reply = nil
		return nil
	}
	*reply = s.supervisor.Sessions()
	return nil
}

// ServeRPC serves control as "SimControl" over JSON-RPC on ln until ctx is
// cancelled.
func ServeRPC(ctx context.Context, ln net.Listener, control *SimControl) error {
	server := rpc.NewServer()
	if err := server.Register(control); err != nil {
		return fmt.Errorf("could not register rpc service: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rpc accept error: %w", err)
		}
		UpdateLogger.Printf("new rpc connection from %s", conn.RemoteAddr())
		go server.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}
