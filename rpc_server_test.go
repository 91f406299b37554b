package edsim

import (
	"context"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lasergo/edsim/packets"
	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func startRPC(t *testing.T, control *SimControl) *rpc.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ServeRPC(ctx, ln, control) }()

	client, err := jsonrpc.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		cancel()
		assert.NoError(t, <-done)
	})
	return client
}

func TestRPCStatus(t *testing.T) {
	cfg := testConfig()
	state := NewSharedState(cfg)
	state.Prepare()
	state.Begin()
	require.NoError(t, state.Push(packets.Point{}))
	client := startRPC(t, &SimControl{cfg: cfg, state: state})

	var st ServerStatus
	require.NoError(t, client.Call("SimControl.Status", "", &st))
	assert.Equal(t, "RUNNING", st.State)
	assert.Equal(t, uint8(Running), st.PlaybackState)
	assert.Equal(t, 1800, st.BufferCapacity)
	assert.Equal(t, 30000, st.PointRate)
	assert.Equal(t, Build.Version, st.Version)
	assert.LessOrEqual(t, st.BufferFullness, 1)
}

func TestRPCDumpFrames(t *testing.T) {
	cfg := testConfig()
	fk := new(FrameKeeper)
	client := startRPC(t, &SimControl{cfg: cfg, state: NewSharedState(cfg), keeper: fk})
	fname := filepath.Join(t.TempDir(), "frames.npy")

	var n int
	err := client.Call("SimControl.DumpFrames", fname, &n)
	assert.Error(t, err, "nothing to dump yet")
	_, statErr := os.Stat(fname)
	assert.True(t, os.IsNotExist(statErr), "no partial file is left behind")

	require.NoError(t, fk.Render([][]packets.Point{{{X: 1}, {X: 2}}, {{X: 3}}}))
	require.NoError(t, client.Call("SimControl.DumpFrames", fname, &n))
	assert.Equal(t, 3, n)

	f, err := os.Open(fname)
	require.NoError(t, err)
	defer f.Close()
	var m mat.Dense
	require.NoError(t, npyio.Read(f, &m))
	rows, cols := m.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 6, cols)
	assert.Equal(t, 0.0, m.At(1, 0))
	assert.Equal(t, 2.0, m.At(1, 1))
	assert.Equal(t, 1.0, m.At(2, 0), "third point is in the second frame")
	assert.Equal(t, 3.0, m.At(2, 1))
}

func TestRPCSessions(t *testing.T) {
	cfg := testConfig()
	sv := startSupervisor(t, cfg)
	client := startRPC(t, &SimControl{cfg: cfg, state: sv.state, supervisor: sv})

	c := dial(t, sv)
	c.command(packets.CmdPrepare)
	c.conn.Close()
	require.Eventually(t, func() bool { return len(sv.Sessions()) == 1 }, 5*time.Second, 10*time.Millisecond)

	var sessions []SessionSummary
	require.NoError(t, client.Call("SimControl.Sessions", "", &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "PREPARED", sessions[0].FinalState)
	assert.Equal(t, 1, sessions[0].Commands)
}
