package edsim

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lasergo/edsim/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testConfig is the default configuration with every socket on loopback
// and the optional services turned off.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TCPAddr = "127.0.0.1:0"
	cfg.BroadcastAddr = "127.0.0.1:9"
	cfg.BroadcastBind = "127.0.0.1:0"
	cfg.StatusPort = 0
	cfg.RPCPort = 0
	return cfg
}

func startSupervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()
	sv, err := NewSupervisor(cfg, NewSharedState(cfg))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return sv
}

// testClient speaks the raw command protocol.
type testClient struct {
	t        *testing.T
	conn     net.Conn
	greeting packets.Response
}

func dial(t *testing.T, sv *Supervisor) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", sv.Addr().String(), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	c := &testClient{t: t, conn: conn}
	c.greeting = c.response()
	assert.Equal(t, packets.ACK, c.greeting.Code)
	assert.Equal(t, packets.CmdConnected, c.greeting.Command)
	return c
}

func (c *testClient) send(b ...byte) {
	c.t.Helper()
	_, err := c.conn.Write(b)
	require.NoError(c.t, err)
}

func (c *testClient) response() packets.Response {
	c.t.Helper()
	r, err := packets.ReadResponse(c.conn)
	require.NoError(c.t, err)
	return r
}

func (c *testClient) command(b ...byte) packets.Response {
	c.t.Helper()
	c.send(b...)
	r := c.response()
	assert.Equal(c.t, b[0], r.Command, "response echoes the command")
	return r
}

func (c *testClient) data(f packets.PointFormat, n int) packets.Response {
	c.t.Helper()
	pts := make([]packets.Point, n)
	for i := range pts {
		pts[i] = packets.Point{X: int16(i), Y: int16(-i), R: 65535}
	}
	return c.command(f.DataCommand(pts)...)
}

// expectClosed checks that the server closed the connection without
// sending anything more.
func (c *testClient) expectClosed() {
	c.t.Helper()
	var buf [1]byte
	n, err := c.conn.Read(buf[:])
	assert.Equal(c.t, 0, n)
	assert.ErrorIs(c.t, err, io.EOF)
}

var beginParams = []byte{packets.CmdBegin, 0, 0, 0, 0, 0, 0}

func TestEndToEndScenario(t *testing.T) {
	sv := startSupervisor(t, testConfig())
	c := dial(t, sv)
	assert.Equal(t, uint8(Idle), c.greeting.Status.PlaybackState)

	// 1. prepare
	r := c.command(packets.CmdPrepare)
	assert.Equal(t, packets.ACK, r.Code)
	assert.Equal(t, uint8(Prepared), r.Status.PlaybackState)

	// 2. prepare again
	r = c.command(packets.CmdPrepare)
	assert.Equal(t, packets.NAKInvalid, r.Code)
	assert.Equal(t, uint8(Prepared), r.Status.PlaybackState)

	// 3. begin
	r = c.command(beginParams...)
	assert.Equal(t, packets.ACK, r.Code)
	assert.Equal(t, uint8(Running), r.Status.PlaybackState)
	assert.Equal(t, uint32(30000), r.Status.PointRate)

	// 4. five points drain once enough time has passed
	r = c.data(packets.Compact, 5)
	assert.Equal(t, packets.ACK, r.Code)
	time.Sleep(20 * time.Millisecond)
	r = c.command(packets.CmdRate, 0x30, 0x75, 0, 0)
	assert.Equal(t, packets.ACK, r.Code)
	assert.Zero(t, r.Status.BufferFullness)
	assert.Equal(t, uint32(5), r.Status.PointCount)

	// 6. reconnecting resets everything
	c.conn.Close()
	c = dial(t, sv)
	assert.Equal(t, uint8(Idle), c.greeting.Status.PlaybackState)
	assert.Zero(t, c.greeting.Status.PointCount)
	assert.Zero(t, c.greeting.Status.BufferFullness)
	assert.Zero(t, c.greeting.Status.PointRate)
}

func TestVersionCommand(t *testing.T) {
	sv := startSupervisor(t, testConfig())
	c := dial(t, sv)
	c.send(packets.CmdVersion)
	buf := make([]byte, packets.VersionSize)
	_, err := io.ReadFull(c.conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "simulator", strings.TrimRight(string(buf), "\x00"))

	// The stream is still in sync.
	r := c.command(packets.CmdPrepare)
	assert.Equal(t, packets.ACK, r.Code)
}

func TestOverflowKeepsFraming(t *testing.T) {
	cfg := testConfig()
	sv := startSupervisor(t, cfg)
	c := dial(t, sv)

	C := cfg.BufferPoints
	r := c.data(packets.Compact, C-4)
	assert.Equal(t, packets.ACK, r.Code)
	assert.Equal(t, uint16(C-4), r.Status.BufferFullness)

	// Only 3 of 10 points fit.
	r = c.data(packets.Compact, 10)
	assert.Equal(t, packets.NAKInvalid, r.Code)
	assert.Equal(t, uint16(C-1), r.Status.BufferFullness)

	// All 10 records were consumed: the next command is read correctly.
	r = c.command(packets.CmdPrepare)
	assert.Equal(t, packets.ACK, r.Code)
	assert.Equal(t, uint16(C-1), r.Status.BufferFullness)

	c.conn.Close()
	require.Eventually(t, func() bool { return len(sv.Sessions()) == 1 }, 5*time.Second, 10*time.Millisecond)
	sum := sv.Sessions()[0]
	assert.Equal(t, C-1, sum.PointsReceived)
	assert.Equal(t, 7, sum.PointsDropped)
	assert.Equal(t, 1, sum.NAKs)
	assert.Equal(t, 3, sum.Commands)
	assert.Equal(t, "PREPARED", sum.FinalState)
	assert.Empty(t, sum.Error)
	assert.Len(t, sum.ID, 26)
}

func TestBeginWithoutPrepareIsACKedButIgnored(t *testing.T) {
	sv := startSupervisor(t, testConfig())
	c := dial(t, sv)

	// Real clients expect an ACK here even though playback does not start.
	r := c.command(beginParams...)
	assert.Equal(t, packets.ACK, r.Code)
	assert.Equal(t, uint8(Idle), r.Status.PlaybackState)

	c.data(packets.Compact, 5)
	time.Sleep(20 * time.Millisecond)
	r = c.command(packets.CmdRate, 0, 0, 0, 0)
	assert.Equal(t, uint16(5), r.Status.BufferFullness, "nothing drains unless running")
	assert.Zero(t, r.Status.PointCount)
}

func TestUnknownCommandDropsConnectionOnly(t *testing.T) {
	sv := startSupervisor(t, testConfig())
	c := dial(t, sv)
	c.command(packets.CmdPrepare)
	c.send('x')
	c.expectClosed()

	// The server keeps running and the next client starts from scratch.
	c = dial(t, sv)
	assert.Equal(t, uint8(Idle), c.greeting.Status.PlaybackState)
	sessions := sv.Sessions()
	require.Len(t, sessions, 1)
	assert.Contains(t, sessions[0].Error, "protocol violation")
}

func TestShortReadSendsNoResponse(t *testing.T) {
	sv := startSupervisor(t, testConfig())
	c := dial(t, sv)

	// Half of the point rate parameter, then end of stream.
	c.send(packets.CmdRate, 1, 2)
	require.NoError(t, c.conn.(*net.TCPConn).CloseWrite())
	c.expectClosed()
}

func TestShortDataAborts(t *testing.T) {
	sv := startSupervisor(t, testConfig())
	c := dial(t, sv)

	cmd := packets.Compact.DataCommand(make([]packets.Point, 4))
	c.send(cmd[:len(cmd)-3]...)
	require.NoError(t, c.conn.(*net.TCPConn).CloseWrite())
	c.expectClosed()
	require.Eventually(t, func() bool { return len(sv.Sessions()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, sv.Sessions()[0].PointsReceived)
	assert.Contains(t, sv.Sessions()[0].Error, "point 3/4")
}

func TestExtendedPointFormat(t *testing.T) {
	cfg := testConfig()
	cfg.PointFormat = "extended"
	sv := startSupervisor(t, cfg)
	c := dial(t, sv)

	r := c.data(packets.Extended, 3)
	assert.Equal(t, packets.ACK, r.Code)
	assert.Equal(t, uint16(3), r.Status.BufferFullness)
	assert.Equal(t, 1+2+3*18, len(packets.Extended.DataCommand(make([]packets.Point, 3))))

	// Zero-length data is legal.
	r = c.data(packets.Extended, 0)
	assert.Equal(t, packets.ACK, r.Code)
}

func TestNotifications(t *testing.T) {
	cfg := testConfig()
	sv, err := NewSupervisor(cfg, NewSharedState(cfg))
	require.NoError(t, err)

	var mu sync.Mutex
	var tags []string
	sv.notify = func(u ClientUpdate) {
		mu.Lock()
		defer mu.Unlock()
		tags = append(tags, u.Tag)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sv.Serve(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	c := dial(t, sv)
	c.command(packets.CmdPrepare)
	c.command(beginParams...)
	c.conn.Close()

	want := []string{"CONNECT", "STATE", "STATE", "DISCONNECT"}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(tags) == len(want)
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, want, tags)
	mu.Unlock()
}

func TestServeStopsOnCancelWithClientConnected(t *testing.T) {
	cfg := testConfig()
	sv, err := NewSupervisor(cfg, NewSharedState(cfg))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sv.Serve(ctx) }()

	c := dial(t, sv)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	c.expectClosed()
}

func TestRecorderSeesEverySession(t *testing.T) {
	cfg := testConfig()
	sv, err := NewSupervisor(cfg, NewSharedState(cfg))
	require.NoError(t, err)
	rec := &memoryRecorder{}
	sv.recorder = rec
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sv.Serve(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	for i := 0; i < 3; i++ {
		c := dial(t, sv)
		c.data(packets.Compact, i)
		c.conn.Close()
	}
	assert.Eventually(t, func() bool { return rec.len() == 3 }, 5*time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, s := range rec.sessions {
		assert.Equal(t, i, s.PointsReceived)
	}
}

type memoryRecorder struct {
	mu       sync.Mutex
	sessions []SessionSummary
}

func (m *memoryRecorder) RecordSession(s *SessionSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, *s)
}

func (m *memoryRecorder) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func TestSessionHistoryIsBounded(t *testing.T) {
	sv := &Supervisor{}
	for i := 0; i < maxHistory+5; i++ {
		sv.remember(SessionSummary{SessionStats: SessionStats{Commands: i}})
	}
	h := sv.Sessions()
	require.Len(t, h, maxHistory)
	assert.Equal(t, 5, h[0].Commands)
	assert.Equal(t, maxHistory+4, h[maxHistory-1].Commands)
}

func TestRateParamIsLittleEndianAndIgnored(t *testing.T) {
	sv := startSupervisor(t, testConfig())
	c := dial(t, sv)
	param := binary.LittleEndian.AppendUint32([]byte{packets.CmdRate}, 12345)
	r := c.command(param...)
	assert.Equal(t, packets.ACK, r.Code)
	assert.Zero(t, r.Status.PointRate)
}

func TestSecondClientWaitsForFirst(t *testing.T) {
	sv := startSupervisor(t, testConfig())
	first := dial(t, sv)
	r := first.command(packets.CmdPrepare)
	assert.Equal(t, uint8(Prepared), r.Status.PlaybackState)

	// The kernel completes the handshake, but nobody greets the second
	// client while the first is being served.
	conn, err := net.DialTimeout("tcp", sv.Addr().String(), 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var buf [1]byte
	_, err = conn.Read(buf[:])
	var nerr net.Error
	require.ErrorAs(t, err, &nerr)
	assert.True(t, nerr.Timeout())

	first.conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	greeting, err := packets.ReadResponse(conn)
	require.NoError(t, err)
	assert.Equal(t, packets.ACK, greeting.Code)
	assert.Equal(t, packets.CmdConnected, greeting.Command)
	assert.Equal(t, uint8(Idle), greeting.Status.PlaybackState, "state is reset between clients")
	assert.Zero(t, greeting.Status.BufferFullness)
}
