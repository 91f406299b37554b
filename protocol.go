package edsim

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/lasergo/edsim/packets"
)

// ErrProtocolViolation is returned when a client sends a command byte the
// simulator does not know. The connection cannot be resynchronized after it.
var ErrProtocolViolation = errors.New("protocol violation")

// session runs the command protocol for one client connection.
type session struct {
	rd      *bufio.Reader
	wr      io.Writer
	state   *SharedState
	format  packets.PointFormat
	version []byte
	notify  func(ClientUpdate)

	record []byte // scratch space for one point record
	stats  SessionStats
}

// SessionStats counts what one client connection did.
type SessionStats struct {
	Commands       int
	PointsReceived int // points queued into the buffer
	PointsDropped  int // points read off the wire but discarded on overflow
	NAKs           int
}

func newSession(conn io.ReadWriter, state *SharedState, format packets.PointFormat, version []byte, notify func(ClientUpdate)) *session {
	if notify == nil {
		notify = func(ClientUpdate) {}
	}
	return &session{
		rd:      bufio.NewReader(conn),
		wr:      conn,
		state:   state,
		format:  format,
		version: version,
		notify:  notify,
		record:  make([]byte, format.Size()),
	}
}

// serve sends the connection greeting and then processes commands until the
// client goes away (nil error) or the connection must be dropped.
func (c *session) serve() error {
	if err := c.reply(packets.ACK, packets.CmdConnected, c.state.Status()); err != nil {
		return fmt.Errorf("could not send initial status: %w", err)
	}
	for {
		cmd, err := c.rd.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}

		c.state.Drain()

		if err := c.process(cmd); err != nil {
			return err
		}
	}
}

// process reads the parameters of cmd, applies its effect and replies.
// Any error means the connection has to be closed; no reply is sent for a
// command whose parameters could not be read in full.
func (c *session) process(cmd byte) error {
	var buf [packets.BeginParamSize]byte
	c.stats.Commands++

	switch cmd {
	case packets.CmdVersion:
		if _, err := c.wr.Write(c.version); err != nil {
			return fmt.Errorf("could not write version string: %w", err)
		}
		return nil

	case packets.CmdPrepare:
		ok, st := c.state.Prepare()
		if !ok {
			return c.reply(packets.NAKInvalid, cmd, st)
		}
		c.notify(ClientUpdate{Tag: "STATE", State: st})
		return c.reply(packets.ACK, cmd, st)

	case packets.CmdRate:
		// The point_rate parameter is ignored
		if _, err := io.ReadFull(c.rd, buf[:packets.RateParamSize]); err != nil {
			return fmt.Errorf("could not read %q parameters: %w", cmd, err)
		}
		return c.reply(packets.ACK, cmd, c.state.Status())

	case packets.CmdData:
		return c.data()

	case packets.CmdBegin:
		// The low_water_mark and point_rate parameters are ignored
		if _, err := io.ReadFull(c.rd, buf[:packets.BeginParamSize]); err != nil {
			return fmt.Errorf("could not read %q parameters: %w", cmd, err)
		}
		ok, st := c.state.Begin()
		if ok {
			c.notify(ClientUpdate{Tag: "STATE", State: st})
		} else {
			// Still ACKed, as real clients expect.
			ProblemLogger.Printf("dac: not starting - not prepared (state %v)", DacState(st.PlaybackState))
		}
		return c.reply(packets.ACK, cmd, st)
	}

	return fmt.Errorf("%w: unknown command 0x%02x", ErrProtocolViolation, cmd)
}

// data handles the 'd' command. Every declared point record is read so the
// stream stays framed, even after the buffer has overflowed.
func (c *session) data() error {
	var hdr [packets.DataHeaderSize]byte
	if _, err := io.ReadFull(c.rd, hdr[:]); err != nil {
		return fmt.Errorf("could not read point count: %w", err)
	}
	npoints := int(binary.LittleEndian.Uint16(hdr[:]))

	overflow := false
	for i := 0; i < npoints; i++ {
		if _, err := io.ReadFull(c.rd, c.record); err != nil {
			return fmt.Errorf("could not read point %d/%d: %w", i, npoints, err)
		}
		if overflow {
			c.stats.PointsDropped++
			continue
		}
		p, err := c.format.Decode(c.record)
		if err != nil {
			return err
		}
		if err := c.state.Push(p); err != nil {
			overflow = true
			c.stats.PointsDropped++
			continue
		}
		c.stats.PointsReceived++
	}

	st := c.state.Status()
	if overflow {
		return c.reply(packets.NAKInvalid, packets.CmdData, st)
	}
	return c.reply(packets.ACK, packets.CmdData, st)
}

func (c *session) reply(code, cmd byte, st packets.Status) error {
	if code != packets.ACK {
		c.stats.NAKs++
	}
	resp := packets.Response{Code: code, Command: cmd, Status: st}
	if _, err := c.wr.Write(resp.Bytes()); err != nil {
		return fmt.Errorf("could not write response to %q: %w", cmd, err)
	}
	return nil
}
