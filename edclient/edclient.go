// Package edclient is a small client for Ether Dream DACs and the edsim
// simulator: it discovers DACs from their UDP broadcasts and drives the TCP
// command protocol.
package edclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/lasergo/edsim/packets"
)

// ErrUnexpectedResponse is returned when a response answers a different
// command than the one just sent.
var ErrUnexpectedResponse = errors.New("edclient: unexpected response")

// NAKError is returned for a response that is not an ACK.
type NAKError struct {
	Response packets.Response
}

func (e *NAKError) Error() string {
	return fmt.Sprintf("edclient: command %q refused with %q", e.Response.Command, e.Response.Code)
}

// Conn is a command connection to one DAC. It is not safe for concurrent
// use.
type Conn struct {
	conn   net.Conn
	rd     *bufio.Reader
	format packets.PointFormat
	last   packets.Status
}

// Dial connects to the DAC at addr and reads its greeting.
func Dial(ctx context.Context, addr string, format packets.PointFormat) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", addr, err)
	}
	c := &Conn{conn: nc, rd: bufio.NewReader(nc), format: format}
	if _, err := c.response(packets.CmdConnected); err != nil {
		nc.Close()
		return nil, fmt.Errorf("no greeting from %s: %w", addr, err)
	}
	return c, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Status returns the status carried by the most recent response.
func (c *Conn) Status() packets.Status {
	return c.last
}

// Version asks the DAC for its identity string.
func (c *Conn) Version() (string, error) {
	if _, err := c.conn.Write([]byte{packets.CmdVersion}); err != nil {
		return "", err
	}
	var buf [packets.VersionSize]byte
	if _, err := io.ReadFull(c.rd, buf[:]); err != nil {
		return "", fmt.Errorf("could not read version: %w", err)
	}
	return string(bytes.TrimRight(buf[:], "\x00")), nil
}

// Prepare moves an idle DAC to the prepared state.
func (c *Conn) Prepare() (packets.Status, error) {
	return c.command([]byte{packets.CmdPrepare})
}

// Begin starts playback.
func (c *Conn) Begin(lowWater uint16, rate uint32) (packets.Status, error) {
	cmd := []byte{packets.CmdBegin}
	cmd = binary.LittleEndian.AppendUint16(cmd, lowWater)
	cmd = binary.LittleEndian.AppendUint32(cmd, rate)
	return c.command(cmd)
}

// PointRate queues a point rate change.
func (c *Conn) PointRate(rate uint32) (packets.Status, error) {
	cmd := binary.LittleEndian.AppendUint32([]byte{packets.CmdRate}, rate)
	return c.command(cmd)
}

// Write sends pts in one data command.
func (c *Conn) Write(pts []packets.Point) (packets.Status, error) {
	if len(pts) > 0xffff {
		return c.last, fmt.Errorf("edclient: %d points do not fit in one data command", len(pts))
	}
	return c.command(c.format.DataCommand(pts))
}

func (c *Conn) command(cmd []byte) (packets.Status, error) {
	if _, err := c.conn.Write(cmd); err != nil {
		return c.last, fmt.Errorf("could not send %q: %w", cmd[0], err)
	}
	return c.response(cmd[0])
}

func (c *Conn) response(cmd byte) (packets.Status, error) {
	resp, err := packets.ReadResponse(c.rd)
	if err != nil {
		return c.last, fmt.Errorf("could not read response to %q: %w", cmd, err)
	}
	c.last = resp.Status
	if resp.Command != cmd {
		return resp.Status, fmt.Errorf("%w: %v", ErrUnexpectedResponse, resp)
	}
	if !resp.ACKed() {
		return resp.Status, &NAKError{Response: resp}
	}
	return resp.Status, nil
}
