package edclient

import (
	"context"
	"fmt"
	"net"

	"github.com/lasergo/edsim/packets"
)

// DefaultBroadcastAddr is where DACs send their discovery datagrams.
const DefaultBroadcastAddr = ":7654"

// Listener receives DAC discovery broadcasts.
type Listener struct {
	conn *net.UDPConn
}

// Listen binds a UDP socket to addr for receiving broadcasts.
func Listen(addr string) (*Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("could not listen for broadcasts on %s: %w", addr, err)
	}
	return &Listener{conn: conn}, nil
}

// Addr returns the local address of the listener.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Close stops listening.
func (l *Listener) Close() error {
	return l.conn.Close()
}

// Next waits for the next well-formed broadcast. Datagrams that are too
// short are skipped. Cancelling ctx closes the listener.
func (l *Listener) Next(ctx context.Context) (packets.Broadcast, *net.UDPAddr, error) {
	stop := context.AfterFunc(ctx, func() { l.conn.Close() })
	defer stop()

	buf := make([]byte, 1500)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return packets.Broadcast{}, nil, ctx.Err()
			}
			return packets.Broadcast{}, nil, err
		}
		bc, err := packets.DecodeBroadcast(buf[:n])
		if err != nil {
			continue
		}
		return bc, from, nil
	}
}

// Discover waits on addr for the first DAC broadcast and returns it with
// the DAC's command address.
func Discover(ctx context.Context, addr string, controlPort int) (packets.Broadcast, string, error) {
	l, err := Listen(addr)
	if err != nil {
		return packets.Broadcast{}, "", err
	}
	defer l.Close()
	bc, from, err := l.Next(ctx)
	if err != nil {
		return bc, "", err
	}
	return bc, net.JoinHostPort(from.IP.String(), fmt.Sprint(controlPort)), nil
}
