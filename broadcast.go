package edsim

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/lasergo/edsim/packets"
)

// Announcer periodically broadcasts the simulated DAC's identity and status
// so clients can discover it without configuration.
type Announcer struct {
	conn     *net.UDPConn
	dest     *net.UDPAddr
	interval time.Duration
	identity packets.Broadcast
	state    *SharedState
}

// NewAnnouncer binds the announcer's UDP socket to cfg.BroadcastBind.
func NewAnnouncer(cfg Config, state *SharedState) (*Announcer, error) {
	mac, err := cfg.Mac()
	if err != nil {
		return nil, err
	}
	dest, err := net.ResolveUDPAddr("udp4", cfg.BroadcastAddr)
	if err != nil {
		return nil, fmt.Errorf("could not resolve broadcast address %q: %w", cfg.BroadcastAddr, err)
	}
	laddr, err := net.ResolveUDPAddr("udp4", cfg.BroadcastBind)
	if err != nil {
		return nil, fmt.Errorf("could not resolve broadcast bind address %q: %w", cfg.BroadcastBind, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("could not bind broadcast socket to %q: %w", cfg.BroadcastBind, err)
	}

	return &Announcer{
		conn:     conn,
		dest:     dest,
		interval: cfg.BroadcastInterval,
		identity: packets.Broadcast{
			MacAddress:     mac,
			HWRevision:     cfg.HWRevision,
			SWRevision:     cfg.SWRevision,
			BufferCapacity: uint16(cfg.BufferPoints),
			MaxPointRate:   uint32(cfg.PointRate),
		},
		state: state,
	}, nil
}

// Announce sends one discovery datagram carrying a fresh status snapshot.
func (a *Announcer) Announce() error {
	bc := a.identity
	bc.Status = a.state.Status()
	if _, err := a.conn.WriteToUDP(bc.Bytes(), a.dest); err != nil {
		return fmt.Errorf("could not send broadcast to %v: %w", a.dest, err)
	}
	return nil
}

// Run announces immediately and then once per interval until ctx is
// cancelled. A failed send ends Run with an error: the announcer has no way
// to degrade gracefully.
func (a *Announcer) Run(ctx context.Context) error {
	defer a.conn.Close()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		if err := a.Announce(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close releases the socket of an announcer that was never Run.
func (a *Announcer) Close() error {
	return a.conn.Close()
}
