// Package packets encodes and decodes the Ether Dream wire structures: the
// status block, command responses, discovery broadcasts and point records.
// All multi-byte fields are little-endian and packed with no padding.
package packets

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Sizes of the fixed-format structures, in bytes.
const (
	StatusSize    = 20
	ResponseSize  = 2 + StatusSize
	BroadcastSize = 6 + 2 + 2 + 2 + 4 + StatusSize
	VersionSize   = 32
)

// Response codes sent as the first byte of every Response.
const (
	ACK        byte = 'a'
	NAKFull    byte = 'F'
	NAKInvalid byte = 'I'
	NAKEstop   byte = '!'
)

// Command bytes understood by the simulator.
const (
	CmdVersion   byte = 'v'
	CmdPrepare   byte = 'p'
	CmdRate      byte = 'q'
	CmdData      byte = 'd'
	CmdBegin     byte = 'b'
	CmdConnected byte = '?' // sentinel echoed in the greeting sent on accept
)

// Parameter block sizes following a command byte.
const (
	RateParamSize  = 4 // point_rate u32
	BeginParamSize = 6 // low_water_mark u16, point_rate u32
	DataHeaderSize = 2 // npoints u16
)

// ErrShortPacket is returned when a buffer is too small to hold a structure.
var ErrShortPacket = errors.New("packets: short packet")

// Status is the 20-byte dac_status block embedded in responses and broadcasts.
type Status struct {
	Protocol         uint8
	LightEngineState uint8
	PlaybackState    uint8
	Source           uint8
	LightEngineFlags uint16
	PlaybackFlags    uint16
	SourceFlags      uint16
	BufferFullness   uint16
	PointRate        uint32
	PointCount       uint32
}

// AppendBinary appends the wire form of s to b.
func (s Status) AppendBinary(b []byte) []byte {
	b = append(b, s.Protocol, s.LightEngineState, s.PlaybackState, s.Source)
	b = binary.LittleEndian.AppendUint16(b, s.LightEngineFlags)
	b = binary.LittleEndian.AppendUint16(b, s.PlaybackFlags)
	b = binary.LittleEndian.AppendUint16(b, s.SourceFlags)
	b = binary.LittleEndian.AppendUint16(b, s.BufferFullness)
	b = binary.LittleEndian.AppendUint32(b, s.PointRate)
	b = binary.LittleEndian.AppendUint32(b, s.PointCount)
	return b
}

// DecodeStatus reads a Status from the first StatusSize bytes of b.
func DecodeStatus(b []byte) (Status, error) {
	if len(b) < StatusSize {
		return Status{}, fmt.Errorf("status block has %d bytes, want %d: %w", len(b), StatusSize, ErrShortPacket)
	}
	return Status{
		Protocol:         b[0],
		LightEngineState: b[1],
		PlaybackState:    b[2],
		Source:           b[3],
		LightEngineFlags: binary.LittleEndian.Uint16(b[4:]),
		PlaybackFlags:    binary.LittleEndian.Uint16(b[6:]),
		SourceFlags:      binary.LittleEndian.Uint16(b[8:]),
		BufferFullness:   binary.LittleEndian.Uint16(b[10:]),
		PointRate:        binary.LittleEndian.Uint32(b[12:]),
		PointCount:       binary.LittleEndian.Uint32(b[16:]),
	}, nil
}

// Response is the dac_response frame answering one command.
type Response struct {
	Code    byte
	Command byte
	Status  Status
}

// Bytes returns the ResponseSize-byte wire form of r.
func (r Response) Bytes() []byte {
	b := make([]byte, 0, ResponseSize)
	b = append(b, r.Code, r.Command)
	return r.Status.AppendBinary(b)
}

// ACKed reports whether the response code is ACK.
func (r Response) ACKed() bool {
	return r.Code == ACK
}

func (r Response) String() string {
	return fmt.Sprintf("response %q to %q: state=%d fullness=%d rate=%d count=%d",
		r.Code, r.Command, r.Status.PlaybackState, r.Status.BufferFullness,
		r.Status.PointRate, r.Status.PointCount)
}

// ReadResponse reads exactly one Response from r.
func ReadResponse(r io.Reader) (Response, error) {
	var buf [ResponseSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Response{}, err
	}
	st, err := DecodeStatus(buf[2:])
	if err != nil {
		return Response{}, err
	}
	return Response{Code: buf[0], Command: buf[1], Status: st}, nil
}

// Broadcast is the dac_broadcast discovery datagram.
type Broadcast struct {
	MacAddress     [6]byte
	HWRevision     uint16
	SWRevision     uint16
	BufferCapacity uint16
	MaxPointRate   uint32
	Status         Status
}

// Bytes returns the BroadcastSize-byte wire form of bc.
func (bc Broadcast) Bytes() []byte {
	b := make([]byte, 0, BroadcastSize)
	b = append(b, bc.MacAddress[:]...)
	b = binary.LittleEndian.AppendUint16(b, bc.HWRevision)
	b = binary.LittleEndian.AppendUint16(b, bc.SWRevision)
	b = binary.LittleEndian.AppendUint16(b, bc.BufferCapacity)
	b = binary.LittleEndian.AppendUint32(b, bc.MaxPointRate)
	return bc.Status.AppendBinary(b)
}

// DeviceID returns the low 3 bytes of the MAC address, which is how Ether
// Dream clients name a DAC.
func (bc Broadcast) DeviceID() uint32 {
	m := bc.MacAddress
	return uint32(m[3])<<16 | uint32(m[4])<<8 | uint32(m[5])
}

func (bc Broadcast) String() string {
	m := bc.MacAddress
	return fmt.Sprintf("Ether Dream %06x (mac %02x:%02x:%02x:%02x:%02x:%02x hw=%d sw=%d buffer=%d max_rate=%d state=%d fullness=%d)",
		bc.DeviceID(), m[0], m[1], m[2], m[3], m[4], m[5],
		bc.HWRevision, bc.SWRevision, bc.BufferCapacity, bc.MaxPointRate,
		bc.Status.PlaybackState, bc.Status.BufferFullness)
}

// DecodeBroadcast parses a discovery datagram. Trailing bytes are ignored.
func DecodeBroadcast(b []byte) (Broadcast, error) {
	var bc Broadcast
	if len(b) < BroadcastSize {
		return bc, fmt.Errorf("broadcast has %d bytes, want %d: %w", len(b), BroadcastSize, ErrShortPacket)
	}
	copy(bc.MacAddress[:], b[:6])
	bc.HWRevision = binary.LittleEndian.Uint16(b[6:])
	bc.SWRevision = binary.LittleEndian.Uint16(b[8:])
	bc.BufferCapacity = binary.LittleEndian.Uint16(b[10:])
	bc.MaxPointRate = binary.LittleEndian.Uint32(b[12:])
	st, err := DecodeStatus(b[16:])
	if err != nil {
		return bc, err
	}
	bc.Status = st
	return bc, nil
}

// VersionString returns the fixed VersionSize-byte identity reply to the 'v'
// command: s truncated or NUL-padded.
func VersionString(s string) []byte {
	b := make([]byte, VersionSize)
	copy(b, s)
	return b
}
