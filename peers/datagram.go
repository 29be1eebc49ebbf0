// Package peers implements the endpoint-to-endpoint event bus: a fixed-size
// datagram exchange over a shared radio channel with a unicast peer table,
// broadcast, a bounded receive queue, and de-duplication by rolling sequence.
package peers

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// DatagramSize is the packed wire size of every bus message. The field
// layout is normative: six identity bytes followed by three little-endian
// u32 fields.
const DatagramSize = 18

// ProtocolVersion is stamped into every outbound datagram.
const ProtocolVersion = 2

// Datagram types.
const (
	TypeShot      uint8 = 0
	TypeHitEvent  uint8 = 1
	TypeHeartbeat uint8 = 2
	// TypeFriendlyFire tells a shooter its hit was rejected as friendly
	// fire, so the shooter can count the incident against itself.
	TypeFriendlyFire uint8 = 3
)

// ErrInvalidFrame is returned for datagrams of the wrong size.
var ErrInvalidFrame = errors.New("peers: invalid frame")

// MAC is a radio hardware address.
type MAC [6]byte

// BroadcastMAC addresses every endpoint on the channel.
var BroadcastMAC = MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// String formats the address as aa:bb:cc:dd:ee:ff.
func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsBroadcast reports whether the address is the all-ones broadcast.
func (m MAC) IsBroadcast() bool {
	return m == BroadcastMAC
}

// ParseMAC parses aa:bb:cc:dd:ee:ff (case-insensitive).
func ParseMAC(s string) (MAC, error) {
	var m MAC
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 6 {
		return m, fmt.Errorf("peers: malformed MAC %q", s)
	}
	for i, p := range parts {
		var b byte
		if _, err := fmt.Sscanf(strings.ToLower(p), "%02x", &b); err != nil || len(p) != 2 {
			return m, fmt.Errorf("peers: malformed MAC %q", s)
		}
		m[i] = b
	}
	return m, nil
}

// Datagram is the 18-byte packed peer-bus message.
//
//	offset 0  u8  type
//	offset 1  u8  version
//	offset 2  u8  player_id
//	offset 3  u8  device_id
//	offset 4  u8  team_id
//	offset 5  u8  reserved
//	offset 6  u32 color_rgb (LE)
//	offset 10 u32 seq       (LE, rolling sequence / sender timestamp)
//	offset 14 u32 data      (LE)
type Datagram struct {
	Type     uint8
	Version  uint8
	PlayerID uint8
	DeviceID uint8
	TeamID   uint8
	Reserved uint8
	ColorRGB uint32
	Seq      uint32
	Data     uint32
}

// Marshal packs the datagram into wire format.
func (d *Datagram) Marshal() [DatagramSize]byte {
	var b [DatagramSize]byte
	b[0] = d.Type
	b[1] = d.Version
	b[2] = d.PlayerID
	b[3] = d.DeviceID
	b[4] = d.TeamID
	b[5] = d.Reserved
	binary.LittleEndian.PutUint32(b[6:10], d.ColorRGB)
	binary.LittleEndian.PutUint32(b[10:14], d.Seq)
	binary.LittleEndian.PutUint32(b[14:18], d.Data)
	return b
}

// Unmarshal parses a wire buffer. Buffers that are not exactly DatagramSize
// bytes are rejected.
func Unmarshal(b []byte) (Datagram, error) {
	var d Datagram
	if len(b) != DatagramSize {
		return d, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, len(b))
	}
	d.Type = b[0]
	d.Version = b[1]
	d.PlayerID = b[2]
	d.DeviceID = b[3]
	d.TeamID = b[4]
	d.Reserved = b[5]
	d.ColorRGB = binary.LittleEndian.Uint32(b[6:10])
	d.Seq = binary.LittleEndian.Uint32(b[10:14])
	d.Data = binary.LittleEndian.Uint32(b[14:18])
	return d, nil
}
