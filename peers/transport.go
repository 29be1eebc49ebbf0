package peers

import (
	"fmt"
	"log"
	"math/rand"
	"net"
	"sync"
)

// Transport is the radio-driver port: raw addressed payload delivery with no
// ordering or delivery guarantee. Receive handlers run on the transport's
// reader goroutine and must not block.
type Transport interface {
	LocalMAC() MAC
	Send(dst MAC, payload []byte) error
	SetHandler(fn func(src MAC, payload []byte))
	Close() error
}

// udpHeaderSize is the destination+source MAC prefix on every UDP frame.
const udpHeaderSize = 12

// UDPTransport carries bus datagrams over UDP broadcast on a LAN segment,
// emulating the shared-channel radio. Each frame is prefixed with the
// destination and source MAC so unicast sends are filtered receiver-side,
// the same way the radio driver filters on hardware address.
type UDPTransport struct {
	mac     MAC
	conn    *net.UDPConn
	bcast   *net.UDPAddr
	mu      sync.RWMutex
	handler func(src MAC, payload []byte)
	closed  chan struct{}
}

// NewUDPTransport binds the shared channel port. The local MAC is taken from
// the first hardware interface, falling back to a random locally-administered
// address.
func NewUDPTransport(port int) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("peers: bind channel port: %w", err)
	}

	t := &UDPTransport{
		mac:    localHardwareMAC(),
		conn:   conn,
		bcast:  &net.UDPAddr{IP: net.IPv4bcast, Port: port},
		closed: make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func localHardwareMAC() MAC {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if len(iface.HardwareAddr) == 6 && iface.Flags&net.FlagLoopback == 0 {
				var m MAC
				copy(m[:], iface.HardwareAddr)
				return m
			}
		}
	}
	var m MAC
	rand.Read(m[:])
	m[0] = (m[0] | 0x02) &^ 0x01 // locally administered, unicast
	return m
}

// LocalMAC returns this endpoint's channel address.
func (t *UDPTransport) LocalMAC() MAC {
	return t.mac
}

// Send transmits one payload to dst (broadcast when dst is all-ones).
func (t *UDPTransport) Send(dst MAC, payload []byte) error {
	buf := make([]byte, udpHeaderSize+len(payload))
	copy(buf[0:6], dst[:])
	copy(buf[6:12], t.mac[:])
	copy(buf[12:], payload)
	if _, err := t.conn.WriteToUDP(buf, t.bcast); err != nil {
		return fmt.Errorf("peers: send: %w", err)
	}
	return nil
}

// SetHandler installs the receive callback.
func (t *UDPTransport) SetHandler(fn func(src MAC, payload []byte)) {
	t.mu.Lock()
	t.handler = fn
	t.mu.Unlock()
}

func (t *UDPTransport) readLoop() {
	buf := make([]byte, 256)
	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				log.Printf("peers: read error: %v", err)
				return
			}
		}
		if n < udpHeaderSize {
			continue
		}
		var dst, src MAC
		copy(dst[:], buf[0:6])
		copy(src[:], buf[6:12])
		if src == t.mac {
			continue // own broadcast echoed back
		}
		if !dst.IsBroadcast() && dst != t.mac {
			continue // unicast for somebody else
		}
		t.mu.RLock()
		fn := t.handler
		t.mu.RUnlock()
		if fn != nil {
			payload := make([]byte, n-udpHeaderSize)
			copy(payload, buf[udpHeaderSize:n])
			fn(src, payload)
		}
	}
}

// Close shuts the transport down.
func (t *UDPTransport) Close() error {
	close(t.closed)
	return t.conn.Close()
}

// PipeMesh is an in-memory shared channel for tests: every PipeTransport
// created from the same mesh sees every other endpoint's frames.
type PipeMesh struct {
	mu    sync.Mutex
	nodes map[MAC]*PipeTransport
}

// NewPipeMesh creates an empty mesh.
func NewPipeMesh() *PipeMesh {
	return &PipeMesh{nodes: make(map[MAC]*PipeTransport)}
}

// PipeTransport is one endpoint attached to a PipeMesh.
type PipeTransport struct {
	mesh    *PipeMesh
	mac     MAC
	mu      sync.RWMutex
	handler func(src MAC, payload []byte)
}

// Attach joins the mesh under the given address.
func (m *PipeMesh) Attach(mac MAC) *PipeTransport {
	t := &PipeTransport{mesh: m, mac: mac}
	m.mu.Lock()
	m.nodes[mac] = t
	m.mu.Unlock()
	return t
}

func (t *PipeTransport) LocalMAC() MAC { return t.mac }

func (t *PipeTransport) Send(dst MAC, payload []byte) error {
	t.mesh.mu.Lock()
	targets := make([]*PipeTransport, 0, len(t.mesh.nodes))
	for mac, node := range t.mesh.nodes {
		if mac == t.mac {
			continue
		}
		if dst.IsBroadcast() || mac == dst {
			targets = append(targets, node)
		}
	}
	t.mesh.mu.Unlock()

	for _, node := range targets {
		node.mu.RLock()
		fn := node.handler
		node.mu.RUnlock()
		if fn != nil {
			p := make([]byte, len(payload))
			copy(p, payload)
			fn(t.mac, p)
		}
	}
	return nil
}

func (t *PipeTransport) SetHandler(fn func(src MAC, payload []byte)) {
	t.mu.Lock()
	t.handler = fn
	t.mu.Unlock()
}

func (t *PipeTransport) Close() error {
	t.mesh.mu.Lock()
	delete(t.mesh.nodes, t.mac)
	t.mesh.mu.Unlock()
	return nil
}
