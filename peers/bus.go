package peers

import (
	"log"
	"time"

	"github.com/David-ssnd/rayz-endpoint/clock"
)

const (
	// RxQueueCap bounds the receive queue; overflow drops the oldest entry.
	RxQueueCap = 16

	// sendAcquireBudget is how long a sender may wait for the TX mutex
	// before the frame is abandoned.
	sendAcquireBudget = 50 * time.Millisecond
)

// Received is one drained receive-queue entry.
type Received struct {
	Datagram Datagram
	Src      MAC
}

// Bus is the peer event bus. Sends are best-effort with no ARQ; receive
// drains a bounded queue fed from the transport's reader context.
type Bus struct {
	transport Transport
	table     *Table
	clk       clock.Clock

	rxq    chan Received
	sendMu chan struct{} // 1-slot semaphore, acquired with a 50 ms budget

	inited  bool
	channel uint8
}

// NewBus wires a bus over the given transport. Receive handling starts
// immediately; Init only configures channel state.
func NewBus(transport Transport, table *Table, clk clock.Clock) *Bus {
	b := &Bus{
		transport: transport,
		table:     table,
		clk:       clk,
		rxq:       make(chan Received, RxQueueCap),
		sendMu:    make(chan struct{}, 1),
	}
	b.sendMu <- struct{}{}
	transport.SetHandler(b.onReceive)
	return b
}

// Init prepares the bus. Idempotent. channel 0 keeps the current channel;
// any other value locks the radio to it so the bus can coexist with the
// station link on the shared radio.
func (b *Bus) Init(channel uint8, setPMK, preferWiFi bool) error {
	if b.inited {
		if channel != 0 {
			b.SetChannel(channel)
		}
		return nil
	}
	b.inited = true
	if channel != 0 {
		b.channel = channel
	}
	_ = setPMK     // encryption keys are the radio driver's concern
	_ = preferWiFi // interface selection likewise
	log.Printf("peers: bus up on channel %d (%s)", b.channel, b.transport.LocalMAC())
	return nil
}

// SetChannel locks the bus to the given radio channel.
func (b *Bus) SetChannel(ch uint8) {
	b.channel = ch
}

// Channel returns the locked channel, 0 if unset.
func (b *Bus) Channel() uint8 {
	return b.channel
}

// LocalMAC returns the transport's channel address.
func (b *Bus) LocalMAC() MAC {
	return b.transport.LocalMAC()
}

// AddPeer registers a unicast peer.
func (b *Bus) AddPeer(mac MAC) {
	b.table.Add(mac, b.clk.NowMS())
}

// ClearPeers drops the whole peer table.
func (b *Bus) ClearPeers() {
	b.table.Clear()
}

// PeerCount returns the number of registered peers.
func (b *Bus) PeerCount() uint8 {
	return b.table.Count()
}

// LoadPeersFromCSV adds peers from "aa:bb:cc:dd:ee:ff" units separated by
// ',' or ';'. ok when at least one was added.
func (b *Bus) LoadPeersFromCSV(csv string) bool {
	return b.table.LoadCSV(csv, b.clk.NowMS())
}

// Send transmits one datagram to mac. Returns false when the TX mutex could
// not be acquired within budget or the driver rejected the frame; the caller
// must not count a failed send as transmitted.
func (b *Bus) Send(mac MAC, d *Datagram) bool {
	select {
	case <-b.sendMu:
	case <-time.After(sendAcquireBudget):
		log.Printf("peers: send to %s dropped, TX busy", mac)
		return false
	}
	defer func() { b.sendMu <- struct{}{} }()

	buf := d.Marshal()
	if err := b.transport.Send(mac, buf[:]); err != nil {
		log.Printf("peers: send to %s failed: %v", mac, err)
		return false
	}
	return true
}

// Broadcast transmits one datagram to every endpoint on the channel.
func (b *Bus) Broadcast(d *Datagram) bool {
	return b.Send(BroadcastMAC, d)
}

// Receive drains one entry from the receive queue, waiting up to timeout.
func (b *Bus) Receive(timeout time.Duration) (Received, bool) {
	select {
	case r := <-b.rxq:
		return r, true
	case <-time.After(timeout):
		return Received{}, false
	}
}

// onReceive runs on the transport reader and must not block: wrong-size
// frames are dropped silently, queue overflow drops the oldest entry.
func (b *Bus) onReceive(src MAC, payload []byte) {
	d, err := Unmarshal(payload)
	if err != nil {
		return
	}
	item := Received{Datagram: d, Src: src}
	for {
		select {
		case b.rxq <- item:
			return
		default:
		}
		// Queue full: drop the oldest and retry.
		select {
		case <-b.rxq:
		default:
		}
	}
}

// Close releases the transport.
func (b *Bus) Close() error {
	return b.transport.Close()
}
