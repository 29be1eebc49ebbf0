package peers

import (
	"strings"
	"sync"

	"github.com/David-ssnd/rayz-endpoint/clock"
)

// StaleTimeoutMS is how long a peer may stay silent before the sweep drops it.
const StaleTimeoutMS = 30000

// PeerInfo is a snapshot of one peer table row.
type PeerInfo struct {
	MAC        MAC
	PlayerID   uint8
	DeviceID   uint8
	TeamID     uint8
	ColorRGB   uint32
	LastSeenMS uint32
}

type peerEntry struct {
	info      PeerInfo
	lastSeqRX uint32
	hasSeq    bool
	hasIdent  bool
}

// Table tracks known peers, their last-seen time and the rolling receive
// sequence used for de-duplication.
type Table struct {
	mu      sync.Mutex
	entries map[MAC]*peerEntry
}

// NewTable creates an empty peer table.
func NewTable() *Table {
	return &Table{entries: make(map[MAC]*peerEntry)}
}

// Add registers a peer address. Adding an existing address is a no-op.
func (t *Table) Add(mac MAC, now uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[mac]; !ok {
		t.entries[mac] = &peerEntry{info: PeerInfo{MAC: mac, LastSeenMS: now}}
	}
}

// Clear drops every peer.
func (t *Table) Clear() {
	t.mu.Lock()
	t.entries = make(map[MAC]*peerEntry)
	t.mu.Unlock()
}

// Count returns the number of registered peers.
func (t *Table) Count() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint8(len(t.entries))
}

// MACs returns every registered peer address.
func (t *Table) MACs() []MAC {
	t.mu.Lock()
	defer t.mu.Unlock()
	macs := make([]MAC, 0, len(t.entries))
	for mac := range t.entries {
		macs = append(macs, mac)
	}
	return macs
}

// Accept records an inbound datagram from mac and reports whether it is new.
// Duplicates (seq not newer than the last accepted, wrap-safe) are rejected.
// Unknown senders are registered on first contact.
func (t *Table) Accept(mac MAC, seq, now uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[mac]
	if !ok {
		e = &peerEntry{info: PeerInfo{MAC: mac}}
		t.entries[mac] = e
	}
	e.info.LastSeenMS = now
	if e.hasSeq && !clock.SeqNewer(seq, e.lastSeqRX) {
		return false
	}
	e.lastSeqRX = seq
	e.hasSeq = true
	return true
}

// Observe updates a peer's identity fields from a received datagram.
func (t *Table) Observe(mac MAC, d Datagram, now uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[mac]
	if !ok {
		e = &peerEntry{info: PeerInfo{MAC: mac}}
		t.entries[mac] = e
	}
	e.info.PlayerID = d.PlayerID
	e.info.DeviceID = d.DeviceID
	e.info.TeamID = d.TeamID
	e.info.ColorRGB = d.ColorRGB
	e.info.LastSeenMS = now
	e.hasIdent = true
}

// FindByPlayer looks up the peer that most recently announced the given
// player id.
func (t *Table) FindByPlayer(playerID uint8) (PeerInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var best *peerEntry
	for _, e := range t.entries {
		if !e.hasIdent || e.info.PlayerID != playerID {
			continue
		}
		if best == nil || clock.SeqNewer(e.info.LastSeenMS, best.info.LastSeenMS) {
			best = e
		}
	}
	if best == nil {
		return PeerInfo{}, false
	}
	return best.info, true
}

// Sweep drops peers silent for longer than staleMS and returns how many were
// removed.
func (t *Table) Sweep(now, staleMS uint32) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for mac, e := range t.entries {
		if clock.Since(now, e.info.LastSeenMS) > staleMS {
			delete(t.entries, mac)
			removed++
		}
	}
	return removed
}

// LoadCSV parses "aa:bb:cc:dd:ee:ff" units separated by ',' or ';' and adds
// each as a peer. ok is true when at least one address was added.
func (t *Table) LoadCSV(csv string, now uint32) bool {
	added := 0
	for _, unit := range strings.FieldsFunc(csv, func(r rune) bool {
		return r == ',' || r == ';'
	}) {
		mac, err := ParseMAC(unit)
		if err != nil {
			continue
		}
		t.Add(mac, now)
		added++
	}
	return added > 0
}

// CSV renders the registered peers in the on-wire CSV form.
func (t *Table) CSV() string {
	macs := t.MACs()
	parts := make([]string, 0, len(macs))
	for _, m := range macs {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, ",")
}
