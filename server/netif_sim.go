package server

import (
	"fmt"
	"sync"

	"github.com/David-ssnd/rayz-endpoint/peers"
)

// SimNetif simulates the Wi-Fi radio driver for host-side runs and tests:
// joins succeed or fail on command and link events are injected by hand.
type SimNetif struct {
	mu        sync.Mutex
	mac       peers.MAC
	channel   uint8
	rssi      int
	ip        string
	joined    bool
	apSSID    string
	failJoins int
	joins     int
	restarts  int
	events    chan NetEvent
}

// NewSimNetif creates a simulated radio with the given MAC.
func NewSimNetif(mac peers.MAC) *SimNetif {
	return &SimNetif{
		mac:     mac,
		channel: 6,
		rssi:    -42,
		events:  make(chan NetEvent, 8),
	}
}

// FailNextJoins makes the next n Join calls fail.
func (n *SimNetif) FailNextJoins(count int) {
	n.mu.Lock()
	n.failJoins = count
	n.mu.Unlock()
}

// JoinCount returns how many joins were attempted.
func (n *SimNetif) JoinCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.joins
}

// RestartCount returns how many driver restarts happened.
func (n *SimNetif) RestartCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.restarts
}

// DropLink simulates losing the station link.
func (n *SimNetif) DropLink() {
	n.mu.Lock()
	n.joined = false
	n.mu.Unlock()
	n.events <- NetEvent{Kind: NetDisconnected}
}

func (n *SimNetif) MAC() peers.MAC { return n.mac }

func (n *SimNetif) StartAP(ssid string) error {
	n.mu.Lock()
	n.apSSID = ssid
	n.mu.Unlock()
	return nil
}

// APSSID returns the SSID of the simulated soft AP.
func (n *SimNetif) APSSID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.apSSID
}

func (n *SimNetif) Join(ssid, pass string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.joins++
	if n.failJoins > 0 {
		n.failJoins--
		return fmt.Errorf("simnetif: join %q refused", ssid)
	}
	n.joined = true
	n.ip = "192.168.4.17"
	return nil
}

func (n *SimNetif) Channel() uint8 { return n.channel }
func (n *SimNetif) RSSI() int      { return n.rssi }

func (n *SimNetif) IP() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.joined {
		return ""
	}
	return n.ip
}

func (n *SimNetif) Restart() error {
	n.mu.Lock()
	n.restarts++
	n.joined = false
	n.mu.Unlock()
	return nil
}

func (n *SimNetif) Events() <-chan NetEvent { return n.events }
