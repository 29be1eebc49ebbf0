package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/David-ssnd/rayz-endpoint/nvs"
	"github.com/David-ssnd/rayz-endpoint/peers"
)

// BootMode is decided from NVS at startup.
type BootMode int

const (
	// ModeProvisioning runs a soft AP with the captive config form.
	ModeProvisioning BootMode = iota
	// ModeStation joins the configured network and serves the admin API.
	ModeStation
)

func (m BootMode) String() string {
	if m == ModeProvisioning {
		return "provisioning"
	}
	return "station"
}

// NetEventKind tags link state changes.
type NetEventKind int

const (
	NetConnected NetEventKind = iota
	NetDisconnected
)

// NetEvent is one link state change from the radio driver.
type NetEvent struct {
	Kind NetEventKind
	IP   string
}

// Netif is the Wi-Fi radio driver port.
type Netif interface {
	MAC() peers.MAC
	StartAP(ssid string) error
	Join(ssid, pass string) error
	Channel() uint8
	RSSI() int
	IP() string
	// Restart power-cycles the radio; used after exhausted reconnects.
	Restart() error
	Events() <-chan NetEvent
}

// reconnectBackoff is the saturating retry schedule after link loss.
var reconnectBackoff = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
}

// maxConsecutiveFailures triggers a radio driver restart, not a fatal error.
const maxConsecutiveFailures = 15

// Supervisor owns the connection lifecycle: boot mode decision,
// provisioning, station reconnection with bounded backoff, factory reset.
type Supervisor struct {
	store   nvs.Store
	netif   Netif
	bus     *peers.Bus
	metrics *Metrics

	// restart asks the process supervisor to restart us; restarting is the
	// authoritative way to switch boot modes.
	restart func(reason string)

	connected atomic.Bool

	mu       sync.Mutex
	failures int
}

// NewSupervisor builds the lifecycle supervisor.
func NewSupervisor(store nvs.Store, netif Netif, bus *peers.Bus, metrics *Metrics, restart func(reason string)) *Supervisor {
	if restart == nil {
		restart = func(reason string) {
			log.Printf("supervisor: restart requested (%s) but no restarter wired", reason)
		}
	}
	return &Supervisor{
		store:   store,
		netif:   netif,
		bus:     bus,
		metrics: metrics,
		restart: restart,
	}
}

// BootMode inspects NVS: credentials present means station mode.
func (s *Supervisor) BootMode() BootMode {
	ssid, ok, err := s.store.GetStr(nvs.NSWifi, nvs.KeySSID)
	if err != nil {
		log.Printf("supervisor: NVS read failed, provisioning: %v", err)
		return ModeProvisioning
	}
	if !ok || ssid == "" {
		return ModeProvisioning
	}
	return ModeStation
}

// APSSID derives the provisioning SSID from the radio MAC tail.
func (s *Supervisor) APSSID() string {
	mac := s.netif.MAC()
	return fmt.Sprintf("RayZ-%02X%02X%02X", mac[3], mac[4], mac[5])
}

// Connected reports the station link state (the server_connected flag).
func (s *Supervisor) Connected() bool {
	return s.connected.Load()
}

// RSSI reads the current link quality.
func (s *Supervisor) RSSI() int {
	return s.netif.RSSI()
}

// Provision persists the captive-form credentials and restarts the process
// to re-evaluate the boot mode. Restarting avoids racing the teardown of
// the AP network stack.
func (s *Supervisor) Provision(ssid, pass, name, role string) error {
	if ssid == "" {
		return fmt.Errorf("supervisor: empty ssid")
	}
	if err := s.store.PutStr(nvs.NSWifi, nvs.KeySSID, ssid); err != nil {
		return err
	}
	if err := s.store.PutStr(nvs.NSWifi, nvs.KeyPass, pass); err != nil {
		return err
	}
	if err := s.store.PutStr(nvs.NSWifi, nvs.KeyName, name); err != nil {
		return err
	}
	if err := s.store.PutStr(nvs.NSWifi, nvs.KeyRole, role); err != nil {
		return err
	}
	log.Printf("supervisor: provisioned for %q, restarting into station mode", ssid)
	s.restart("provisioned")
	return nil
}

// CleanWifi erases the Wi-Fi namespace and restarts into provisioning.
func (s *Supervisor) CleanWifi() error {
	if err := s.store.EraseNamespace(nvs.NSWifi); err != nil {
		return err
	}
	log.Printf("supervisor: wifi credentials erased, restarting")
	s.restart("wifi erased")
	return nil
}

// FactoryReset erases both namespaces and restarts. main calls it for the
// --factory-reset flag; no boot-button input is read here.
func (s *Supervisor) FactoryReset() error {
	if err := s.store.EraseNamespace(nvs.NSWifi); err != nil {
		return err
	}
	if err := s.store.EraseNamespace(nvs.NSGame); err != nil {
		return err
	}
	log.Printf("supervisor: factory reset, restarting")
	s.restart("factory reset")
	return nil
}

// StartProvisioning brings up the soft AP.
func (s *Supervisor) StartProvisioning() error {
	ssid := s.APSSID()
	log.Printf("supervisor: provisioning mode, AP %q", ssid)
	return s.netif.StartAP(ssid)
}

// Run drives station mode: join, lock the shared radio channel, then watch
// for link loss and reconnect with bounded backoff. After 15 consecutive
// failures the radio driver is restarted and the counter reset; the loop
// never gives up.
func (s *Supervisor) Run(ctx context.Context) error {
	ssid, _, _ := s.store.GetStr(nvs.NSWifi, nvs.KeySSID)
	pass, _, _ := s.store.GetStr(nvs.NSWifi, nvs.KeyPass)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.connected.Load() {
			if err := s.joinOnce(ctx, ssid, pass); err != nil {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.netif.Events():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case NetDisconnected:
				s.connected.Store(false)
				log.Printf("supervisor: station link lost")
			case NetConnected:
				s.onConnected(ev.IP)
			}
		}
	}
}

// joinOnce attempts one join, sleeping the backoff schedule on failure.
func (s *Supervisor) joinOnce(ctx context.Context, ssid, pass string) error {
	s.metrics.Reconnects.Inc()
	if err := s.netif.Join(ssid, pass); err != nil {
		s.mu.Lock()
		s.failures++
		failures := s.failures
		s.mu.Unlock()

		if failures >= maxConsecutiveFailures {
			log.Printf("supervisor: %d consecutive failures, restarting radio driver", failures)
			if rerr := s.netif.Restart(); rerr != nil {
				log.Printf("supervisor: radio restart failed: %v", rerr)
			}
			s.mu.Lock()
			s.failures = 0
			s.mu.Unlock()
		}

		backoff := reconnectBackoff[len(reconnectBackoff)-1]
		if failures-1 < len(reconnectBackoff) {
			backoff = reconnectBackoff[failures-1]
		}
		log.Printf("supervisor: join %q failed (%v), retrying in %v", ssid, err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		return err
	}

	s.onConnected(s.netif.IP())
	return nil
}

// onConnected records the link and locks the peer bus to the AP channel;
// the bus and the station share one radio.
func (s *Supervisor) onConnected(ip string) {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
	s.connected.Store(true)

	ch := s.netif.Channel()
	s.bus.SetChannel(ch)
	log.Printf("supervisor: station up, ip %s, channel locked to %d", ip, ch)
}
