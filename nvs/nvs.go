// Package nvs abstracts the endpoint's non-volatile key-value storage.
// Callers treat the store as best-effort: on ErrStorage they continue with
// RAM-only state and the next successful write catches up.
package nvs

import "errors"

// ErrStorage is wrapped by every failure of the underlying medium.
var ErrStorage = errors.New("nvs: storage failure")

// Namespaces and keys of the persisted layout.
const (
	NSWifi = "wifi"
	NSGame = "game"

	KeySSID  = "ssid"
	KeyPass  = "pass"
	KeyName  = "name"
	KeyRole  = "role"
	KeyPeers = "peers"

	KeyDeviceID   = "device_id_u8"
	KeyPlayerID   = "player_id_u8"
	KeyTeamID     = "team_id_u8"
	KeyColor      = "color_u32"
	KeyDeviceName = "device_name"
)

// Store is the typed key-value port. Lookups of absent keys return
// (zero, false, nil); errors are reserved for medium failures.
type Store interface {
	GetStr(ns, key string) (string, bool, error)
	PutStr(ns, key, val string) error
	GetU8(ns, key string) (uint8, bool, error)
	PutU8(ns, key string, val uint8) error
	GetU32(ns, key string) (uint32, bool, error)
	PutU32(ns, key string, val uint32) error
	EraseNamespace(ns string) error
}
