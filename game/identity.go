package game

import (
	"log"
	"math/rand"

	"github.com/David-ssnd/rayz-endpoint/nvs"
)

// Role distinguishes the two endpoint kinds.
type Role string

const (
	RoleWeapon Role = "weapon"
	RoleTarget Role = "target"
)

// Team id conventions.
const (
	TeamSolo  uint8 = 0   // free-for-all
	TeamAdmin uint8 = 255 // admin/spectator devices
)

const maxDeviceNameLen = 31

// Identity is who this endpoint is. Persisted in the NVS game namespace,
// mutable only by admin config, destroyed by factory reset.
type Identity struct {
	DeviceID   uint8  `json:"device_id"`
	PlayerID   uint8  `json:"player_id"`
	TeamID     uint8  `json:"team_id"`
	ColorRGB   uint32 `json:"color"`
	Role       Role   `json:"role"`
	DeviceName string `json:"device_name"`
}

// LoadIdentity reads the persisted identity, generating and persisting a
// random one on first boot. player_id defaults to device_id.
func LoadIdentity(store nvs.Store, role Role) Identity {
	id := Identity{Role: role}

	if v, ok, err := store.GetU8(nvs.NSGame, nvs.KeyDeviceID); ok && err == nil {
		id.DeviceID = v
	} else {
		id.DeviceID = uint8(1 + rand.Intn(254))
		log.Printf("game: first boot, generated device id %d", id.DeviceID)
	}
	if v, ok, err := store.GetU8(nvs.NSGame, nvs.KeyPlayerID); ok && err == nil {
		id.PlayerID = v
	} else {
		id.PlayerID = id.DeviceID
	}
	if v, ok, err := store.GetU8(nvs.NSGame, nvs.KeyTeamID); ok && err == nil {
		id.TeamID = v
	}
	if v, ok, err := store.GetU32(nvs.NSGame, nvs.KeyColor); ok && err == nil {
		id.ColorRGB = v
	} else {
		id.ColorRGB = 0x00FF0000
	}
	if v, ok, err := store.GetStr(nvs.NSGame, nvs.KeyDeviceName); ok && err == nil {
		id.DeviceName = v
	}

	if err := id.Persist(store); err != nil {
		log.Printf("game: identity persist failed, continuing with RAM state: %v", err)
	}
	return id
}

// Persist writes every identity field to the NVS game namespace. On failure
// the in-RAM identity remains authoritative.
func (id Identity) Persist(store nvs.Store) error {
	if err := store.PutU8(nvs.NSGame, nvs.KeyDeviceID, id.DeviceID); err != nil {
		return err
	}
	if err := store.PutU8(nvs.NSGame, nvs.KeyPlayerID, id.PlayerID); err != nil {
		return err
	}
	if err := store.PutU8(nvs.NSGame, nvs.KeyTeamID, id.TeamID); err != nil {
		return err
	}
	if err := store.PutU32(nvs.NSGame, nvs.KeyColor, id.ColorRGB); err != nil {
		return err
	}
	return store.PutStr(nvs.NSGame, nvs.KeyDeviceName, id.DeviceName)
}

// clampName truncates device names to the persisted limit.
func clampName(name string) string {
	if len(name) > maxDeviceNameLen {
		return name[:maxDeviceNameLen]
	}
	return name
}
