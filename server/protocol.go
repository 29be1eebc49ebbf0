// Package server hosts the endpoint's admin surface: the WebSocket core,
// the v2.2 opcode protocol, the HTTP API, the connection supervisor and the
// message router gluing the engine to the laser and peer transports.
package server

import (
	"encoding/json"

	"github.com/David-ssnd/rayz-endpoint/game"
)

// Protocol v2.2 opcodes. Inbound 1-7, outbound 10-20. Both op (authoritative)
// and the canonical type string are emitted; on input op wins when present.
const (
	OpGetStatus     = 1
	OpHeartbeat     = 2
	OpConfigUpdate  = 3
	OpGameCommand   = 4
	OpHitForward    = 5
	OpKillConfirmed = 6
	OpRemoteSound   = 7

	OpStatus       = 10
	OpHeartbeatAck = 11
	OpShotFired    = 12
	OpHitReport    = 13
	OpRespawn      = 14
	OpReloadEvent  = 15
	OpGameOver     = 16
	OpAck          = 20
)

// legacyTypes maps pre-2.2 type strings accepted when op is absent.
var legacyTypes = map[string]int{
	"get_status":    OpGetStatus,
	"heartbeat":     OpHeartbeat,
	"config_update": OpConfigUpdate,
}

// inboundEnvelope is the part of every client frame the dispatcher needs.
type inboundEnvelope struct {
	Op    int    `json:"op"`
	Type  string `json:"type"`
	ReqID string `json:"req_id"`
}

// gameCommandMsg is the op 4 payload.
type gameCommandMsg struct {
	Command *int `json:"command"`
}

// hitForwardMsg is the op 5 payload: a synthetic hit for debugging.
type hitForwardMsg struct {
	ShooterID   *int `json:"shooter_id"`
	ShooterTeam *int `json:"shooter_team"`
	Damage      *int `json:"damage"`
}

// remoteSoundMsg is the op 7 payload.
type remoteSoundMsg struct {
	SoundID *int `json:"sound_id"`
}

// ackFrame is the op 20 reply echoed for every req_id-bearing command.
type ackFrame struct {
	Op      int    `json:"op"`
	Type    string `json:"type"`
	ReplyTo string `json:"reply_to"`
	Success bool   `json:"success"`
	Clamped bool   `json:"clamped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func newAck(reqID string, success bool) ackFrame {
	return ackFrame{Op: OpAck, Type: "ack", ReplyTo: reqID, Success: success}
}

// heartbeatAckFrame is the op 11 reply.
type heartbeatAckFrame struct {
	Op          int     `json:"op"`
	Type        string  `json:"type"`
	BattVoltage float64 `json:"batt_voltage"`
	RSSI        int     `json:"rssi"`
}

// shotFiredFrame is the op 12 broadcast.
type shotFiredFrame struct {
	Op          int    `json:"op"`
	Type        string `json:"type"`
	SeqID       uint8  `json:"seq_id"`
	TimestampMS uint32 `json:"timestamp_ms"`
	PlayerID    uint8  `json:"player_id"`
	Ammo        int    `json:"ammo"`
}

// hitReportFrame is the op 13 broadcast; type is hit_invalid for friendly
// fire rejected under team play.
type hitReportFrame struct {
	Op          int    `json:"op"`
	Type        string `json:"type"`
	Fatal       bool   `json:"fatal"`
	ShooterID   uint8  `json:"shooter_id"`
	Damage      int    `json:"damage"`
	HeartsLeft  int    `json:"hearts_left"`
	TimestampMS uint32 `json:"timestamp_ms"`
}

// respawnFrame is the op 14 broadcast.
type respawnFrame struct {
	Op          int    `json:"op"`
	Type        string `json:"type"`
	Hearts      int    `json:"hearts"`
	TimestampMS uint32 `json:"timestamp_ms"`
}

// reloadFrame is the op 15 broadcast.
type reloadFrame struct {
	Op          int    `json:"op"`
	Type        string `json:"type"`
	Ammo        int    `json:"ammo"`
	TimestampMS uint32 `json:"timestamp_ms"`
}

// gameOverFrame is the op 16 broadcast.
type gameOverFrame struct {
	Op   int    `json:"op"`
	Type string `json:"type"`
}

// statusFrame is the authoritative op 10 report.
type statusFrame struct {
	Op       int          `json:"op"`
	Type     string       `json:"type"`
	UptimeMS uint32       `json:"uptime_ms"`
	Config   statusConfig `json:"config"`
	Stats    statusStats  `json:"stats"`
	State    statusState  `json:"state"`
}

// statusConfig is the identity plus the active rules.
type statusConfig struct {
	DeviceID   uint8     `json:"device_id"`
	PlayerID   uint8     `json:"player_id"`
	TeamID     uint8     `json:"team_id"`
	Color      uint32    `json:"color"`
	Role       game.Role `json:"role"`
	DeviceName string    `json:"device_name"`
	game.Rules
}

type statusStats struct {
	Shots         uint32 `json:"shots"`
	EnemyKills    uint32 `json:"enemy_kills"`
	FriendlyKills uint32 `json:"friendly_kills"`
	Deaths        uint32 `json:"deaths"`
}

type statusState struct {
	CurrentHearts  int  `json:"current_hearts"`
	CurrentAmmo    int  `json:"current_ammo"`
	IsRespawning   bool `json:"is_respawning"`
	IsReloading    bool `json:"is_reloading"`
	RemainingTimeS *int `json:"remaining_time_s"`
}

// buildStatus renders an engine snapshot as the op 10 frame.
func buildStatus(snap game.Snapshot, uptimeMS uint32) statusFrame {
	return statusFrame{
		Op:       OpStatus,
		Type:     "status",
		UptimeMS: uptimeMS,
		Config: statusConfig{
			DeviceID:   snap.Identity.DeviceID,
			PlayerID:   snap.Identity.PlayerID,
			TeamID:     snap.Identity.TeamID,
			Color:      snap.Identity.ColorRGB,
			Role:       snap.Identity.Role,
			DeviceName: snap.Identity.DeviceName,
			Rules:      snap.Rules,
		},
		Stats: statusStats{
			Shots:         snap.Live.ShotsFired,
			EnemyKills:    snap.Live.Kills,
			FriendlyKills: snap.Live.FriendlyFireCount,
			Deaths:        snap.Live.Deaths,
		},
		State: statusState{
			CurrentHearts:  snap.Live.CurrentHearts,
			CurrentAmmo:    snap.Live.CurrentAmmo,
			IsRespawning:   snap.Live.IsRespawning,
			IsReloading:    snap.Live.IsReloading,
			RemainingTimeS: snap.RemainingTimeS,
		},
	}
}

// marshalFrame serializes an outbound frame, panicking only on programmer
// error (every frame type here is marshalable).
func marshalFrame(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("server: unmarshalable frame: " + err.Error())
	}
	return data
}
