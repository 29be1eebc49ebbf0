package server

import (
	"encoding/json"
	"log"

	"github.com/David-ssnd/rayz-endpoint/game"
)

// dispatch routes one inbound admin frame. op is authoritative; when absent
// the legacy type string is mapped; anything else is ignored. Every
// recognized command carrying a req_id is answered by exactly one ack;
// ignored frames get no ack.
func (s *WSServer) dispatch(c *Client, raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("ws: client %s sent unparsable frame: %v", c.handle, err)
		return
	}

	op := env.Op
	if op == 0 {
		mapped, ok := legacyTypes[env.Type]
		if !ok {
			return
		}
		op = mapped
	}

	ack := newAck(env.ReqID, true)

	switch op {
	case OpGetStatus:
		s.sendTo(c, buildStatus(s.engine.Snapshot(), s.clk.NowMS()))

	case OpHeartbeat:
		s.sendTo(c, heartbeatAckFrame{
			Op:          OpHeartbeatAck,
			Type:        "heartbeat_ack",
			BattVoltage: float64(s.battery.VoltageMV()) / 1000,
			RSSI:        s.rssi(),
		})

	case OpConfigUpdate:
		var delta game.ConfigDelta
		if err := json.Unmarshal(raw, &delta); err != nil {
			ack.Success = false
			ack.Reason = "malformed config_update"
			break
		}
		res := s.engine.ApplyConfig(delta)
		ack.Clamped = res.Clamped

	case OpGameCommand:
		var msg gameCommandMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Command == nil {
			ack.Success = false
			ack.Reason = "missing command"
			break
		}
		if err := s.engine.Command(game.GameCommand(*msg.Command)); err != nil {
			ack.Success = false
			ack.Reason = err.Error()
		}

	case OpHitForward:
		var msg hitForwardMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.ShooterID == nil {
			ack.Success = false
			ack.Reason = "missing shooter_id"
			break
		}
		damage := -1
		if msg.Damage != nil {
			damage = *msg.Damage
		}
		team, teamKnown := uint8(0), false
		if msg.ShooterTeam != nil {
			team, teamKnown = uint8(*msg.ShooterTeam), true
		}
		if s.hitForward != nil {
			s.hitForward(uint8(*msg.ShooterID), team, teamKnown, damage)
		} else {
			s.engine.HandleHit(uint8(*msg.ShooterID), 0, team, teamKnown, damage)
		}

	case OpKillConfirmed:
		s.engine.CreditKill()

	case OpRemoteSound:
		var msg remoteSoundMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.SoundID == nil ||
			*msg.SoundID < 0 || *msg.SoundID > 3 {
			ack.Success = false
			ack.Reason = "invalid sound_id"
			break
		}
		s.sound.Play(*msg.SoundID)

	default:
		// Unknown op values are ignored, req_id or not.
		return
	}

	if env.ReqID != "" {
		s.sendTo(c, ack)
	}
}
