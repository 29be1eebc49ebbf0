package server

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/David-ssnd/rayz-endpoint/clock"
	"github.com/David-ssnd/rayz-endpoint/game"
	"github.com/David-ssnd/rayz-endpoint/laser"
	"github.com/David-ssnd/rayz-endpoint/peers"
)

const (
	// tickInterval is the control cycle driving respawn/reload/game-over
	// checks, stale sweeps and heartbeat scheduling.
	tickInterval = 100 * time.Millisecond

	// heartbeatEveryTicks spaces peer HEARTBEAT datagrams (10 s).
	heartbeatEveryTicks = 100

	// peerRecvTimeout bounds each drain of the peer receive queue.
	peerRecvTimeout = 500 * time.Millisecond
)

// Router owns the rules about where events flow: laser RX into the engine,
// engine outputs to the IR LED, the peer bus and the WS clients, peer
// datagrams back into the engine. It is the engine's Observer.
type Router struct {
	engine  *game.Engine
	bus     *peers.Bus
	table   *peers.Table
	ws      *WSServer
	ir      IRTransmitter
	clk     clock.Clock
	metrics *Metrics

	// peerSeq is the rolling sequence stamped into outbound datagrams;
	// receivers use it for de-duplication.
	peerSeq atomic.Uint32
}

// NewRouter wires the glue layer. It installs itself as the engine observer,
// as the WS hit-forward sink and as the IR receiver's frame handler.
func NewRouter(engine *game.Engine, bus *peers.Bus, table *peers.Table, ws *WSServer, irTX IRTransmitter, irRX IRReceiver, clk clock.Clock, metrics *Metrics) *Router {
	r := &Router{
		engine:  engine,
		bus:     bus,
		table:   table,
		ws:      ws,
		ir:      irTX,
		clk:     clk,
		metrics: metrics,
	}
	engine.SetObserver(r)
	ws.SetHitForward(r.InjectHit)
	irRX.SetHandler(r.HandleLaserFrame)
	return r
}

// Run drives the control cycle and the peer receive loop until ctx ends.
func (r *Router) Run(ctx context.Context) error {
	go r.peerLoop(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	tickCount := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.engine.Tick()
			r.ws.SweepStale()
			tickCount++
			if tickCount%heartbeatEveryTicks == 0 {
				r.table.Sweep(r.clk.NowMS(), peers.StaleTimeoutMS)
				r.sendHeartbeat()
			}
		}
	}
}

// peerLoop drains the bus receive queue into the engine.
func (r *Router) peerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		rx, ok := r.bus.Receive(peerRecvTimeout)
		if !ok {
			continue
		}
		r.HandlePeerDatagram(rx.Datagram, rx.Src)
	}
}

// HandleLaserFrame validates an inbound IR frame and feeds the engine. The
// shooter's team is resolved from the peer table when the shooter has
// announced itself.
func (r *Router) HandleLaserFrame(frame uint32) {
	playerID, deviceID, ok := laser.Decode(frame)
	if !ok {
		r.metrics.LaserRejects.Inc()
		return
	}
	r.engine.NoteRx()
	r.metrics.LaserRX.Inc()

	team, teamKnown := uint8(0), false
	if info, found := r.table.FindByPlayer(playerID); found {
		team, teamKnown = info.TeamID, true
	}
	r.engine.HandleHit(playerID, deviceID, team, teamKnown, -1)
}

// InjectHit is the hit_forward debug path: a synthetic hit as if shooterID
// had scored.
func (r *Router) InjectHit(shooterID, shooterTeam uint8, teamKnown bool, damage int) {
	r.engine.HandleHit(shooterID, 0, shooterTeam, teamKnown, damage)
}

// HandlePeerDatagram de-duplicates and routes one inbound bus message.
func (r *Router) HandlePeerDatagram(d peers.Datagram, src peers.MAC) {
	now := r.clk.NowMS()
	if !r.table.Accept(src, d.Seq, now) {
		r.metrics.PeerDups.Inc()
		return
	}
	r.table.Observe(src, d, now)
	r.metrics.PeerRX.Inc()

	switch d.Type {
	case peers.TypeHeartbeat:
		// Identity refresh only; Observe already recorded it.

	case peers.TypeShot:
		// Informational: peers' shots feed telemetry, not game state.

	case peers.TypeHitEvent:
		// A victim credits the shooter named in data; if that is us, the
		// kill (and the landed hit) count.
		if uint8(d.Data) == r.engine.Identity().PlayerID {
			r.engine.CreditHit()
			r.engine.CreditKill()
		}

	case peers.TypeFriendlyFire:
		// A teammate rejected our hit; the incident counts against us as
		// the shooter.
		if uint8(d.Data) == r.engine.Identity().PlayerID {
			r.engine.CreditFriendlyFire()
		}

	default:
		log.Printf("router: unknown peer datagram type %d from %s", d.Type, src)
	}
}

// datagram builds an outbound datagram stamped with identity and the next
// rolling sequence.
func (r *Router) datagram(dgType uint8, data uint32) peers.Datagram {
	id := r.engine.Identity()
	return peers.Datagram{
		Type:     dgType,
		Version:  peers.ProtocolVersion,
		PlayerID: id.PlayerID,
		DeviceID: id.DeviceID,
		TeamID:   id.TeamID,
		ColorRGB: id.ColorRGB,
		Seq:      r.peerSeq.Add(1),
		Data:     data,
	}
}

// sendHeartbeat announces identity so peers can auto-register this endpoint.
func (r *Router) sendHeartbeat() {
	d := r.datagram(peers.TypeHeartbeat, 0)
	if r.bus.Broadcast(&d) {
		r.engine.NoteTx()
		r.metrics.PeerTX.Inc()
	}
}

// OnShotFired puts the frame on the IR LED, tells the peers and the WS
// clients.
func (r *Router) OnShotFired(ev game.ShotEvent) {
	if err := r.ir.Transmit(laser.Encode(ev.PlayerID, ev.DeviceID)); err != nil {
		log.Printf("router: IR transmit failed: %v", err)
	}
	r.metrics.ShotsFired.Inc()

	d := r.datagram(peers.TypeShot, uint32(ev.SeqID))
	if r.bus.Broadcast(&d) {
		r.engine.NoteTx()
		r.metrics.PeerTX.Inc()
	}

	r.ws.Broadcast(shotFiredFrame{
		Op:          OpShotFired,
		Type:        "shot_fired",
		SeqID:       ev.SeqID,
		TimestampMS: ev.TimestampMS,
		PlayerID:    ev.PlayerID,
		Ammo:        ev.AmmoLeft,
	})
}

// OnHit reports the hit to the WS clients; fatal hits additionally send a
// HIT_EVENT so the shooter can credit the kill, unicast when the shooter's
// MAC is known.
func (r *Router) OnHit(ev game.HitEvent) {
	frameType := "hit_report"
	if ev.Invalid {
		frameType = "hit_invalid"
	} else {
		r.metrics.HitsTaken.Inc()
	}
	r.ws.Broadcast(hitReportFrame{
		Op:          OpHitReport,
		Type:        frameType,
		Fatal:       ev.Fatal,
		ShooterID:   ev.ShooterPlayerID,
		Damage:      ev.Damage,
		HeartsLeft:  ev.HeartsLeft,
		TimestampMS: ev.TimestampMS,
	})

	if ev.Fatal {
		r.notifyShooter(peers.TypeHitEvent, ev.ShooterPlayerID)
	}
	if ev.Invalid {
		// The shooter counts the friendly-fire incident against itself.
		r.notifyShooter(peers.TypeFriendlyFire, ev.ShooterPlayerID)
	}
}

// notifyShooter sends a datagram crediting (or debiting) the shooter,
// unicast when its MAC is known.
func (r *Router) notifyShooter(dgType, shooterPlayerID uint8) {
	d := r.datagram(dgType, uint32(shooterPlayerID))
	sent := false
	if info, found := r.table.FindByPlayer(shooterPlayerID); found {
		sent = r.bus.Send(info.MAC, &d)
	} else {
		sent = r.bus.Broadcast(&d)
	}
	if sent {
		r.engine.NoteTx()
		r.metrics.PeerTX.Inc()
	}
}

// OnRespawn tells the WS clients the endpoint is back.
func (r *Router) OnRespawn(ev game.RespawnEvent) {
	r.ws.Broadcast(respawnFrame{
		Op:          OpRespawn,
		Type:        "respawn",
		Hearts:      ev.Hearts,
		TimestampMS: ev.TimestampMS,
	})
}

// OnReload tells the WS clients the magazine is full again.
func (r *Router) OnReload(ev game.ReloadEvent) {
	r.ws.Broadcast(reloadFrame{
		Op:          OpReloadEvent,
		Type:        "reload_event",
		Ammo:        ev.Ammo,
		TimestampMS: ev.TimestampMS,
	})
}

// OnGameOver announces the end of the game.
func (r *Router) OnGameOver() {
	r.ws.Broadcast(gameOverFrame{Op: OpGameOver, Type: "game_over"})
}

// OnStatusChanged republishes the status report.
func (r *Router) OnStatusChanged() {
	r.ws.BroadcastStatus()
}
