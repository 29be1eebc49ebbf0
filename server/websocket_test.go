package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/David-ssnd/rayz-endpoint/clock"
	"github.com/David-ssnd/rayz-endpoint/game"
	"github.com/David-ssnd/rayz-endpoint/laser"
	"github.com/David-ssnd/rayz-endpoint/nvs"
	"github.com/David-ssnd/rayz-endpoint/peers"
)

// wsRig is a full endpoint wired over an in-memory peer mesh with a real
// HTTP server in front of the WS core.
type wsRig struct {
	engine *game.Engine
	ws     *WSServer
	router *Router
	bus    *peers.Bus
	table  *peers.Table
	clk    *clock.Fake
	srv    *httptest.Server
}

func newWSRig(t *testing.T, mutate func(*game.Rules)) *wsRig {
	t.Helper()
	clk := clock.NewFake(1000)
	rules := game.DefaultRules()
	if mutate != nil {
		mutate(&rules)
	}
	engine := game.NewEngine(clk, nvs.NewMemStore(), game.Identity{
		DeviceID: 5, PlayerID: 5, TeamID: 2, Role: game.RoleWeapon,
	}, rules)

	mesh := peers.NewPipeMesh()
	table := peers.NewTable()
	bus := peers.NewBus(mesh.Attach(peers.MAC{0xAA, 0, 0, 0, 0, 1}), table, clk)

	metrics := NewNopMetrics()
	ws := NewWSServer(engine, clk, metrics)
	router := NewRouter(engine, bus, table, ws, NopIR{}, NewSimIRReceiver(), clk, metrics)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &wsRig{engine: engine, ws: ws, router: router, bus: bus, table: table, clk: clk, srv: srv}
}

func (rig *wsRig) dial(t *testing.T, session string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(rig.srv.URL, "http") + "/ws"
	if session != "" {
		url += "?session=" + session
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrames drains frames until the deadline, returning each as a map.
func readFrames(t *testing.T, conn *websocket.Conn, window time.Duration) []map[string]any {
	t.Helper()
	var frames []map[string]any
	deadline := time.Now().Add(window)
	for {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return frames
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("unparsable frame %q: %v", raw, err)
		}
		frames = append(frames, m)
	}
}

func framesWithOp(frames []map[string]any, op int) []map[string]any {
	var out []map[string]any
	for _, f := range frames {
		if v, ok := f["op"].(float64); ok && int(v) == op {
			out = append(out, f)
		}
	}
	return out
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatal(err)
	}
}

func TestGetStatusByOpAndLegacyType(t *testing.T) {
	rig := newWSRig(t, nil)
	conn := rig.dial(t, "")

	send(t, conn, `{"op":1}`)
	send(t, conn, `{"type":"get_status"}`)

	frames := framesWithOp(readFrames(t, conn, 300*time.Millisecond), OpStatus)
	require.Len(t, frames, 2, "both op and legacy type must yield a status")

	status := frames[0]
	require.Equal(t, "status", status["type"])
	cfg := status["config"].(map[string]any)
	require.Equal(t, float64(5), cfg["player_id"], "ids are JSON numbers")
	state := status["state"].(map[string]any)
	require.Nil(t, state["remaining_time_s"], "timer disabled reports null")
	require.Contains(t, status, "uptime_ms")
}

func TestHeartbeatAck(t *testing.T) {
	rig := newWSRig(t, nil)
	conn := rig.dial(t, "")

	send(t, conn, `{"op":2}`)
	acks := framesWithOp(readFrames(t, conn, 300*time.Millisecond), OpHeartbeatAck)
	require.Len(t, acks, 1)
	require.Equal(t, "heartbeat_ack", acks[0]["type"])
	require.InDelta(t, 3.7, acks[0]["batt_voltage"].(float64), 0.01)
	require.Contains(t, acks[0], "rssi")
}

func TestConfigUpdateAckExactlyOnce(t *testing.T) {
	rig := newWSRig(t, nil)
	conn := rig.dial(t, "")

	send(t, conn, `{"op":3,"req_id":"rq-1","max_hearts":500}`)
	frames := readFrames(t, conn, 300*time.Millisecond)

	acks := framesWithOp(frames, OpAck)
	require.Len(t, acks, 1, "exactly one ack per req_id")
	require.Equal(t, "rq-1", acks[0]["reply_to"])
	require.Equal(t, true, acks[0]["success"])
	require.Equal(t, true, acks[0]["clamped"])

	// The new rules were broadcast as status.
	require.NotEmpty(t, framesWithOp(frames, OpStatus))
	require.Equal(t, game.Bounded(99), rig.engine.RulesCopy().MaxHearts)
}

func TestConfigUpdateWithoutReqIDHasNoAck(t *testing.T) {
	rig := newWSRig(t, nil)
	conn := rig.dial(t, "")

	send(t, conn, `{"op":3,"volume":50}`)
	frames := readFrames(t, conn, 300*time.Millisecond)
	require.Empty(t, framesWithOp(frames, OpAck))
	require.Equal(t, 50, rig.engine.RulesCopy().Volume)
}

func TestGameCommandRejectedTransition(t *testing.T) {
	rig := newWSRig(t, nil)
	conn := rig.dial(t, "")

	// UNPAUSE while idle must fail with reason, state unchanged.
	send(t, conn, `{"op":4,"req_id":"rq-2","command":4}`)
	frames := readFrames(t, conn, 300*time.Millisecond)
	acks := framesWithOp(frames, OpAck)
	require.Len(t, acks, 1)
	require.Equal(t, false, acks[0]["success"])
	require.NotEmpty(t, acks[0]["reason"])
	require.False(t, rig.engine.Snapshot().Live.Running)

	// START succeeds. A read deadline poisons a gorilla connection, so the
	// second phase uses a fresh session.
	conn2 := rig.dial(t, "")
	send(t, conn2, `{"op":4,"req_id":"rq-3","command":1}`)
	frames = readFrames(t, conn2, 300*time.Millisecond)
	acks = framesWithOp(frames, OpAck)
	require.Len(t, acks, 1)
	require.Equal(t, true, acks[0]["success"])
	require.True(t, rig.engine.Snapshot().Live.Running)
}

func TestKillConfirmed(t *testing.T) {
	rig := newWSRig(t, nil)
	conn := rig.dial(t, "")

	send(t, conn, `{"op":6,"req_id":"rq-4"}`)
	frames := readFrames(t, conn, 300*time.Millisecond)
	require.Len(t, framesWithOp(frames, OpAck), 1)
	require.Equal(t, uint32(1), rig.engine.Snapshot().Live.Kills)
}

func TestHitForwardInjectsSyntheticHit(t *testing.T) {
	rig := newWSRig(t, nil)
	require.NoError(t, rig.engine.Command(game.CmdStart))
	conn := rig.dial(t, "")

	send(t, conn, `{"op":5,"req_id":"rq-5","shooter_id":9,"damage":1}`)
	frames := readFrames(t, conn, 300*time.Millisecond)
	require.Len(t, framesWithOp(frames, OpAck), 1)
	reports := framesWithOp(frames, OpHitReport)
	require.NotEmpty(t, reports)
	require.Equal(t, float64(9), reports[0]["shooter_id"])
	require.Equal(t, game.DefaultRules().SpawnHearts-1, rig.engine.Snapshot().Live.CurrentHearts)
}

func TestRemoteSoundValidation(t *testing.T) {
	rig := newWSRig(t, nil)
	conn := rig.dial(t, "")

	send(t, conn, `{"op":7,"req_id":"rq-6","sound_id":2}`)
	send(t, conn, `{"op":7,"req_id":"rq-7","sound_id":9}`)
	frames := readFrames(t, conn, 300*time.Millisecond)
	acks := framesWithOp(frames, OpAck)
	require.Len(t, acks, 2)
	byReply := map[string]map[string]any{}
	for _, a := range acks {
		byReply[a["reply_to"].(string)] = a
	}
	require.Equal(t, true, byReply["rq-6"]["success"])
	require.Equal(t, false, byReply["rq-7"]["success"])
}

func TestUnknownOpIgnored(t *testing.T) {
	rig := newWSRig(t, nil)
	conn := rig.dial(t, "")

	send(t, conn, `{"op":99,"req_id":"rq-8"}`)
	send(t, conn, `{"type":"no_such_type"}`)
	frames := readFrames(t, conn, 300*time.Millisecond)
	require.Empty(t, frames, "unknown ops and types yield nothing, not even acks")
}

func TestClientTableCapacity(t *testing.T) {
	rig := newWSRig(t, nil)

	conns := make([]*websocket.Conn, 0, MaxClients)
	for i := 0; i < MaxClients; i++ {
		conns = append(conns, rig.dial(t, fmt.Sprintf("sess-%d", i)))
	}
	require.Eventually(t, func() bool { return rig.ws.ClientCount() == MaxClients },
		time.Second, 10*time.Millisecond)

	// The ninth handshake is refused.
	extra := rig.dial(t, "sess-overflow")
	extra.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := extra.ReadMessage()
	require.Error(t, err, "refused client sees the connection close")
	require.Equal(t, MaxClients, rig.ws.ClientCount())

	// A surviving client still works.
	send(t, conns[0], `{"op":1}`)
	require.NotEmpty(t, framesWithOp(readFrames(t, conns[0], 300*time.Millisecond), OpStatus))
}

func TestRehandshakeSameSessionReplacesRow(t *testing.T) {
	rig := newWSRig(t, nil)

	rig.dial(t, "sess-dup")
	require.Eventually(t, func() bool { return rig.ws.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	conn2 := rig.dial(t, "sess-dup")
	require.Eventually(t, func() bool { return rig.ws.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)
	require.Never(t, func() bool { return rig.ws.ClientCount() > 1 },
		200*time.Millisecond, 20*time.Millisecond)

	// The replacement session is live.
	send(t, conn2, `{"op":1}`)
	require.NotEmpty(t, framesWithOp(readFrames(t, conn2, 300*time.Millisecond), OpStatus))
}

func TestStaleClientEviction(t *testing.T) {
	rig := newWSRig(t, nil)
	rig.dial(t, "sess-stale")
	require.Eventually(t, func() bool { return rig.ws.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	// Silence past the stale window, then a sweep.
	rig.clk.Advance(StaleTimeoutMS + 1000)
	rig.ws.SweepStale()
	require.Equal(t, 0, rig.ws.ClientCount())
}

func TestEngineEventsReachClients(t *testing.T) {
	rig := newWSRig(t, func(r *game.Rules) {
		r.MaxHearts = 1
		r.SpawnHearts = 1
		r.RespawnTimeMS = 100
		r.InvulnerabilityMS = 0
	})
	require.NoError(t, rig.engine.Command(game.CmdStart))
	conn := rig.dial(t, "")

	// A fatal laser hit produces a hit_report and, after the respawn
	// window, a respawn frame.
	rig.router.HandleLaserFrame(laser.Encode(9, 9))
	rig.clk.Advance(200)
	rig.engine.Tick()

	frames := readFrames(t, conn, 400*time.Millisecond)
	reports := framesWithOp(frames, OpHitReport)
	require.Len(t, reports, 1)
	require.Equal(t, true, reports[0]["fatal"])
	require.Len(t, framesWithOp(frames, OpRespawn), 1)
}
