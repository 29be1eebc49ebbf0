package game

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/David-ssnd/rayz-endpoint/clock"
	"github.com/David-ssnd/rayz-endpoint/nvs"
)

// recordingObserver collects engine outputs for assertions.
type recordingObserver struct {
	shots    []ShotEvent
	hits     []HitEvent
	respawns []RespawnEvent
	reloads  []ReloadEvent
	gameOver int
	status   int
}

func (r *recordingObserver) OnShotFired(ev ShotEvent)  { r.shots = append(r.shots, ev) }
func (r *recordingObserver) OnHit(ev HitEvent)         { r.hits = append(r.hits, ev) }
func (r *recordingObserver) OnRespawn(ev RespawnEvent) { r.respawns = append(r.respawns, ev) }
func (r *recordingObserver) OnReload(ev ReloadEvent)   { r.reloads = append(r.reloads, ev) }
func (r *recordingObserver) OnGameOver()               { r.gameOver++ }
func (r *recordingObserver) OnStatusChanged()          { r.status++ }

func newTestEngine(t *testing.T, mutate func(*Rules)) (*Engine, *clock.Fake, *recordingObserver) {
	t.Helper()
	clk := clock.NewFake(1000)
	rules := DefaultRules()
	if mutate != nil {
		mutate(&rules)
	}
	id := Identity{DeviceID: 5, PlayerID: 5, TeamID: 2, Role: RoleWeapon}
	e := NewEngine(clk, nvs.NewMemStore(), id, rules)
	obs := &recordingObserver{}
	e.SetObserver(obs)
	return e, clk, obs
}

func startGame(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Command(CmdStart); err != nil {
		t.Fatal(err)
	}
}

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }
func u8p(v uint8) *uint8 { return &v }

func TestTriggerPullBasics(t *testing.T) {
	e, clk, obs := newTestEngine(t, nil)

	// Shots denied before START.
	if _, ok := e.TriggerPull(); ok {
		t.Fatal("shot allowed while idle")
	}
	startGame(t, e)

	ev, ok := e.TriggerPull()
	if !ok {
		t.Fatal("first shot denied")
	}
	if ev.SeqID != 0 || ev.AmmoLeft != 11 {
		t.Errorf("first shot = %+v", ev)
	}

	// Rate limited until shot_rate_limit_ms passes.
	if _, ok := e.TriggerPull(); ok {
		t.Error("shot allowed inside rate limit window")
	}
	clk.Advance(uint32(DefaultRules().ShotRateLimitMS) + 1)
	if _, ok := e.TriggerPull(); !ok {
		t.Error("shot denied after rate limit window")
	}
	if len(obs.shots) != 2 {
		t.Errorf("observer saw %d shots, want 2", len(obs.shots))
	}
}

func TestRollingSeqIDOverflow(t *testing.T) {
	// S5: 260 consecutive shots roll the seq through 255 back to 0.
	e, clk, obs := newTestEngine(t, func(r *Rules) {
		r.MaxAmmo = Infinite
	})
	startGame(t, e)

	for i := 0; i < 260; i++ {
		clk.Advance(uint32(DefaultRules().ShotRateLimitMS) + 1)
		if _, ok := e.TriggerPull(); !ok {
			t.Fatalf("shot %d denied", i)
		}
	}

	require.Len(t, obs.shots, 260)
	for i, ev := range obs.shots {
		require.Equal(t, uint8(i%256), ev.SeqID, "shot %d", i)
	}
	require.Equal(t, uint32(260), e.Snapshot().Live.ShotsFired)
}

func TestAutoReloadOnEmpty(t *testing.T) {
	e, clk, obs := newTestEngine(t, func(r *Rules) {
		r.MaxAmmo = 2
		r.ReloadTimeMS = 1000
	})
	startGame(t, e)

	for i := 0; i < 2; i++ {
		clk.Advance(300)
		if _, ok := e.TriggerPull(); !ok {
			t.Fatalf("shot %d denied", i)
		}
	}
	snap := e.Snapshot()
	if !snap.Live.IsReloading || snap.Live.CurrentAmmo != 0 {
		t.Fatalf("auto-reload not started: %+v", snap.Live)
	}

	// Shots denied while reloading.
	clk.Advance(300)
	if _, ok := e.TriggerPull(); ok {
		t.Error("shot allowed while reloading")
	}

	clk.Advance(800)
	e.Tick()
	snap = e.Snapshot()
	if snap.Live.IsReloading || snap.Live.CurrentAmmo != 2 {
		t.Fatalf("reload did not complete: %+v", snap.Live)
	}
	if len(obs.reloads) != 1 {
		t.Errorf("reload events = %d, want 1", len(obs.reloads))
	}
}

func TestMagCapacityOverridesMaxAmmoOnReload(t *testing.T) {
	e, clk, _ := newTestEngine(t, func(r *Rules) {
		r.MaxAmmo = 100
		r.MagCapacity = 6
		r.ReloadTimeMS = 500
	})
	startGame(t, e)
	if !e.RequestReload() {
		t.Fatal("reload denied")
	}
	clk.Advance(600)
	e.Tick()
	if got := e.Snapshot().Live.CurrentAmmo; got != 6 {
		t.Errorf("ammo after reload = %d, want mag capacity 6", got)
	}
}

func TestFatalHitAndRespawn(t *testing.T) {
	// S2: fatal hit schedules respawn; respawn restores spawn hearts.
	e, clk, obs := newTestEngine(t, func(r *Rules) {
		r.MaxHearts = 3
		r.SpawnHearts = 3
		r.DamageIn = 1
		r.RespawnTimeMS = 5000
		r.InvulnerabilityMS = 0
	})
	startGame(t, e)

	// Burn down to one heart.
	for i := 0; i < 2; i++ {
		_, outcome := e.HandleHit(9, 9, 0, false, -1)
		require.Equal(t, HitApplied, outcome)
		clk.Advance(3000)
	}

	ev, outcome := e.HandleHit(9, 9, 0, false, -1)
	require.Equal(t, HitFatal, outcome)
	require.True(t, ev.Fatal)
	require.Equal(t, uint8(9), ev.ShooterPlayerID)

	snap := e.Snapshot()
	require.Equal(t, 0, snap.Live.CurrentHearts)
	require.True(t, snap.Live.IsRespawning)
	require.Equal(t, uint32(1), snap.Live.Deaths)

	// Hits while respawning are dropped silently.
	hitsBefore := len(obs.hits)
	if _, outcome := e.HandleHit(9, 9, 0, false, -1); outcome != HitIgnored {
		t.Error("hit during respawn not ignored")
	}
	require.Len(t, obs.hits, hitsBefore)

	// Not yet.
	clk.Advance(4900)
	e.Tick()
	require.True(t, e.Snapshot().Live.IsRespawning)

	clk.Advance(200)
	e.Tick()
	snap = e.Snapshot()
	require.False(t, snap.Live.IsRespawning)
	require.Equal(t, 3, snap.Live.CurrentHearts)
	require.Len(t, obs.respawns, 1)
}

func TestInvulnerabilityWindowAfterRespawn(t *testing.T) {
	e, clk, _ := newTestEngine(t, func(r *Rules) {
		r.MaxHearts = 1
		r.SpawnHearts = 1
		r.RespawnTimeMS = 100
		r.InvulnerabilityMS = 2000
	})
	startGame(t, e)

	_, outcome := e.HandleHit(9, 9, 0, false, -1)
	require.Equal(t, HitFatal, outcome)
	clk.Advance(200)
	e.Tick()

	// Respawned but still inside the invulnerability window.
	if _, outcome := e.HandleHit(9, 9, 0, false, -1); outcome != HitIgnored {
		t.Error("hit inside invulnerability window not ignored")
	}
	clk.Advance(2000)
	if _, outcome := e.HandleHit(9, 9, 0, false, -1); outcome != HitFatal {
		t.Error("hit after invulnerability window ignored")
	}
}

func TestFriendlyFireRejectedUnderTeamPlay(t *testing.T) {
	// S1: same-team hit with friendly fire off: no heart change, one
	// invalid-hit event, local friendly_fire_count untouched.
	e, _, obs := newTestEngine(t, func(r *Rules) {
		r.TeamPlay = true
		r.FriendlyFire = false
	})
	startGame(t, e)

	before := e.Snapshot().Live.CurrentHearts
	ev, outcome := e.HandleHit(7, 7, 2, true, -1)
	require.Equal(t, HitInvalid, outcome)
	require.True(t, ev.Invalid)

	snap := e.Snapshot()
	require.Equal(t, before, snap.Live.CurrentHearts)
	require.Equal(t, uint32(0), snap.Live.FriendlyFireCount)
	require.Len(t, obs.hits, 1)
}

func TestFriendlyFireAppliedWhenEnabled(t *testing.T) {
	e, _, _ := newTestEngine(t, func(r *Rules) {
		r.TeamPlay = true
		r.FriendlyFire = true
	})
	startGame(t, e)
	if _, outcome := e.HandleHit(7, 7, 2, true, -1); outcome != HitApplied {
		t.Error("same-team hit not applied with friendly fire on")
	}
}

func TestInfiniteHeartsNeverDie(t *testing.T) {
	e, clk, _ := newTestEngine(t, func(r *Rules) {
		r.MaxHearts = Infinite
		r.InvulnerabilityMS = 0
	})
	startGame(t, e)
	for i := 0; i < 50; i++ {
		_, outcome := e.HandleHit(9, 9, 0, false, 10)
		require.Equal(t, HitApplied, outcome, "hit %d", i)
		clk.Advance(100)
	}
	snap := e.Snapshot()
	require.False(t, snap.Live.IsRespawning)
	require.Equal(t, uint32(0), snap.Live.Deaths)
}

func TestHeartsInvariantUnderHitSequences(t *testing.T) {
	// Property 1: 0 <= current_hearts <= max_hearts after every step.
	e, clk, _ := newTestEngine(t, func(r *Rules) {
		r.MaxHearts = 5
		r.SpawnHearts = 5
		r.DamageIn = 2
		r.RespawnTimeMS = 300
		r.InvulnerabilityMS = 0
	})
	startGame(t, e)

	for i := 0; i < 200; i++ {
		e.HandleHit(uint8(i%250), 9, 0, false, -1)
		if i%3 == 0 {
			clk.Advance(400)
			e.Tick()
		}
		snap := e.Snapshot()
		if snap.Live.CurrentHearts < 0 || snap.Live.CurrentHearts > 5 {
			t.Fatalf("step %d: hearts %d out of [0,5]", i, snap.Live.CurrentHearts)
		}
	}
}

func TestGameCommandTransitions(t *testing.T) {
	tests := []struct {
		name    string
		setup   []GameCommand
		cmd     GameCommand
		wantErr bool
	}{
		{"start from idle", nil, CmdStart, false},
		{"start while running", []GameCommand{CmdStart}, CmdStart, true},
		{"stop while idle", nil, CmdStop, true},
		{"stop while running", []GameCommand{CmdStart}, CmdStop, false},
		{"stop while paused", []GameCommand{CmdStart, CmdPause}, CmdStop, false},
		{"pause while idle", nil, CmdPause, true},
		{"pause while running", []GameCommand{CmdStart}, CmdPause, false},
		{"pause while paused", []GameCommand{CmdStart, CmdPause}, CmdPause, true},
		{"unpause while running", []GameCommand{CmdStart}, CmdUnpause, true},
		{"unpause while paused", []GameCommand{CmdStart, CmdPause}, CmdUnpause, false},
		{"reset while idle", nil, CmdReset, false},
		{"reset while running", []GameCommand{CmdStart}, CmdReset, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := newTestEngine(t, nil)
			for _, c := range tt.setup {
				if err := e.Command(c); err != nil {
					t.Fatalf("setup %v: %v", c, err)
				}
			}
			err := e.Command(tt.cmd)
			if tt.wantErr {
				if !errors.Is(err, ErrRejected) {
					t.Errorf("Command(%v) = %v, want ErrRejected", tt.cmd, err)
				}
			} else if err != nil {
				t.Errorf("Command(%v) = %v", tt.cmd, err)
			}
		})
	}
}

func TestResetKeepsPhaseClearsStats(t *testing.T) {
	e, clk, _ := newTestEngine(t, nil)
	startGame(t, e)
	clk.Advance(300)
	e.TriggerPull()
	e.HandleHit(9, 9, 0, false, -1)

	require.NoError(t, e.Command(CmdReset))
	snap := e.Snapshot()
	require.True(t, snap.Live.Running, "RESET must keep the running phase")
	require.Equal(t, uint32(0), snap.Live.ShotsFired)
	require.Equal(t, DefaultRules().SpawnHearts, snap.Live.CurrentHearts)
	require.Equal(t, 12, snap.Live.CurrentAmmo)
}

func TestGameTimer(t *testing.T) {
	// S4: 2 s duration, game over fires exactly once, shots denied after.
	e, clk, obs := newTestEngine(t, nil)
	res := e.ApplyConfig(ConfigDelta{GameDurationS: intp(2)})
	require.False(t, res.Clamped)
	startGame(t, e)

	snap := e.Snapshot()
	require.NotNil(t, snap.RemainingTimeS)
	require.Equal(t, 2, *snap.RemainingTimeS)

	clk.Advance(1900)
	e.Tick()
	require.True(t, e.Snapshot().Live.Running)
	require.Equal(t, 0, obs.gameOver)

	clk.Advance(200)
	e.Tick()
	require.False(t, e.Snapshot().Live.Running)
	require.Equal(t, 1, obs.gameOver)

	// Re-ticking must not fire game over again.
	clk.Advance(100)
	e.Tick()
	require.Equal(t, 1, obs.gameOver)

	if _, ok := e.TriggerPull(); ok {
		t.Error("shot allowed after game over")
	}
	startGame(t, e)
	clk.Advance(300)
	if _, ok := e.TriggerPull(); !ok {
		t.Error("shot denied after restart")
	}
}

func TestPauseFreezesTimer(t *testing.T) {
	e, clk, _ := newTestEngine(t, nil)
	e.ApplyConfig(ConfigDelta{GameDurationS: intp(10)})
	startGame(t, e)

	clk.Advance(2000)
	require.NoError(t, e.Command(CmdPause))
	pausedRemaining := *e.Snapshot().RemainingTimeS

	// Time passing while paused changes nothing.
	clk.Advance(30000)
	e.Tick()
	snap := e.Snapshot()
	require.True(t, snap.Live.Running)
	require.Equal(t, pausedRemaining, *snap.RemainingTimeS)

	require.NoError(t, e.Command(CmdUnpause))
	snap = e.Snapshot()
	require.Equal(t, pausedRemaining, *snap.RemainingTimeS)
	require.Equal(t, uint32(30000), snap.Live.PauseAccumMS)

	// The remaining time now drains normally.
	clk.Advance(uint32(pausedRemaining)*1000 + 100)
	e.Tick()
	require.False(t, e.Snapshot().Live.Running)
}

func TestConfigClampThenLiveLower(t *testing.T) {
	// S3: lowering max_hearts clamps live hearts; raising never heals.
	e, _, _ := newTestEngine(t, func(r *Rules) {
		r.MaxHearts = 5
		r.SpawnHearts = 5
	})

	res := e.ApplyConfig(ConfigDelta{MaxHearts: intp(3)})
	require.False(t, res.Clamped, "in-bounds value must not set clamped")
	require.Equal(t, 3, e.Snapshot().Live.CurrentHearts)

	res = e.ApplyConfig(ConfigDelta{MaxHearts: intp(10)})
	require.False(t, res.Clamped)
	require.Equal(t, 3, e.Snapshot().Live.CurrentHearts, "raising max_hearts must not auto-heal")
}

func TestConfigClampBounds(t *testing.T) {
	tests := []struct {
		name  string
		delta ConfigDelta
		check func(t *testing.T, r Rules)
	}{
		{
			"max_hearts above cap",
			ConfigDelta{MaxHearts: intp(500)},
			func(t *testing.T, r Rules) {
				if r.MaxHearts != 99 {
					t.Errorf("MaxHearts = %d, want 99", r.MaxHearts)
				}
			},
		},
		{
			"max_hearts infinity passes through",
			ConfigDelta{MaxHearts: intp(-1), SpawnHearts: intp(200)},
			func(t *testing.T, r Rules) {
				if !r.MaxHearts.IsInfinite() {
					t.Errorf("MaxHearts = %d, want -1", r.MaxHearts)
				}
			},
		},
		{
			"shot rate below floor",
			ConfigDelta{ShotRateLimitMS: intp(0)},
			func(t *testing.T, r Rules) {
				if r.ShotRateLimitMS != 50 {
					t.Errorf("ShotRateLimitMS = %d, want 50", r.ShotRateLimitMS)
				}
			},
		},
		{
			"spawn_hearts above max_hearts",
			ConfigDelta{MaxHearts: intp(4), SpawnHearts: intp(9)},
			func(t *testing.T, r Rules) {
				if r.SpawnHearts != 4 {
					t.Errorf("SpawnHearts = %d, want 4", r.SpawnHearts)
				}
			},
		},
		{
			"respawn time negative sentinel not allowed",
			ConfigDelta{RespawnTimeMS: intp(-1)},
			func(t *testing.T, r Rules) {
				if r.RespawnTimeMS != 0 {
					t.Errorf("RespawnTimeMS = %d, want 0", r.RespawnTimeMS)
				}
			},
		},
		{
			"volume above cap",
			ConfigDelta{Volume: intp(150)},
			func(t *testing.T, r Rules) {
				if r.Volume != 100 {
					t.Errorf("Volume = %d, want 100", r.Volume)
				}
			},
		},
		{
			"duration above cap",
			ConfigDelta{GameDurationS: intp(10000)},
			func(t *testing.T, r Rules) {
				if r.GameDurationS != 7200 {
					t.Errorf("GameDurationS = %d, want 7200", r.GameDurationS)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := newTestEngine(t, nil)
			res := e.ApplyConfig(tt.delta)
			if !res.Clamped {
				t.Error("out-of-bounds delta did not set clamped")
			}
			tt.check(t, e.RulesCopy())
		})
	}
}

func TestConfigApplicationIdempotent(t *testing.T) {
	// Property 4: apply(apply(C,R),R) = apply(C,R).
	delta := ConfigDelta{
		MaxHearts:       intp(500),
		SpawnHearts:     intp(9),
		ShotRateLimitMS: intp(10),
		Volume:          intp(-5),
		MaxAmmo:         intp(-1),
		TeamPlay:        boolp(true),
	}
	e, _, _ := newTestEngine(t, nil)
	e.ApplyConfig(delta)
	first := e.RulesCopy()
	e.ApplyConfig(delta)
	if e.RulesCopy() != first {
		t.Errorf("second application changed rules:\n first: %+v\nsecond: %+v", first, e.RulesCopy())
	}
}

func TestConfigResetToDefaultsAppliesFirst(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	e.ApplyConfig(ConfigDelta{MaxHearts: intp(9), Volume: intp(10)})

	// Reset plus an explicit field: defaults land first, then the field.
	e.ApplyConfig(ConfigDelta{ResetToDefaults: true, Volume: intp(55)})
	r := e.RulesCopy()
	if r.MaxHearts != DefaultRules().MaxHearts {
		t.Errorf("MaxHearts = %d, want factory %d", r.MaxHearts, DefaultRules().MaxHearts)
	}
	if r.Volume != 55 {
		t.Errorf("Volume = %d, want explicit 55", r.Volume)
	}
}

func TestConfigIdentityPersisted(t *testing.T) {
	clk := clock.NewFake(0)
	store := nvs.NewMemStore()
	e := NewEngine(clk, store, Identity{DeviceID: 1, PlayerID: 1, Role: RoleTarget}, DefaultRules())
	e.SetObserver(NopObserver{})

	name := "Arena-North"
	e.ApplyConfig(ConfigDelta{PlayerID: u8p(42), TeamID: u8p(3), DeviceName: &name})

	if v, ok, _ := store.GetU8(nvs.NSGame, nvs.KeyPlayerID); !ok || v != 42 {
		t.Errorf("player_id not persisted: (%d, %v)", v, ok)
	}
	if v, ok, _ := store.GetU8(nvs.NSGame, nvs.KeyTeamID); !ok || v != 3 {
		t.Errorf("team_id not persisted: (%d, %v)", v, ok)
	}
	if v, _, _ := store.GetStr(nvs.NSGame, nvs.KeyDeviceName); v != "Arena-North" {
		t.Errorf("device_name not persisted: %q", v)
	}
}

func TestAmmoInvariantUnderShots(t *testing.T) {
	// Property 2: ammo stays within [0, max]; shots_fired is monotone.
	e, clk, _ := newTestEngine(t, func(r *Rules) {
		r.MaxAmmo = 5
		r.ReloadTimeMS = 100
	})
	startGame(t, e)

	var lastShots uint32
	for i := 0; i < 100; i++ {
		clk.Advance(300)
		e.TriggerPull()
		e.Tick()
		snap := e.Snapshot()
		if snap.Live.CurrentAmmo < 0 || snap.Live.CurrentAmmo > 5 {
			t.Fatalf("ammo %d out of [0,5]", snap.Live.CurrentAmmo)
		}
		if snap.Live.ShotsFired < lastShots {
			t.Fatal("shots_fired went backwards")
		}
		lastShots = snap.Live.ShotsFired
	}
}
