package game

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/David-ssnd/rayz-endpoint/clock"
	"github.com/David-ssnd/rayz-endpoint/nvs"
)

// ErrRejected marks an illegal game-command transition. State is unchanged.
var ErrRejected = errors.New("rejected")

// HitOutcome classifies what an inbound hit did.
type HitOutcome int

const (
	HitIgnored HitOutcome = iota // respawning or invulnerable, dropped silently
	HitInvalid                   // friendly fire rejected under team play
	HitApplied                   // damage applied, target survived
	HitFatal                     // damage applied, target died
)

// Engine owns the endpoint's game state: identity, rules and live state
// under a single non-recursive lock. All mutations happen through its
// methods; outputs are emitted through the Observer after the transition
// completes and outside the lock.
type Engine struct {
	mu    sync.Mutex
	clk   clock.Clock
	store nvs.Store

	id       Identity
	rules    Rules
	defaults Rules
	live     Live

	seqID        uint8
	lastDeathMS  uint32
	hasDied      bool
	pauseStartMS uint32

	obs Observer
}

// NewEngine builds an engine with the given boot defaults. The observer may
// be installed later via SetObserver; until then events are discarded.
func NewEngine(clk clock.Clock, store nvs.Store, id Identity, defaults Rules) *Engine {
	e := &Engine{
		clk:      clk,
		store:    store,
		id:       id,
		rules:    defaults,
		defaults: defaults,
		obs:      NopObserver{},
	}
	e.live.CurrentHearts = e.spawnHearts()
	e.live.CurrentAmmo = e.fullAmmo()
	return e
}

// SetObserver installs the event sink. Call once at wiring time, before any
// concurrent use.
func (e *Engine) SetObserver(obs Observer) {
	e.obs = obs
}

// Identity returns the current identity.
func (e *Engine) Identity() Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// spawnHearts resolves the heart count handed out on (re)spawn.
// Callers hold the lock or run before concurrency starts.
func (e *Engine) spawnHearts() int {
	if e.rules.SpawnHearts > 0 {
		return e.rules.SpawnHearts
	}
	if !e.rules.MaxHearts.IsInfinite() {
		return e.rules.MaxHearts.Int()
	}
	return 1
}

// fullAmmo resolves the magazine size restored by a reload.
func (e *Engine) fullAmmo() int {
	if e.rules.MagCapacity > 0 {
		return e.rules.MagCapacity
	}
	if !e.rules.MaxAmmo.IsInfinite() {
		return e.rules.MaxAmmo.Int()
	}
	return 0
}

// NoteTx counts one successfully transmitted peer frame.
func (e *Engine) NoteTx() {
	e.mu.Lock()
	e.live.TxCount++
	e.mu.Unlock()
}

// NoteRx counts one accepted inbound laser frame.
func (e *Engine) NoteRx() {
	e.mu.Lock()
	e.live.RxCount++
	e.live.LastRxMS = e.clk.NowMS()
	e.mu.Unlock()
}

// CreditKill adds one confirmed kill (peer HIT_EVENT or admin
// kill_confirmed).
func (e *Engine) CreditKill() {
	e.mu.Lock()
	e.live.Kills++
	e.mu.Unlock()
	e.obs.OnStatusChanged()
}

// CreditHit counts one landed hit confirmed by the victim's endpoint.
func (e *Engine) CreditHit() {
	e.mu.Lock()
	e.live.HitsLanded++
	e.mu.Unlock()
}

// CreditFriendlyFire counts a friendly-fire incident caused by this endpoint
// acting as the shooter.
func (e *Engine) CreditFriendlyFire() {
	e.mu.Lock()
	e.live.FriendlyFireCount++
	e.mu.Unlock()
}

// TriggerPull runs the shot state machine for one trigger event. ok is false
// when the shot is denied (busy, out of ammo, game not running); denial is
// silent by design, observable only through the absence of a shot event.
func (e *Engine) TriggerPull() (ShotEvent, bool) {
	e.mu.Lock()
	now := e.clk.NowMS()

	if !e.live.Running || e.live.Paused || e.live.IsRespawning || e.live.IsReloading {
		e.mu.Unlock()
		return ShotEvent{}, false
	}
	if e.live.ShotsFired > 0 && clock.Since(now, e.live.LastShotMS) < uint32(e.rules.ShotRateLimitMS) {
		e.mu.Unlock()
		return ShotEvent{}, false
	}
	hasAmmo := e.rules.MaxAmmo.IsInfinite() || e.rules.UnlimitedAmmo || e.live.CurrentAmmo > 0
	if !hasAmmo {
		e.mu.Unlock()
		return ShotEvent{}, false
	}

	if !e.rules.MaxAmmo.IsInfinite() && !e.rules.UnlimitedAmmo {
		e.live.CurrentAmmo--
	}
	e.live.LastShotMS = now
	e.live.ShotsFired++
	ev := ShotEvent{
		SeqID:       e.seqID,
		TimestampMS: now,
		PlayerID:    e.id.PlayerID,
		DeviceID:    e.id.DeviceID,
		AmmoLeft:    e.live.CurrentAmmo,
	}
	e.seqID++ // rolling, 256-modulo wrap

	// Auto-reload on running dry.
	if !e.rules.MaxAmmo.IsInfinite() && !e.rules.UnlimitedAmmo && e.live.CurrentAmmo == 0 {
		e.startReloadLocked(now)
	}
	e.mu.Unlock()

	e.obs.OnShotFired(ev)
	return ev, true
}

// RequestReload starts a manual reload. false when a reload is already
// running, the endpoint is respawning, or ammo is unbounded.
func (e *Engine) RequestReload() bool {
	e.mu.Lock()
	if e.live.IsReloading || e.live.IsRespawning ||
		e.rules.MaxAmmo.IsInfinite() || e.rules.UnlimitedAmmo {
		e.mu.Unlock()
		return false
	}
	e.startReloadLocked(e.clk.NowMS())
	e.mu.Unlock()
	return true
}

func (e *Engine) startReloadLocked(now uint32) {
	e.live.IsReloading = true
	e.live.ReloadEndMS = now + uint32(e.rules.ReloadTimeMS)
}

// HandleHit resolves one inbound hit against this endpoint. damage < 0 means
// "use the damage_in rule". teamKnown is false when the shooter's team could
// not be resolved from the peer table; friendly-fire filtering then does not
// apply.
func (e *Engine) HandleHit(shooterPlayer, shooterDevice, shooterTeam uint8, teamKnown bool, damage int) (HitEvent, HitOutcome) {
	e.mu.Lock()
	now := e.clk.NowMS()

	// Respawning or inside the post-death invulnerability window: silent drop.
	if e.live.IsRespawning {
		e.mu.Unlock()
		return HitEvent{}, HitIgnored
	}
	if e.hasDied && clock.Since(now, e.lastDeathMS) < uint32(e.rules.InvulnerabilityMS) {
		e.mu.Unlock()
		return HitEvent{}, HitIgnored
	}

	if damage < 0 {
		damage = e.rules.DamageIn
	}

	ev := HitEvent{
		ShooterPlayerID: shooterPlayer,
		ShooterDeviceID: shooterDevice,
		ShooterTeamID:   shooterTeam,
		Damage:          damage,
		TimestampMS:     now,
	}

	// Friendly fire under team play: no heart change. Counting the incident
	// against the shooter is the shooter's side's job.
	if e.rules.TeamPlay && teamKnown && shooterTeam == e.id.TeamID && !e.rules.FriendlyFire {
		ev.Invalid = true
		ev.HeartsLeft = e.live.CurrentHearts
		e.mu.Unlock()
		e.obs.OnHit(ev)
		return ev, HitInvalid
	}

	// Apply damage. Hearts are untouched when disabled or unbounded.
	if e.rules.EnableHearts && !e.rules.MaxHearts.IsInfinite() {
		e.live.CurrentHearts -= damage
		if e.live.CurrentHearts < 0 {
			e.live.CurrentHearts = 0
		}
	}
	ev.HeartsLeft = e.live.CurrentHearts

	outcome := HitApplied
	if e.live.CurrentHearts == 0 && e.rules.EnableHearts && !e.rules.MaxHearts.IsInfinite() {
		outcome = HitFatal
		ev.Fatal = true
		e.live.IsRespawning = true
		e.live.RespawnEndMS = now + uint32(e.rules.RespawnTimeMS)
		e.live.Deaths++
		e.lastDeathMS = now
		e.hasDied = true
	}
	e.mu.Unlock()

	e.obs.OnHit(ev)
	return ev, outcome
}

// Command runs the game command machine. Illegal transitions return
// ErrRejected with a reason and leave state unchanged.
func (e *Engine) Command(cmd GameCommand) error {
	e.mu.Lock()
	now := e.clk.NowMS()

	switch cmd {
	case CmdStart:
		if e.live.Running {
			e.mu.Unlock()
			return fmt.Errorf("%w: START while already running", ErrRejected)
		}
		e.live.Running = true
		e.live.Paused = false
		e.live.PauseAccumMS = 0
		if e.rules.GameDurationS > 0 {
			e.live.EndTimeMS = now + uint32(e.rules.GameDurationS)*1000
		} else {
			e.live.EndTimeMS = 0
		}

	case CmdStop:
		if !e.live.Running {
			e.mu.Unlock()
			return fmt.Errorf("%w: STOP while idle", ErrRejected)
		}
		e.live.Running = false
		e.live.Paused = false
		e.live.EndTimeMS = 0

	case CmdPause:
		if !e.live.Running || e.live.Paused {
			e.mu.Unlock()
			return fmt.Errorf("%w: PAUSE while not running", ErrRejected)
		}
		e.live.Paused = true
		e.pauseStartMS = now

	case CmdUnpause:
		if !e.live.Running || !e.live.Paused {
			e.mu.Unlock()
			return fmt.Errorf("%w: UNPAUSE while not paused", ErrRejected)
		}
		paused := clock.Since(now, e.pauseStartMS)
		e.live.Paused = false
		e.live.PauseAccumMS += paused
		if e.live.EndTimeMS != 0 {
			e.live.EndTimeMS += paused
		}

	case CmdReset:
		e.resetStatsLocked()

	default:
		e.mu.Unlock()
		return fmt.Errorf("%w: unknown command %d", ErrRejected, cmd)
	}
	e.mu.Unlock()

	e.obs.OnStatusChanged()
	return nil
}

// resetStatsLocked clears counters and runtime but keeps the running/paused
// phase and the timer deadline.
func (e *Engine) resetStatsLocked() {
	running, paused := e.live.Running, e.live.Paused
	end, accum := e.live.EndTimeMS, e.live.PauseAccumMS
	e.live = Live{
		Running:      running,
		Paused:       paused,
		EndTimeMS:    end,
		PauseAccumMS: accum,
	}
	e.live.CurrentHearts = e.spawnHearts()
	e.live.CurrentAmmo = e.fullAmmo()
	e.hasDied = false
	e.seqID = 0
}

// ResetLiveState is RESET without the command machine, used on role
// transition.
func (e *Engine) ResetLiveState() {
	e.mu.Lock()
	e.resetStatsLocked()
	e.mu.Unlock()
	e.obs.OnStatusChanged()
}

// Tick advances timed state: reload completion, respawn expiry, game over.
// Called at the 100 ms cadence.
func (e *Engine) Tick() {
	e.mu.Lock()
	now := e.clk.NowMS()

	var reload *ReloadEvent
	var respawn *RespawnEvent
	gameOver := false

	if e.live.IsReloading && clock.Deadline(now, e.live.ReloadEndMS) {
		e.live.IsReloading = false
		e.live.CurrentAmmo = e.fullAmmo()
		if !e.rules.MaxAmmo.IsInfinite() && e.live.CurrentAmmo > e.rules.MaxAmmo.Int() {
			e.live.CurrentAmmo = e.rules.MaxAmmo.Int()
		}
		reload = &ReloadEvent{TimestampMS: now, Ammo: e.live.CurrentAmmo}
	}

	if e.live.IsRespawning && clock.Deadline(now, e.live.RespawnEndMS) {
		e.live.IsRespawning = false
		e.live.CurrentHearts = e.spawnHearts()
		respawn = &RespawnEvent{TimestampMS: now, Hearts: e.live.CurrentHearts}
	}

	if e.live.Running && !e.live.Paused && e.live.EndTimeMS != 0 && clock.Deadline(now, e.live.EndTimeMS) {
		e.live.Running = false
		e.live.EndTimeMS = 0
		gameOver = true
	}
	e.mu.Unlock()

	if reload != nil {
		e.obs.OnReload(*reload)
	}
	if respawn != nil {
		e.obs.OnRespawn(*respawn)
	}
	if gameOver {
		e.obs.OnGameOver()
		e.obs.OnStatusChanged()
	}
}

// ApplyConfig applies a partial config update in the fixed order: defaults
// reset, identity, hardware/AV, numeric rules with clamping, liveness safety
// clamp, timer reconciliation, identity persistence. The status broadcast is
// the observer's OnStatusChanged.
func (e *Engine) ApplyConfig(delta ConfigDelta) ConfigResult {
	e.mu.Lock()
	now := e.clk.NowMS()
	var res ConfigResult

	// 1. Defaults first, so explicit fields below override them.
	if delta.ResetToDefaults {
		e.rules = e.defaults
	}

	// 2. Identity.
	if delta.DeviceID != nil {
		e.id.DeviceID = *delta.DeviceID
	}
	if delta.PlayerID != nil {
		e.id.PlayerID = *delta.PlayerID
	}
	if delta.TeamID != nil {
		e.id.TeamID = *delta.TeamID
	}
	if delta.ColorRGB != nil {
		e.id.ColorRGB = *delta.ColorRGB
	}
	if delta.DeviceName != nil {
		e.id.DeviceName = clampName(*delta.DeviceName)
	}

	// 3. Hardware / AV.
	if delta.Volume != nil {
		e.rules.Volume = clampInt(*delta.Volume, 0, maxVolume, &res.Clamped)
	}
	if delta.SoundProfile != nil {
		e.rules.SoundProfile = clampInt(*delta.SoundProfile, 0, maxSoundProfile, &res.Clamped)
	}
	if delta.HapticEnabled != nil {
		e.rules.HapticEnabled = *delta.HapticEnabled
	}

	// 4. Rules, numeric fields clamped per the bounds table.
	if delta.MaxHearts != nil {
		e.rules.MaxHearts = clampBounded(*delta.MaxHearts, minHearts, maxHearts, &res.Clamped)
	}
	if delta.SpawnHearts != nil {
		hi := maxHearts
		if !e.rules.MaxHearts.IsInfinite() {
			hi = e.rules.MaxHearts.Int()
		}
		e.rules.SpawnHearts = clampInt(*delta.SpawnHearts, minHearts, hi, &res.Clamped)
	}
	if delta.RespawnTimeMS != nil {
		e.rules.RespawnTimeMS = clampInt(*delta.RespawnTimeMS, 0, maxRespawnMS, &res.Clamped)
	}
	if delta.InvulnerabilityMS != nil {
		e.rules.InvulnerabilityMS = clampInt(*delta.InvulnerabilityMS, 0, maxInvulnMS, &res.Clamped)
	}
	if delta.EnableHearts != nil {
		e.rules.EnableHearts = *delta.EnableHearts
	}
	if delta.DamageIn != nil {
		e.rules.DamageIn = *delta.DamageIn
	}
	if delta.DamageOut != nil {
		e.rules.DamageOut = *delta.DamageOut
	}
	if delta.FriendlyFire != nil {
		e.rules.FriendlyFire = *delta.FriendlyFire
	}
	if delta.MaxAmmo != nil {
		e.rules.MaxAmmo = clampBounded(*delta.MaxAmmo, 0, maxAmmoCap, &res.Clamped)
	}
	if delta.MagCapacity != nil {
		e.rules.MagCapacity = clampInt(*delta.MagCapacity, 0, maxMagCapacity, &res.Clamped)
	}
	if delta.ReloadTimeMS != nil {
		e.rules.ReloadTimeMS = clampInt(*delta.ReloadTimeMS, 0, maxReloadMS, &res.Clamped)
	}
	if delta.ShotRateLimitMS != nil {
		e.rules.ShotRateLimitMS = clampInt(*delta.ShotRateLimitMS, minShotRateMS, maxShotRateMS, &res.Clamped)
	}
	if delta.UnlimitedAmmo != nil {
		e.rules.UnlimitedAmmo = *delta.UnlimitedAmmo
	}
	if delta.KillScore != nil {
		e.rules.KillScore = *delta.KillScore
	}
	if delta.HitScore != nil {
		e.rules.HitScore = *delta.HitScore
	}
	if delta.AssistScore != nil {
		e.rules.AssistScore = *delta.AssistScore
	}
	if delta.ScoreToWin != nil {
		e.rules.ScoreToWin = clampInt(*delta.ScoreToWin, 0, maxScoreToWin, &res.Clamped)
	}
	if delta.GameDurationS != nil {
		e.rules.GameDurationS = clampInt(*delta.GameDurationS, 0, maxGameDurationS, &res.Clamped)
	}
	if delta.OvertimeEnabled != nil {
		e.rules.OvertimeEnabled = *delta.OvertimeEnabled
	}
	if delta.SuddenDeath != nil {
		e.rules.SuddenDeath = *delta.SuddenDeath
	}
	if delta.TeamPlay != nil {
		e.rules.TeamPlay = *delta.TeamPlay
	}
	if delta.RandomTeamsOnStart != nil {
		e.rules.RandomTeamsOnStart = *delta.RandomTeamsOnStart
	}
	if delta.HitSoundEnabled != nil {
		e.rules.HitSoundEnabled = *delta.HitSoundEnabled
	}

	// 5. Liveness safety clamp. Lowering the cap clamps live state; raising
	// it never auto-heals or auto-refills.
	if !e.rules.MaxHearts.IsInfinite() && e.live.CurrentHearts > e.rules.MaxHearts.Int() {
		e.live.CurrentHearts = e.rules.MaxHearts.Int()
	}
	if !e.rules.MaxAmmo.IsInfinite() && e.live.CurrentAmmo > e.rules.MaxAmmo.Int() {
		e.live.CurrentAmmo = e.rules.MaxAmmo.Int()
	}

	// 6. Timer reconciliation for a game already in flight: any config
	// application restarts the countdown from now.
	if e.live.Running {
		if e.rules.GameDurationS > 0 {
			e.live.EndTimeMS = now + uint32(e.rules.GameDurationS)*1000
		} else {
			e.live.EndTimeMS = 0
		}
	}

	// 7. Identity is persisted; rules stay session-scoped in RAM.
	id := e.id
	e.mu.Unlock()

	if err := id.Persist(e.store); err != nil {
		log.Printf("game: config persist failed, RAM state stays authoritative: %v", err)
	}

	// 8. Status fan-out.
	e.obs.OnStatusChanged()
	return res
}
