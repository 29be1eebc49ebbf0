package game

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Bounded is a numeric rule value where -1 means "unbounded". The sentinel
// is preserved on the JSON wire for protocol compatibility.
type Bounded int32

// Infinite is the -1 sentinel.
const Infinite Bounded = -1

// IsInfinite reports whether the value is the unbounded sentinel.
func (b Bounded) IsInfinite() bool { return b == Infinite }

// Int returns the bounded value; callers must check IsInfinite first.
func (b Bounded) Int() int { return int(b) }

// Rules is the mutable game-configuration attribute set. Rules are
// session-scoped: they live in RAM and reset to defaults on boot.
type Rules struct {
	// Health
	MaxHearts         Bounded `json:"max_hearts" yaml:"max_hearts"`
	SpawnHearts       int     `json:"spawn_hearts" yaml:"spawn_hearts"`
	RespawnTimeMS     int     `json:"respawn_time_ms" yaml:"respawn_time_ms"`
	InvulnerabilityMS int     `json:"invulnerability_ms" yaml:"invulnerability_ms"`
	EnableHearts      bool    `json:"enable_hearts" yaml:"enable_hearts"`

	// Damage
	DamageIn     int  `json:"damage_in" yaml:"damage_in"`
	DamageOut    int  `json:"damage_out" yaml:"damage_out"`
	FriendlyFire bool `json:"friendly_fire" yaml:"friendly_fire"`

	// Ammo
	MaxAmmo         Bounded `json:"max_ammo" yaml:"max_ammo"`
	MagCapacity     int     `json:"mag_capacity" yaml:"mag_capacity"`
	ReloadTimeMS    int     `json:"reload_time_ms" yaml:"reload_time_ms"`
	ShotRateLimitMS int     `json:"shot_rate_limit_ms" yaml:"shot_rate_limit_ms"`
	UnlimitedAmmo   bool    `json:"unlimited_ammo" yaml:"unlimited_ammo"`

	// Scoring
	KillScore   int `json:"kill_score" yaml:"kill_score"`
	HitScore    int `json:"hit_score" yaml:"hit_score"`
	AssistScore int `json:"assist_score" yaml:"assist_score"`
	ScoreToWin  int `json:"score_to_win" yaml:"score_to_win"`

	// Timer. 0 = manual stop.
	GameDurationS int `json:"game_duration_s" yaml:"game_duration_s"`

	// Flags
	OvertimeEnabled    bool `json:"overtime_enabled" yaml:"overtime_enabled"`
	SuddenDeath        bool `json:"sudden_death" yaml:"sudden_death"`
	TeamPlay           bool `json:"team_play" yaml:"team_play"`
	RandomTeamsOnStart bool `json:"random_teams_on_start" yaml:"random_teams_on_start"`
	HitSoundEnabled    bool `json:"hit_sound_enabled" yaml:"hit_sound_enabled"`
	HapticEnabled      bool `json:"haptic_enabled" yaml:"haptic_enabled"`

	// Audio
	Volume       int `json:"volume" yaml:"volume"`
	SoundProfile int `json:"sound_profile" yaml:"sound_profile"`
}

// DefaultRules returns the factory ruleset.
func DefaultRules() Rules {
	return Rules{
		MaxHearts:         3,
		SpawnHearts:       3,
		RespawnTimeMS:     5000,
		InvulnerabilityMS: 2000,
		EnableHearts:      true,
		DamageIn:          1,
		DamageOut:         1,
		FriendlyFire:      false,
		MaxAmmo:           12,
		MagCapacity:       0,
		ReloadTimeMS:      2000,
		ShotRateLimitMS:   250,
		UnlimitedAmmo:     false,
		KillScore:         100,
		HitScore:          10,
		AssistScore:       25,
		ScoreToWin:        0,
		GameDurationS:     0,
		HitSoundEnabled:   true,
		HapticEnabled:     true,
		Volume:            80,
		SoundProfile:      0,
	}
}

// LoadDefaultRules reads a YAML rules preset to use as the boot defaults.
// Fields absent from the file keep their factory value.
func LoadDefaultRules(path string) (Rules, error) {
	r := DefaultRules()
	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("game: read defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("game: parse defaults: %w", err)
	}
	return r, nil
}

// Per-field clamp bounds. -1 is accepted only where the infinity sentinel is
// allowed.
const (
	minHearts        = 1
	maxHearts        = 99
	maxRespawnMS     = 30000
	maxInvulnMS      = 30000
	maxAmmoCap       = 65535
	maxMagCapacity   = 255
	maxReloadMS      = 30000
	minShotRateMS    = 50
	maxShotRateMS    = 2000
	maxGameDurationS = 7200
	maxScoreToWin    = 65535
	maxVolume        = 100
	maxSoundProfile  = 2
)

// clampInt coerces v into [lo, hi] and flips *clamped when coercion happened.
func clampInt(v, lo, hi int, clamped *bool) int {
	if v < lo {
		*clamped = true
		return lo
	}
	if v > hi {
		*clamped = true
		return hi
	}
	return v
}

// clampBounded is clampInt with the -1 sentinel passed through.
func clampBounded(v int, lo, hi int, clamped *bool) Bounded {
	if v == int(Infinite) {
		return Infinite
	}
	return Bounded(clampInt(v, lo, hi, clamped))
}
