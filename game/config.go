package game

// ConfigDelta is a partial rules/identity update. Pointer fields distinguish
// "absent" from zero; numeric sentinels (-1) ride through the int fields.
type ConfigDelta struct {
	ResetToDefaults bool `json:"reset_to_defaults,omitempty"`

	// Identity
	DeviceID   *uint8  `json:"device_id,omitempty"`
	PlayerID   *uint8  `json:"player_id,omitempty"`
	TeamID     *uint8  `json:"team_id,omitempty"`
	ColorRGB   *uint32 `json:"color,omitempty"`
	DeviceName *string `json:"device_name,omitempty"`

	// Hardware / AV
	Volume        *int  `json:"volume,omitempty"`
	SoundProfile  *int  `json:"sound_profile,omitempty"`
	HapticEnabled *bool `json:"haptic_enabled,omitempty"`

	// Health
	MaxHearts         *int  `json:"max_hearts,omitempty"`
	SpawnHearts       *int  `json:"spawn_hearts,omitempty"`
	RespawnTimeMS     *int  `json:"respawn_time_ms,omitempty"`
	InvulnerabilityMS *int  `json:"invulnerability_ms,omitempty"`
	EnableHearts      *bool `json:"enable_hearts,omitempty"`

	// Damage
	DamageIn     *int  `json:"damage_in,omitempty"`
	DamageOut    *int  `json:"damage_out,omitempty"`
	FriendlyFire *bool `json:"friendly_fire,omitempty"`

	// Ammo
	MaxAmmo         *int  `json:"max_ammo,omitempty"`
	MagCapacity     *int  `json:"mag_capacity,omitempty"`
	ReloadTimeMS    *int  `json:"reload_time_ms,omitempty"`
	ShotRateLimitMS *int  `json:"shot_rate_limit_ms,omitempty"`
	UnlimitedAmmo   *bool `json:"unlimited_ammo,omitempty"`

	// Scoring
	KillScore   *int `json:"kill_score,omitempty"`
	HitScore    *int `json:"hit_score,omitempty"`
	AssistScore *int `json:"assist_score,omitempty"`
	ScoreToWin  *int `json:"score_to_win,omitempty"`

	// Timer
	GameDurationS *int `json:"game_duration_s,omitempty"`

	// Flags
	OvertimeEnabled    *bool `json:"overtime_enabled,omitempty"`
	SuddenDeath        *bool `json:"sudden_death,omitempty"`
	TeamPlay           *bool `json:"team_play,omitempty"`
	RandomTeamsOnStart *bool `json:"random_teams_on_start,omitempty"`
	HitSoundEnabled    *bool `json:"hit_sound_enabled,omitempty"`
}

// ConfigResult reports what a config application did.
type ConfigResult struct {
	Clamped bool `json:"clamped"`
}
