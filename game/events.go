package game

// ShotEvent is emitted once per accepted trigger pull.
type ShotEvent struct {
	SeqID       uint8
	TimestampMS uint32
	PlayerID    uint8
	DeviceID    uint8
	AmmoLeft    int
}

// HitEvent is emitted for every non-ignored inbound hit.
type HitEvent struct {
	Invalid         bool // friendly fire rejected under team play
	Fatal           bool
	ShooterPlayerID uint8
	ShooterDeviceID uint8
	ShooterTeamID   uint8
	Damage          int
	HeartsLeft      int
	TimestampMS     uint32
}

// RespawnEvent is emitted when the respawn timer expires.
type RespawnEvent struct {
	TimestampMS uint32
	Hearts      int
}

// ReloadEvent is emitted when a reload completes.
type ReloadEvent struct {
	TimestampMS uint32
	Ammo        int
}

// Observer receives engine outputs. All callbacks run after the
// corresponding state transition has completed and outside the engine lock,
// so implementations may read snapshots freely but must tolerate being
// called from the engine's calling goroutine.
type Observer interface {
	OnShotFired(ShotEvent)
	OnHit(HitEvent)
	OnRespawn(RespawnEvent)
	OnReload(ReloadEvent)
	OnGameOver()
	OnStatusChanged()
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) OnShotFired(ShotEvent)  {}
func (NopObserver) OnHit(HitEvent)         {}
func (NopObserver) OnRespawn(RespawnEvent) {}
func (NopObserver) OnReload(ReloadEvent)   {}
func (NopObserver) OnGameOver()            {}
func (NopObserver) OnStatusChanged()       {}
