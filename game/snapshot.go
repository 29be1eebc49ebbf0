package game

import "github.com/David-ssnd/rayz-endpoint/clock"

// Snapshot is a consistent copy of the engine state for status reports.
type Snapshot struct {
	Identity Identity
	Rules    Rules
	Live     Live

	// RemainingTimeS is nil when the game timer is disabled.
	RemainingTimeS *int
}

// Snapshot copies the current state out under the lock.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Identity: e.id,
		Rules:    e.rules,
		Live:     e.live,
	}
	if e.live.Running && e.live.EndTimeMS != 0 {
		ref := e.clk.NowMS()
		if e.live.Paused {
			// The countdown is frozen at the moment of pause.
			ref = e.pauseStartMS
		}
		rem := 0
		if !clock.Deadline(ref, e.live.EndTimeMS) {
			rem = int(clock.Since(e.live.EndTimeMS, ref)) / 1000
		}
		s.RemainingTimeS = &rem
	}
	return s
}

// RulesCopy returns a copy of the active ruleset.
func (e *Engine) RulesCopy() Rules {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rules
}
