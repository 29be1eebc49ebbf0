package server

import (
	"log"
	"sync"
)

// IRTransmitter is the IR-LED driver port: it puts one encoded laser frame
// on the air.
type IRTransmitter interface {
	Transmit(frame uint32) error
}

// IRReceiver is the photodiode driver port: it delivers raw 32-bit frames
// as they arrive on the air. The handler runs on the driver's context and
// must not block.
type IRReceiver interface {
	SetHandler(fn func(frame uint32))
}

// SoundPort dispatches a sound id to the audio driver. The endpoint never
// synthesizes audio itself.
type SoundPort interface {
	Play(soundID int)
}

// BatterySensor reads the pack voltage in millivolts.
type BatterySensor interface {
	VoltageMV() int
}

// NopIR discards frames; used headless and in tests.
type NopIR struct{}

func (NopIR) Transmit(uint32) error { return nil }

// SimIRReceiver stands in for the photodiode driver: frames injected with
// Inject reach the installed handler, the way the real driver delivers
// decodable pulses.
type SimIRReceiver struct {
	mu      sync.Mutex
	handler func(frame uint32)
}

// NewSimIRReceiver creates a receiver with no handler installed.
func NewSimIRReceiver() *SimIRReceiver {
	return &SimIRReceiver{}
}

// SetHandler installs the frame callback.
func (r *SimIRReceiver) SetHandler(fn func(frame uint32)) {
	r.mu.Lock()
	r.handler = fn
	r.mu.Unlock()
}

// Inject delivers one raw frame as if it had arrived on the photodiode.
func (r *SimIRReceiver) Inject(frame uint32) {
	r.mu.Lock()
	fn := r.handler
	r.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

// LogSound logs sound dispatches instead of playing them.
type LogSound struct{}

func (LogSound) Play(soundID int) {
	log.Printf("sound: dispatch id %d", soundID)
}

// FixedBattery reports a constant voltage; stands in for the ADC driver.
type FixedBattery struct {
	MV int
}

func (b FixedBattery) VoltageMV() int { return b.MV }
