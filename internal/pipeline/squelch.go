package pipeline

import "math"

// Squelch tuning constants, in samples at the 8 kHz audio rate.
const (
	squelchOpenDelay  = 20  // consecutive samples above the open threshold
	squelchCloseDelay = 400 // consecutive samples below the close threshold
	// Close threshold sits below the open threshold for hysteresis.
	squelchCloseFactor = 0.9
	// Noise floor estimator time constant.
	squelchNoiseAlpha = 1e-4
	// Signal level estimator time constant.
	squelchSignalAlpha = 0.05
	// Default floor before the estimator has seen enough samples: -60 dBFS.
	squelchDefaultFloor = 1e-3
)

type squelchState int

const (
	squelchClosed squelchState = iota
	squelchOpening
	squelchOpen
	squelchClosing
)

// SquelchParams carries the configured thresholds for one tuned frequency.
// Levels are linear amplitude relative to full scale; the config layer
// converts from dBFS. A zero threshold selects the automatic noise-floor
// based level.
type SquelchParams struct {
	ManualLevel float64
	SNRFactor   float64
	CTCSSFreq   float64
}

// Squelch is the per-(channel, tuned frequency) gate. It tracks slow-decay
// signal and noise envelopes, opens after a run of samples above the open
// threshold, and closes after a run below the close threshold. An optional
// CTCSS detector can veto the open.
type Squelch struct {
	manualLevel float64
	snrFactor   float64

	noiseFloor  float64
	signalLevel float64

	state      squelchState
	openCount  int
	closeCount int
	rampCount  int

	firstOpen bool
	lastOpen  bool

	ctcss *CTCSS
}

// NewSquelch creates a squelch gate from its configured parameters.
func NewSquelch(p SquelchParams, audioRate int) *Squelch {
	sq := &Squelch{
		manualLevel: p.ManualLevel,
		snrFactor:   p.SNRFactor,
		noiseFloor:  squelchDefaultFloor,
	}
	if sq.snrFactor <= 0 {
		// 8 dB default.
		sq.snrFactor = math.Pow(10, 8.0/20)
	}
	if p.CTCSSFreq > 0 {
		sq.ctcss = NewCTCSS(p.CTCSSFreq, audioRate)
	}
	return sq
}

// SquelchLevel returns the current open threshold as a linear level.
func (sq *Squelch) SquelchLevel() float64 {
	auto := sq.noiseFloor * sq.snrFactor
	if sq.manualLevel > auto {
		return sq.manualLevel
	}
	return auto
}

// NoiseFloor returns the running noise floor estimate.
func (sq *Squelch) NoiseFloor() float64 {
	return sq.noiseFloor
}

// SignalLevel returns the running signal envelope.
func (sq *Squelch) SignalLevel() float64 {
	return sq.signalLevel
}

// ProcessRawSample advances the state machine with one pre-filter magnitude
// sample. Call exactly once per audio sample.
func (sq *Squelch) ProcessRawSample(s float64) {
	sq.signalLevel += (s - sq.signalLevel) * squelchSignalAlpha

	switch sq.state {
	case squelchClosed:
		sq.noiseFloor += (s - sq.noiseFloor) * squelchNoiseAlpha
		if sq.signalLevel > sq.SquelchLevel() {
			sq.openCount++
		} else {
			sq.openCount = 0
		}
		if sq.openCount >= squelchOpenDelay {
			sq.state = squelchOpening
			sq.rampCount = 0
			sq.firstOpen = true
			sq.openCount = 0
			if sq.ctcss != nil {
				sq.ctcss.Reset()
			}
		}

	case squelchOpening:
		sq.rampCount++
		if sq.ctcss != nil {
			if sq.ctcss.Decided() {
				if sq.ctcss.HasTone() {
					sq.state = squelchOpen
				} else {
					// Required subtone absent: veto the open.
					sq.state = squelchClosed
				}
			}
		} else if sq.rampCount >= agcExtra {
			sq.state = squelchOpen
		}

	case squelchOpen:
		if sq.signalLevel < sq.SquelchLevel()*squelchCloseFactor {
			sq.closeCount++
		} else {
			sq.closeCount = 0
		}
		if sq.closeCount >= squelchCloseDelay {
			sq.state = squelchClosing
			sq.rampCount = 0
			sq.lastOpen = true
			sq.closeCount = 0
		}

	case squelchClosing:
		sq.rampCount++
		if sq.rampCount >= agcExtra {
			sq.state = squelchClosed
			sq.openCount = 0
		}
	}
}

// ProcessFilteredSample refines the envelope with a post-downmix magnitude.
// Only called when the channel runs a low-pass filter.
func (sq *Squelch) ProcessFilteredSample(s float64) {
	sq.signalLevel += (s - sq.signalLevel) * squelchSignalAlpha
}

// ProcessAudioSample feeds one demodulated audio sample to the CTCSS
// detector, when one is configured.
func (sq *Squelch) ProcessAudioSample(a float64) {
	if sq.ctcss != nil {
		sq.ctcss.Process(a)
	}
}

// ShouldFilterSample reports whether the IQ cleanup path should run for the
// current sample: anything between opening and fully closed needs it.
func (sq *Squelch) ShouldFilterSample() bool {
	return sq.state == squelchOpening || sq.state == squelchOpen || sq.state == squelchClosing
}

// ShouldProcessAudio reports whether the demodulator should produce audio
// for the current sample.
func (sq *Squelch) ShouldProcessAudio() bool {
	return sq.state == squelchOpening || sq.state == squelchOpen
}

// IsOpen reports whether audio should reach the outputs.
func (sq *Squelch) IsOpen() bool {
	if sq.state == squelchOpening && sq.ctcss != nil {
		// Audio stays muted until the tone detector has confirmed the subtone.
		return false
	}
	return sq.state == squelchOpening || sq.state == squelchOpen
}

// OpeningGain returns the fade-in gain while the gate is opening, 1.0 once
// open.
func (sq *Squelch) OpeningGain() float64 {
	if sq.state != squelchOpening {
		return 1.0
	}
	g := float64(sq.rampCount) / agcExtra
	if g > 1 {
		g = 1
	}
	return g
}

// FirstOpenSample reports the squelch just transitioned toward open. The
// flag is consumed by the call, so the AGC bootstrap runs exactly once.
func (sq *Squelch) FirstOpenSample() bool {
	v := sq.firstOpen
	sq.firstOpen = false
	return v
}

// LastOpenSample reports the squelch just started closing. Consumed on read.
func (sq *Squelch) LastOpenSample() bool {
	v := sq.lastOpen
	sq.lastOpen = false
	return v
}

// Reset returns the gate to closed without touching the level estimators.
func (sq *Squelch) Reset() {
	sq.state = squelchClosed
	sq.openCount = 0
	sq.closeCount = 0
	sq.rampCount = 0
	sq.firstOpen = false
	sq.lastOpen = false
	if sq.ctcss != nil {
		sq.ctcss.Reset()
	}
}
