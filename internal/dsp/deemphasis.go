package dsp

import "math"

// DefaultDeemphasisTau is the de-emphasis time constant used when the
// configuration leaves it unset: 200 µs, the usual value for narrow-FM
// voice channels.
const DefaultDeemphasisTau = 200e-6

// Deemphasis implements the single-pole IIR that rolls off the treble
// boost inherent in FM discriminator output.
type Deemphasis struct {
	alpha float64
	prev  float64
}

// NewDeemphasis creates a new de-emphasis filter for the given audio
// sample rate and time constant tau in seconds.
func NewDeemphasis(sampleRate int, tau float64) *Deemphasis {
	if tau <= 0 {
		tau = DefaultDeemphasisTau
	}
	return &Deemphasis{alpha: math.Exp(-1 / (float64(sampleRate) * tau))}
}

// Filter applies the de-emphasis filter to a single sample.
func (d *Deemphasis) Filter(x float64) float64 {
	y := x*(1-d.alpha) + d.prev*d.alpha
	d.prev = y
	return y
}
