package dsp

import "math"

// FastAtan2 is a piecewise-linear atan2 approximation, accurate to about
// 0.07 rad, which is plenty for a phase discriminator feeding 8 kHz audio.
func FastAtan2(y, x float64) float64 {
	if x == 0 && y == 0 {
		return 0
	}
	ay := math.Abs(y)
	var angle float64
	if x >= 0 {
		r := (x - ay) / (x + ay)
		angle = math.Pi/4 - math.Pi/4*r
	} else {
		r := (x + ay) / (ay - x)
		angle = 3*math.Pi/4 - math.Pi/4*r
	}
	if y < 0 {
		return -angle
	}
	return angle
}

// PolarDiscFast demodulates one FM sample by multiplying the current
// complex sample with the conjugate of the previous one and taking the
// angle of the product. The result is normalized to [-1, 1].
func PolarDiscFast(re, im, pr, pj float64) float64 {
	cr := re*pr + im*pj
	cj := im*pr - re*pj
	return FastAtan2(cj, cr) / math.Pi
}

// PolarDiscQuadri is the quadri-correlator discriminator. Cheaper than the
// atan2 form but amplitude-sensitive; the +1 in the denominator keeps it
// defined through signal dropouts.
func PolarDiscQuadri(re, im, pr, pj float64) float64 {
	return (im*pr - re*pj) / (re*re + im*im + 1) / math.Pi
}
