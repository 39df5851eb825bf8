package dsp

import "math"

// DesignFIRLowPass creates a low-pass FIR filter using the windowed-sinc
// method. cutoff is a fraction of the sample rate.
func DesignFIRLowPass(numTaps int, cutoff float64) []float64 {
	taps := make([]float64, numTaps)
	M := float64(numTaps - 1)
	// The cutoff frequency must be normalized to the Nyquist frequency (0.5 * sample_rate)
	fc := cutoff * 2
	for n := 0; n < numTaps; n++ {
		x := float64(n) - M/2
		if x == 0 {
			taps[n] = fc
		} else {
			taps[n] = fc * math.Sin(math.Pi*fc*x) / (math.Pi * fc * x)
		}
		// Apply Hamming window
		taps[n] *= 0.54 - 0.46*math.Cos(2*math.Pi*float64(n)/M)
	}
	// Normalize
	sum := 0.0
	for _, t := range taps {
		sum += t
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}

// DesignFIRHighPass creates a high-pass FIR filter by spectral inversion
// of the corresponding low-pass design. numTaps must be odd so the
// inversion lands on a real center tap.
func DesignFIRHighPass(numTaps int, cutoff float64) []float64 {
	taps := DesignFIRLowPass(numTaps, cutoff)
	for i := range taps {
		taps[i] = -taps[i]
	}
	taps[(numTaps-1)/2] += 1.0
	return taps
}

// FIRFilter implements a stateful, block-based Finite Impulse Response filter.
type FIRFilter struct {
	taps  []float64
	state []float32
}

// NewFIRFilter creates a new FIR filter with the given taps.
func NewFIRFilter(taps []float64) *FIRFilter {
	return &FIRFilter{
		taps:  taps,
		state: make([]float32, len(taps)-1),
	}
}

// Process filters a block of input samples and updates the filter's
// internal state. The block length is preserved.
func (f *FIRFilter) Process(input []float32) []float32 {
	buffer := make([]float32, len(f.state)+len(input))
	copy(buffer, f.state)
	copy(buffer[len(f.state):], input)

	output := make([]float32, len(input))
	for i := range output {
		var acc float32
		for j, tap := range f.taps {
			acc += buffer[i+j] * float32(tap)
		}
		output[i] = acc
	}

	// The state for the next run is the last (filter_length - 1) samples of the buffer.
	f.state = buffer[len(buffer)-(len(f.taps)-1):]
	return output
}
