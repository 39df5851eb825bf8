package pipeline

import (
	"math"
	"sync"
	"time"
)

// spectrumEpsilon keeps the log finite on empty bins; the resulting floor
// is 20·log10(ε) dB.
const spectrumEpsilon = 1e-10

// Spectrum is the per-receiver magnitude snapshot. The channelizer writes
// a new frame every few iterations; observers copy out a consistent frame
// under the lock.
type Spectrum struct {
	mu      sync.Mutex
	data    []float32
	updated time.Time
}

// NewSpectrum allocates a snapshot of fftSize bins.
func NewSpectrum(fftSize int) *Spectrum {
	return &Spectrum{data: make([]float32, fftSize)}
}

// Size returns the number of bins.
func (s *Spectrum) Size() int {
	return len(s.data)
}

// update refreshes the snapshot from one FFT output frame. Bins are
// rotated so DC lands in the middle, and magnitudes are stored in dB.
func (s *Spectrum) update(fft []complex128) {
	n := len(s.data)
	s.mu.Lock()
	for i := 0; i < n; i++ {
		z := fft[(i+n/2)%n]
		mag := math.Hypot(real(z), imag(z))
		s.data[i] = float32(20 * math.Log10(mag+spectrumEpsilon))
	}
	s.updated = time.Now()
	s.mu.Unlock()
}

// Snapshot copies out the latest frame and its timestamp. Readers may see
// an older frame than the writer's in-flight one, never a torn one.
func (s *Spectrum) Snapshot() ([]float32, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float32, len(s.data))
	copy(out, s.data)
	return out, s.updated
}
