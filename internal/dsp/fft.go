package dsp

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// MinFFTSize and MaxFFTSize bound the configurable transform length.
	MinFFTSize = 1 << 8
	MaxFFTSize = 1 << 17
)

// FFTBackend computes forward complex FFTs of a fixed size. The channelizer
// takes the backend by handle so the transform implementation can be swapped
// without touching any DSP code.
type FFTBackend interface {
	Size() int
	// Transform computes the forward FFT of src into dst. Both slices must
	// have length Size(). The same plan is reused across calls.
	Transform(dst, src []complex128)
}

// gonumFFT is the CPU backend, one reused gonum plan per channelizer.
type gonumFFT struct {
	size int
	plan *fourier.CmplxFFT
}

// NewGonumFFT creates the CPU FFT backend. The size must be a power of two
// within [MinFFTSize, MaxFFTSize].
func NewGonumFFT(size int) (FFTBackend, error) {
	if err := ValidateFFTSize(size); err != nil {
		return nil, err
	}
	return &gonumFFT{
		size: size,
		plan: fourier.NewCmplxFFT(size),
	}, nil
}

func (f *gonumFFT) Size() int {
	return f.size
}

func (f *gonumFFT) Transform(dst, src []complex128) {
	f.plan.Coefficients(dst, src)
}

// ValidateFFTSize checks the configured transform length.
func ValidateFFTSize(size int) error {
	if size < MinFFTSize || size > MaxFFTSize || size&(size-1) != 0 {
		return fmt.Errorf("fft size %d: must be a power of two in [%d, %d]", size, MinFFTSize, MaxFFTSize)
	}
	return nil
}
