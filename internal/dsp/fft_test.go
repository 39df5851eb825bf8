package dsp

import (
	"math"
	"math/cmplx"
	"testing"
)

// dftReference is the textbook O(n^2) transform used to validate whichever
// backend is under test.
func dftReference(src []complex128) []complex128 {
	n := len(src)
	dst := make([]complex128, n)
	for k := 0; k < n; k++ {
		var acc complex128
		for j := 0; j < n; j++ {
			angle := -2 * math.Pi * float64(k) * float64(j) / float64(n)
			acc += src[j] * cmplx.Exp(complex(0, angle))
		}
		dst[k] = acc
	}
	return dst
}

func TestGonumFFT_MatchesDFT(t *testing.T) {
	const n = 256

	backend, err := NewGonumFFT(n)
	if err != nil {
		t.Fatal(err)
	}
	if backend.Size() != n {
		t.Fatalf("Expected size %d, got %d", n, backend.Size())
	}

	// Deterministic pseudo-signal: two tones plus a DC offset.
	src := make([]complex128, n)
	for i := range src {
		x := float64(i)
		src[i] = complex(0.5+math.Sin(2*math.Pi*8*x/n), math.Cos(2*math.Pi*19*x/n))
	}

	got := make([]complex128, n)
	backend.Transform(got, src)
	want := dftReference(src)

	for k := range want {
		if cmplx.Abs(got[k]-want[k]) > 1e-6 {
			t.Fatalf("bin %d: got %v, want %v", k, got[k], want[k])
		}
	}
}

func TestGonumFFT_SinglePureTone(t *testing.T) {
	const n = 256
	const bin = 32

	backend, err := NewGonumFFT(n)
	if err != nil {
		t.Fatal(err)
	}

	src := make([]complex128, n)
	for i := range src {
		angle := 2 * math.Pi * bin * float64(i) / n
		src[i] = cmplx.Exp(complex(0, angle))
	}

	dst := make([]complex128, n)
	backend.Transform(dst, src)

	// All energy lands in one bin with magnitude n.
	if math.Abs(cmplx.Abs(dst[bin])-n) > 1e-6 {
		t.Errorf("Expected magnitude %d at bin %d, got %f", n, bin, cmplx.Abs(dst[bin]))
	}
	for k := range dst {
		if k == bin {
			continue
		}
		if cmplx.Abs(dst[k]) > 1e-6 {
			t.Errorf("Expected empty bin %d, got magnitude %g", k, cmplx.Abs(dst[k]))
		}
	}
}

func TestValidateFFTSize(t *testing.T) {
	for _, size := range []int{256, 2048, 131072} {
		if err := ValidateFFTSize(size); err != nil {
			t.Errorf("size %d: unexpected error %v", size, err)
		}
	}
	for _, size := range []int{0, 128, 1000, 262144} {
		if err := ValidateFFTSize(size); err == nil {
			t.Errorf("size %d: expected error", size)
		}
	}
}
