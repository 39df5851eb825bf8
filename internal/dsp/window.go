package dsp

import "math"

// blackmanHarris7 holds the signed cosine-series coefficients of the
// 7-term Blackman-Harris window.
var blackmanHarris7 = [7]float64{
	0.27105140069342,
	-0.43329793923448,
	0.21812299954311,
	-0.06592544638803,
	0.01081174209837,
	-0.00077658482522,
	0.00001388721735,
}

// BlackmanHarris7 returns a 7-term Blackman-Harris window of length n.
// The window is computed once per channelizer and reused for every batch.
func BlackmanHarris7(n int) []float64 {
	w := make([]float64, n)
	arg := 2 * math.Pi / float64(n-1)
	for k := 0; k < n; k++ {
		var acc float64
		for i, a := range blackmanHarris7 {
			acc += a * math.Cos(arg*float64(i)*float64(k))
		}
		w[k] = acc
	}
	return w
}
