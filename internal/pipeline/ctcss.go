package pipeline

import "math"

// CTCSS detection runs over 100 ms windows of demodulated audio; the tone
// must carry at least this share of the window's total power to count.
const ctcssPowerRatio = 0.1

// CTCSS detects a sub-audible squelch tone in demodulated audio with a
// Goertzel correlator over fixed windows. It only influences the squelch's
// opening decision.
type CTCSS struct {
	coeff      float64
	windowSize int

	s1, s2     float64
	totalPower float64
	count      int

	windows    int
	detections int
	present    bool
}

// NewCTCSS creates a detector for the given tone frequency.
func NewCTCSS(toneFreq float64, sampleRate int) *CTCSS {
	windowSize := sampleRate / 10
	omega := 2 * math.Pi * toneFreq / float64(sampleRate)
	return &CTCSS{
		coeff:      2 * math.Cos(omega),
		windowSize: windowSize,
	}
}

// Process accumulates one audio sample. At each window boundary the tone
// decision is refreshed.
func (c *CTCSS) Process(a float64) {
	s0 := a + c.coeff*c.s1 - c.s2
	c.s2 = c.s1
	c.s1 = s0
	c.totalPower += a * a
	c.count++

	if c.count < c.windowSize {
		return
	}

	tonePower := c.s1*c.s1 + c.s2*c.s2 - c.coeff*c.s1*c.s2
	// Normalize the Goertzel output against the window's total energy.
	norm := c.totalPower * float64(c.windowSize) / 2
	c.present = norm > 0 && tonePower/norm > ctcssPowerRatio
	c.windows++
	if c.present {
		c.detections++
	}

	c.s1, c.s2 = 0, 0
	c.totalPower = 0
	c.count = 0
}

// Decided reports whether at least one full window has been evaluated since
// the last reset.
func (c *CTCSS) Decided() bool {
	return c.windows > 0
}

// HasTone reports the most recent window's decision.
func (c *CTCSS) HasTone() bool {
	return c.present
}

// Detections returns how many windows contained the tone since the last
// reset.
func (c *CTCSS) Detections() int {
	return c.detections
}

// Reset clears accumulated state ahead of a fresh opening decision.
func (c *CTCSS) Reset() {
	c.s1, c.s2 = 0, 0
	c.totalPower = 0
	c.count = 0
	c.windows = 0
	c.detections = 0
	c.present = false
}
