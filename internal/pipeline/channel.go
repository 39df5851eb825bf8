package pipeline

import (
	"math"
	"sync/atomic"

	"github.com/boondock-echo/airband/internal/dsp"
	"github.com/boondock-echo/airband/internal/output"
)

// Core timing constants. Every channel produces WaveBatch PCM samples per
// demod tick at the fixed internal audio rate.
const (
	WaveRate      = 8000           // internal audio sample rate, Hz
	WaveBatch     = WaveRate / 8   // PCM samples per demod tick
	agcExtra      = WaveRate / 160 // sliding-window margin for AGC bootstrap and close fade
	FFTBatch      = 250            // FFT instances per channelizer iteration
	spectrumEvery = 4              // iterations between spectrum refreshes
)

// Modulation selects the demodulator for one tuned frequency.
type Modulation int

const (
	ModAM Modulation = iota
	ModNFM
)

func (m Modulation) String() string {
	if m == ModNFM {
		return "nfm"
	}
	return "am"
}

// FMDemodKind selects the NFM phase discriminator at pipeline start.
type FMDemodKind int

const (
	FMDemodFast FMDemodKind = iota
	FMDemodQuadri
)

// Indicate is the channel's display/status tag.
type Indicate int32

const (
	IndicateNoSignal Indicate = iota
	IndicateSignal
	IndicateAfcUp
	IndicateAfcDown
)

func (i Indicate) String() string {
	switch i {
	case IndicateSignal:
		return "signal"
	case IndicateAfcUp:
		return "afc-up"
	case IndicateAfcDown:
		return "afc-down"
	}
	return "no-signal"
}

// ChannelEntry is the per-tuned-frequency parameter set. A channel in scan
// mode carries several; a fixed channel carries exactly one.
type ChannelEntry struct {
	Freq       int64
	Label      string
	Modulation Modulation
	AmpFactor  float64
	Squelch    SquelchParams
	NotchFreq  float64
	NotchQ     float64
	Bandwidth  float64 // Hz; low-pass cutoff is Bandwidth/2, 0 disables
	AFC        int
}

// Channel is one narrowband extraction from a receiver's FFT, with its
// full demodulation state.
type Channel struct {
	entries []ChannelEntry
	active  int

	// Scan controller hand-off: the controller stores requests here and the
	// channelizer applies them between ticks.
	pendingEntry atomic.Int32
	pendingTag   atomic.Pointer[output.ScanTag]

	// Current entry, unpacked.
	freq      int64
	label     string
	mod       Modulation
	ampFactor float64
	afcLimit  int

	needsRawIQ bool
	hasIQSink  bool

	// Sliding input window. wavein[agcExtra:] holds the current tick's
	// samples; wavein[:agcExtra] carry over from the previous tick.
	wavein  []float64
	iqIn    []complex128
	waveend int

	waveout []float64
	iqOut   []complex64

	// Per-entry DSP state, parallel to entries.
	squelches []*Squelch
	notches   []*dsp.Biquad
	lowpasses []*dsp.ComplexBiquad

	agcAvgFast float64
	fadeUntil  int

	// NFM state.
	fmMode FMDemodKind
	pr, pj float64
	deemph *dsp.Deemphasis

	// Downmix fine correction.
	table      *dsp.SinCosTable
	phase      uint32
	dphi       uint32
	sampleRate int
	fftSize    int

	bin     int
	baseBin int

	indicate     atomic.Int32
	prevIndicate Indicate
	outputs      []*output.Descriptor
}

// NewChannel builds a channel over the given entries. centerFreq and
// sampleRate describe the owning receiver; fftSize the channelizer.
func NewChannel(entries []ChannelEntry, centerFreq int64, sampleRate, fftSize int, fmMode FMDemodKind, table *dsp.SinCosTable, hasIQSink bool, outputs []*output.Descriptor) *Channel {
	c := &Channel{
		entries:    entries,
		agcAvgFast: 0.5,
		fmMode:     fmMode,
		table:      table,
		sampleRate: sampleRate,
		fftSize:    fftSize,
		hasIQSink:  hasIQSink,
		outputs:    outputs,
		deemph:     dsp.NewDeemphasis(WaveRate, dsp.DefaultDeemphasisTau),
		waveout:    make([]float64, WaveBatch+agcExtra),
	}
	c.pendingEntry.Store(-1)

	// The window must hold a full tick plus margin plus one iteration's
	// worth of growth: the tick boundary is only checked at FFTBatch
	// granularity, so waveend can overshoot WaveBatch+agcExtra by up to
	// FFTBatch-1 samples before the tick runs.
	capacity := WaveBatch + agcExtra + FFTBatch
	c.wavein = make([]float64, capacity)

	c.squelches = make([]*Squelch, len(entries))
	c.notches = make([]*dsp.Biquad, len(entries))
	c.lowpasses = make([]*dsp.ComplexBiquad, len(entries))
	needsIQ := hasIQSink
	for i, e := range entries {
		c.squelches[i] = NewSquelch(e.Squelch, WaveRate)
		c.notches[i] = dsp.NewNotch(e.NotchFreq, e.NotchQ, WaveRate)
		c.lowpasses[i] = dsp.NewComplexLowPass(e.Bandwidth/2, WaveRate)
		if e.Modulation == ModNFM || c.lowpasses[i] != nil {
			needsIQ = true
		}
	}
	c.needsRawIQ = needsIQ
	if needsIQ {
		c.iqIn = make([]complex128, capacity)
	}
	if hasIQSink {
		c.iqOut = make([]complex64, WaveBatch)
	}

	c.applyEntry(0, centerFreq)
	return c
}

// Indicate returns the channel's current status tag. Safe from any
// goroutine; the scan controller polls it.
func (c *Channel) Indicate() Indicate {
	return Indicate(c.indicate.Load())
}

// ActiveIndex returns the scan entry currently in effect.
func (c *Channel) ActiveIndex() int {
	return c.active
}

// Entries exposes the tuned frequency list.
func (c *Channel) Entries() []ChannelEntry {
	return c.entries
}

// Scanning reports whether the channel sweeps a frequency list.
func (c *Channel) Scanning() bool {
	return len(c.entries) > 1
}

// RequestEntry asks the channelizer to switch to another scan entry at the
// next iteration boundary.
func (c *Channel) RequestEntry(idx int) {
	c.pendingEntry.Store(int32(idx))
}

// PublishTag attaches a scan metadata tag to the next emitted block.
func (c *Channel) PublishTag(tag *output.ScanTag) {
	c.pendingTag.Store(tag)
}

// applyPending switches to a requested scan entry. Called by the
// channelizer between iterations, never mid-tick.
func (c *Channel) applyPending(centerFreq int64) {
	idx := c.pendingEntry.Swap(-1)
	if idx < 0 || int(idx) == c.active || int(idx) >= len(c.entries) {
		return
	}
	c.applyEntry(int(idx), centerFreq)
}

func (c *Channel) applyEntry(idx int, centerFreq int64) {
	e := c.entries[idx]
	c.active = idx
	c.freq = e.Freq
	c.label = e.Label
	c.mod = e.Modulation
	c.ampFactor = e.AmpFactor
	if c.ampFactor == 0 {
		c.ampFactor = 1.0
	}
	c.afcLimit = e.AFC
	c.squelches[idx].Reset()
	if c.notches[idx] != nil {
		c.notches[idx].Reset()
	}
	c.agcAvgFast = 0.5
	c.pr, c.pj = 0, 0
	c.Retune(centerFreq)
	c.baseBin = c.bin
	c.indicate.Store(int32(IndicateNoSignal))
	c.prevIndicate = IndicateNoSignal
}

// Retune recomputes the FFT bin and downmix phase increment for a new
// receiver center frequency.
func (c *Channel) Retune(centerFreq int64) {
	c.bin = binForFrequency(c.freq, centerFreq, c.sampleRate, c.fftSize)
	c.baseBin = c.bin
	c.computeDownmix(centerFreq)
}

// binForFrequency maps a channel frequency onto its FFT bin.
func binForFrequency(freq, centerFreq int64, sampleRate, fftSize int) int {
	binWidth := float64(sampleRate) / float64(fftSize)
	bin := int(math.Ceil(float64(freq+int64(sampleRate)-centerFreq)/binWidth - 1))
	bin %= fftSize
	if bin < 0 {
		bin += fftSize
	}
	return bin
}

// computeDownmix derives the 24-bit phase increment that cancels the
// residual offset between the channel's center and its FFT bin, including
// the correction for non-integer decimation rounding.
func (c *Channel) computeDownmix(centerFreq int64) {
	dphiHz := float64(c.freq - centerFreq)
	decimation := float64(c.sampleRate) / WaveRate
	corr := (WaveRate / 2.0) * (decimation - math.Round(decimation)) * (dphiHz / (float64(c.sampleRate) / 2.0))
	x := (dphiHz - corr) / WaveRate
	frac := x - math.Round(x) // [-0.5, 0.5)
	c.dphi = uint32(int32(math.Round(frac*(1<<dsp.PhaseBits)))) & dsp.PhaseMask
}

// feed appends one FFT extraction to the sliding window.
func (c *Channel) feed(z complex128) {
	c.wavein[c.waveend] = math.Hypot(real(z), imag(z))
	if c.needsRawIQ {
		c.iqIn[c.waveend] = z
	}
	c.waveend++
}

// tickReady reports whether a full demod tick has accumulated.
func (c *Channel) tickReady() bool {
	return c.waveend >= WaveBatch+agcExtra
}

// demodTick runs the per-channel demod loop over the accumulated window,
// producing WaveBatch output samples. Returns whether the squelch was open
// at any point during the tick.
func (c *Channel) demodTick() bool {
	c.prevIndicate = Indicate(c.indicate.Load())
	newInd := IndicateNoSignal
	sq := c.squelches[c.active]
	notch := c.notches[c.active]
	lowpass := c.lowpasses[c.active]

	for j := agcExtra; j < WaveBatch+agcExtra; j++ {
		// (a) Squelch update, pre-filter.
		sq.ProcessRawSample(c.wavein[j])

		// (b) IQ cleanup: downmix and optional low-pass.
		if c.needsRawIQ && sq.ShouldFilterSample() {
			z := c.iqIn[j-agcExtra]
			sin, cos := c.table.SinCos(c.phase)
			re, im := real(z), imag(z)
			zr := re*cos + im*sin
			zi := im*cos - re*sin
			c.phase = (c.phase + c.dphi) & dsp.PhaseMask
			if lowpass != nil {
				z2 := lowpass.Process(complex(zr, zi))
				zr, zi = real(z2), imag(z2)
			}
			c.iqIn[j-agcExtra] = complex(zr, zi)
			mag := math.Hypot(zr, zi)
			c.wavein[j] = mag
			if lowpass != nil {
				sq.ProcessFilteredSample(mag)
			}
		}

		// (c) AGC bootstrap and close fade at squelch transitions.
		if sq.FirstOpenSample() {
			level := sq.SquelchLevel()
			for k := j - agcExtra; k < j; k++ {
				if k >= 0 && c.wavein[k] >= level {
					c.agcAvgFast = 0.9*c.agcAvgFast + 0.1*c.wavein[k]
				}
			}
		}
		if sq.LastOpenSample() {
			c.fadeUntil = j + agcExtra
		}

		// (d) Demodulation.
		if sq.ShouldProcessAudio() {
			switch c.mod {
			case ModAM:
				if c.wavein[j] > sq.SquelchLevel() {
					c.agcAvgFast = 0.995*c.agcAvgFast + 0.005*c.wavein[j]
				}
				out := (c.wavein[j-agcExtra] - c.agcAvgFast) / (1.5 * c.agcAvgFast)
				if math.Abs(out) > 0.8 {
					out *= 0.85
					c.agcAvgFast *= 1.15
				}
				c.waveout[j] = out

			case ModNFM:
				z := c.iqIn[j-agcExtra]
				re, im := real(z), imag(z)
				var out float64
				if c.fmMode == FMDemodQuadri {
					out = dsp.PolarDiscQuadri(re, im, c.pr, c.pj)
				} else {
					out = dsp.PolarDiscFast(re, im, c.pr, c.pj)
				}
				c.pr, c.pj = re, im
				// DC block, then de-emphasis.
				c.agcAvgFast = 0.995*c.agcAvgFast + 0.005*out
				out -= c.agcAvgFast
				c.waveout[j] = c.deemph.Filter(out)
			}
			sq.ProcessAudioSample(c.waveout[j])
		}

		// (e) Post-processing and clamp.
		if sq.IsOpen() {
			v := c.waveout[j]
			if notch != nil {
				v = notch.Process(v)
			}
			v *= sq.OpeningGain()
			v *= c.ampFactor
			if math.IsNaN(v) {
				v = 0
			}
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			c.waveout[j] = v
			newInd = IndicateSignal
			if c.hasIQSink {
				c.iqOut[j-agcExtra] = complex64(c.iqIn[j-agcExtra])
			}
		} else {
			if j > 0 && j < c.fadeUntil {
				c.waveout[j] = c.waveout[j-1] * 0.94
			} else {
				c.waveout[j] = 0
			}
			if c.hasIQSink {
				c.iqOut[j-agcExtra] = 0
			}
		}
	}
	if c.fadeUntil > agcExtra {
		c.fadeUntil -= WaveBatch
		if c.fadeUntil < 0 {
			c.fadeUntil = 0
		}
	}

	c.indicate.Store(int32(newInd))

	// Slide the window: trailing margin plus any extra accumulation moves
	// to the front for the next tick.
	n := c.waveend - WaveBatch
	copy(c.wavein[:n], c.wavein[WaveBatch:WaveBatch+n])
	if c.needsRawIQ {
		copy(c.iqIn[:n], c.iqIn[WaveBatch:WaveBatch+n])
	}
	c.waveend = n

	return newInd == IndicateSignal
}

// emit publishes the finished tick to every attached output.
func (c *Channel) emit(active bool) {
	if len(c.outputs) == 0 {
		return
	}
	sq := c.squelches[c.active]

	pcm := make([]float32, WaveBatch)
	for i := range pcm {
		pcm[i] = float32(c.waveout[agcExtra+i])
	}

	block := output.Block{
		PCM:      pcm,
		Active:   active,
		Freq:     c.freq,
		Tag:      c.pendingTag.Swap(nil),
		SignalDB: levelToDB(sq.SignalLevel()),
		NoiseDB:  levelToDB(sq.NoiseFloor()),
	}
	if c.hasIQSink {
		iq := make([]complex64, WaveBatch)
		copy(iq, c.iqOut)
		block.IQ = iq
	}

	for _, d := range c.outputs {
		d.Push(block)
	}
}

func levelToDB(level float64) float32 {
	if level <= 0 {
		return -120
	}
	db := 20 * math.Log10(level)
	if db < -120 {
		db = -120
	}
	return float32(db)
}
