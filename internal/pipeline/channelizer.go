package pipeline

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/boondock-echo/airband/internal/dsp"
	"github.com/boondock-echo/airband/internal/ringbuffer"
	"github.com/boondock-echo/airband/internal/sdr"
)

// Receiver couples one IQ source with its ring buffer, channels, and
// spectrum snapshot, plus the derived per-iteration geometry.
type Receiver struct {
	src      sdr.Source
	ring     *ringbuffer.RingBuffer
	channels []*Channel
	spectrum *Spectrum

	fftSize    int
	decimation int
	// bps is the input stride per audio sample: one complex sample times
	// the decimation factor.
	bps  int
	need int

	window  []float64
	scratch []byte
	fftIn   []complex128
	fftOut  []complex128

	iteration uint64
	disabled  bool
}

// NewReceiver validates the source parameters and allocates the working
// buffers. The ring holds several FFT batches so a briefly stalled
// channelizer does not immediately overrun.
func NewReceiver(src sdr.Source, channels []*Channel, fftSize int) (*Receiver, error) {
	if src.SampleRate() <= WaveRate {
		return nil, fmt.Errorf("receiver %s: sample rate %d must exceed the audio rate %d", src.Name(), src.SampleRate(), WaveRate)
	}
	if err := dsp.ValidateFFTSize(fftSize); err != nil {
		return nil, fmt.Errorf("receiver %s: %w", src.Name(), err)
	}

	bytesPer := src.Format().BytesPerSample()
	decimation := int(float64(src.SampleRate())/WaveRate + 0.5)
	bps := 2 * bytesPer * decimation
	// One batch's consumption plus the window guard: the FFT window is
	// wider than the batch stride, so unread bytes past the cursor are
	// required for the final transforms of an iteration.
	need := FFTBatch*bps + fftSize*2*bytesPer

	// Blackman-Harris window, pre-scaled so a full-scale carrier sitting
	// on a bin center reads as magnitude 1.0.
	window := dsp.BlackmanHarris7(fftSize)
	var sum float64
	for _, w := range window {
		sum += w
	}
	for i := range window {
		window[i] /= sum
	}

	rx := &Receiver{
		src:        src,
		ring:       ringbuffer.New(8 * need),
		channels:   channels,
		spectrum:   NewSpectrum(fftSize),
		fftSize:    fftSize,
		decimation: decimation,
		bps:        bps,
		need:       need,
		window:     window,
		scratch:    make([]byte, need),
		fftIn:      make([]complex128, fftSize),
		fftOut:     make([]complex128, fftSize),
	}
	return rx, nil
}

// Name returns the source name.
func (rx *Receiver) Name() string {
	return rx.src.Name()
}

// Spectrum returns the receiver's snapshot for observers.
func (rx *Receiver) Spectrum() *Spectrum {
	return rx.spectrum
}

// Channels returns the receiver's channels.
func (rx *Receiver) Channels() []*Channel {
	return rx.channels
}

// Source returns the underlying IQ source.
func (rx *Receiver) Source() sdr.Source {
	return rx.src
}

// Overflows returns the producer-side ring overflow count.
func (rx *Receiver) Overflows() uint64 {
	return rx.ring.Overflows()
}

// starved reports that the source has ended and the ring can never again
// satisfy a full iteration.
func (rx *Receiver) starved() bool {
	return rx.ring.Closed() && rx.ring.Available() < rx.need
}

// processIteration consumes one FFT batch of IQ. Returns false when not
// enough input is buffered yet.
func (rx *Receiver) processIteration(backend dsp.FFTBackend) bool {
	center := rx.src.CenterFreq()
	for _, ch := range rx.channels {
		ch.applyPending(center)
	}

	if !rx.ring.Peek(rx.scratch) {
		return false
	}

	format := rx.src.Format()
	bytesPer := format.BytesPerSample()

	for b := 0; b < FFTBatch; b++ {
		off := b * rx.bps
		for i := 0; i < rx.fftSize; i++ {
			p := off + i*2*bytesPer
			re := format.Dequant(rx.scratch[p:])
			im := format.Dequant(rx.scratch[p+bytesPer:])
			rx.fftIn[i] = complex(re*rx.window[i], im*rx.window[i])
		}
		backend.Transform(rx.fftOut, rx.fftIn)
		for _, ch := range rx.channels {
			ch.feed(rx.fftOut[ch.bin])
		}
	}

	rx.iteration++
	if rx.iteration%spectrumEvery == 0 {
		rx.spectrum.update(rx.fftOut)
	}

	if len(rx.channels) > 0 && rx.channels[0].tickReady() {
		power := func(bin int) float64 {
			n := rx.fftSize
			z := rx.fftOut[((bin%n)+n)%n]
			return real(z)*real(z) + imag(z)*imag(z)
		}
		for _, ch := range rx.channels {
			active := ch.demodTick()
			ch.runAFC(power)
			ch.emit(active)
		}
	}

	rx.ring.AdvanceHead(FFTBatch * rx.bps)
	return true
}

// Channelizer is one worker iterating its assigned receivers round-robin.
// With the single-worker layout it owns every receiver; with per-receiver
// workers each owns one.
type Channelizer struct {
	receivers []*Receiver
	backend   dsp.FFTBackend
	pl        *Pipeline
	log       *log.Logger
}

// run is the channelizer worker body.
func (cz *Channelizer) run() {
	for !cz.pl.exiting() {
		progress := false
		for _, rx := range cz.receivers {
			if rx.disabled {
				continue
			}
			if rx.processIteration(cz.backend) {
				progress = true
				continue
			}
			if rx.starved() {
				cz.log.Info("receiver input ended", "rx", rx.Name(), "state", rx.src.State())
				cz.pl.disableReceiver(rx)
			}
		}
		if !progress {
			// Nothing ready on any receiver; yield briefly.
			time.Sleep(time.Millisecond)
		}
	}
}
