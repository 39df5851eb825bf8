package pipeline

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boondock-echo/airband/internal/dsp"
	"github.com/boondock-echo/airband/internal/output"
	"github.com/boondock-echo/airband/internal/sdr"
)

// synthIQ renders n complex samples of a carrier at offsetHz from the
// receiver center, amplitude-modulated by depth at modHz, as interleaved
// little-endian s16.
func synthIQ(n int, sampleRate int, offsetHz float64, amplitude, depth, modHz float64) []byte {
	buf := make([]byte, n*4)
	for t := 0; t < n; t++ {
		ts := float64(t) / float64(sampleRate)
		env := amplitude * (1 + depth*math.Sin(2*math.Pi*modHz*ts))
		phase := 2 * math.Pi * offsetHz * ts
		i := env * math.Cos(phase)
		q := env * math.Sin(phase)
		binary.LittleEndian.PutUint16(buf[t*4:], uint16(int16(i*32767)))
		binary.LittleEndian.PutUint16(buf[t*4+2:], uint16(int16(q*32767)))
	}
	return buf
}

// testReceiver builds a receiver over a file source whose ring we fill by
// hand, plus a collector on the single AM channel.
func testReceiver(t *testing.T, fs, fftSize int, channelOffset int64) (*Receiver, *collectorSink, *output.Descriptor) {
	t.Helper()
	const fc = 120_000_000

	sink := &collectorSink{}
	desc := output.NewDescriptor(sink, output.ModeContinuous, 64, nil)
	desc.Start()

	src := sdr.NewFileSource("rx0", "unused.iq", fs, fc, sdr.FormatS16, false)
	entries := []ChannelEntry{{Freq: fc + channelOffset, Modulation: ModAM, AmpFactor: 1.0}}
	ch := NewChannel(entries, fc, fs, fftSize, FMDemodFast, dsp.NewSinCosTable(), false, []*output.Descriptor{desc})

	rx, err := NewReceiver(src, []*Channel{ch}, fftSize)
	require.NoError(t, err)
	return rx, sink, desc
}

func TestReceiverGeometry(t *testing.T) {
	rx, _, desc := testReceiver(t, 2_560_000, 2048, -250_600)
	defer desc.Shutdown()

	// 2.56 MHz over 8 kHz audio: decimation 320, stride 4 bytes per
	// complex sample times the decimation.
	assert.Equal(t, 320, rx.decimation)
	assert.Equal(t, 2*2*320, rx.bps)
	assert.Equal(t, FFTBatch*rx.bps+2048*2*2, rx.need)
}

func TestReceiverRejectsBadConfig(t *testing.T) {
	src := sdr.NewFileSource("rx0", "x", 4000, 100_000_000, sdr.FormatS16, false)
	_, err := NewReceiver(src, nil, 2048)
	assert.Error(t, err, "sample rate below audio rate")

	src = sdr.NewFileSource("rx0", "x", 2_560_000, 100_000_000, sdr.FormatS16, false)
	_, err = NewReceiver(src, nil, 1000)
	assert.Error(t, err, "non power-of-two FFT size")
}

func TestChannelizerAMCarrierEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("full-rate DSP test")
	}

	const fs = 2_560_000
	const fftSize = 2048
	const offset = -250_600

	rx, sink, desc := testReceiver(t, fs, fftSize, offset)
	backend, err := dsp.NewGonumFFT(fftSize)
	require.NoError(t, err)

	// 10 iterations of input: enough for two demod ticks. Feed the ring one
	// iteration at a time, as the receiver thread would.
	total := 10*FFTBatch*rx.decimation + fftSize
	raw := synthIQ(total, fs, offset, 0.5, 0.3, 1000)
	iterBytes := FFTBatch * rx.bps

	rx.ring.Produce(raw[:iterBytes+fftSize*4])
	fed := iterBytes + fftSize*4
	for i := 0; i < 10; i++ {
		require.True(t, rx.processIteration(backend), "iteration %d starved", i)
		if fed < len(raw) {
			end := fed + iterBytes
			if end > len(raw) {
				end = len(raw)
			}
			rx.ring.Produce(raw[fed:end])
			fed = end
		}
	}
	desc.Shutdown()

	blocks := sink.all()
	require.Len(t, blocks, 2)

	// The squelch opens during the first tick (well inside 100 ms); the
	// second tick is clean demodulated audio.
	assert.True(t, blocks[1].Active, "squelch should be open on a steady carrier")

	tone := make([]float64, WaveBatch)
	for i, v := range blocks[1].PCM {
		tone[i] = float64(v)
		assert.LessOrEqual(t, math.Abs(float64(v)), 1.0)
	}
	peak := dominantFrequency(tone)
	assert.InDelta(t, 1000, peak, 10, "demodulated peak")

	// Signal level well above the noise floor estimate.
	assert.Greater(t, blocks[1].SignalDB, blocks[1].NoiseDB+20)
}

func TestChannelizerZeroInput(t *testing.T) {
	const fs = 2_560_000
	const fftSize = 2048

	rx, sink, desc := testReceiver(t, fs, fftSize, -250_600)
	backend, err := dsp.NewGonumFFT(fftSize)
	require.NoError(t, err)

	iterBytes := FFTBatch * rx.bps
	rx.ring.Produce(make([]byte, iterBytes+fftSize*4))
	for i := 0; i < 10; i++ {
		require.True(t, rx.processIteration(backend))
		rx.ring.Produce(make([]byte, iterBytes))
	}
	desc.Shutdown()

	blocks := sink.all()
	require.Len(t, blocks, 2)
	for _, b := range blocks {
		assert.False(t, b.Active)
		for _, v := range b.PCM {
			assert.Zero(t, v)
		}
	}

	// The spectrum snapshot sits at the epsilon floor.
	snap, _ := rx.Spectrum().Snapshot()
	require.Len(t, snap, fftSize)
	floor := float32(20 * math.Log10(spectrumEpsilon))
	for _, v := range snap {
		assert.InDelta(t, floor, v, 0.1)
	}
}

func TestSpectrumCentersDC(t *testing.T) {
	s := NewSpectrum(256)

	// Energy only in bin 0 (DC) must land at index 128 after rotation.
	fft := make([]complex128, 256)
	fft[0] = complex(1, 0)
	s.update(fft)

	snap, ts := s.Snapshot()
	require.Len(t, snap, 256)
	assert.False(t, ts.IsZero())

	maxIdx := 0
	for i, v := range snap {
		if v > snap[maxIdx] {
			maxIdx = i
		}
	}
	assert.Equal(t, 128, maxIdx)
	assert.InDelta(t, 0, snap[128], 0.1)
}

func TestChannelizerStarvationDisablesReceiver(t *testing.T) {
	rx, _, desc := testReceiver(t, 2_560_000, 2048, -250_600)
	defer desc.Shutdown()

	// Closed, near-empty ring: the receiver can never complete another
	// iteration.
	rx.ring.Close()
	assert.True(t, rx.starved())

	backend, err := dsp.NewGonumFFT(2048)
	require.NoError(t, err)
	assert.False(t, rx.processIteration(backend))
}
