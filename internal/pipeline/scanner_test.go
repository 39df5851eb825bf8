package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boondock-echo/airband/internal/dsp"
	"github.com/boondock-echo/airband/internal/sdr"
)

func scanFixture(t *testing.T) (*Scanner, *Channel, sdr.Source) {
	t.Helper()
	const fs = 2_000_000
	const fftSize = 1024

	entries := []ChannelEntry{
		{Freq: 119_000_000, Label: "f0", Modulation: ModAM},
		{Freq: 119_100_000, Label: "f1", Modulation: ModAM},
		{Freq: 119_200_000, Label: "f2", Modulation: ModAM},
	}

	src := sdr.NewFileSource("rx0", "unused.iq", fs, entries[0].Freq+ScanOffset(fs, fftSize), sdr.FormatS16, false)
	ch := NewChannel(entries, src.CenterFreq(), fs, fftSize, FMDemodFast, dsp.NewSinCosTable(), false, nil)
	rx, err := NewReceiver(src, []*Channel{ch}, fftSize)
	require.NoError(t, err)

	return NewScanner(rx, ch, nil), ch, src
}

func TestScanOffset(t *testing.T) {
	// 20 bins of offset keeps the channel away from the DC spike.
	assert.EqualValues(t, 20*2_000_000/1024, ScanOffset(2_000_000, 1024))
}

func TestScannerAdvanceCyclesListInOrder(t *testing.T) {
	s, ch, src := scanFixture(t)
	entries := ch.Entries()
	offset := ScanOffset(2_000_000, 1024)

	// With no signal anywhere, each advance visits the next entry in list
	// order, wrapping at the end.
	wantOrder := []int{1, 2, 0, 1}
	for _, want := range wantOrder {
		s.advance()
		// The channelizer applies the pending entry between iterations.
		ch.applyPending(src.CenterFreq())
		assert.Equal(t, want, ch.ActiveIndex())
		assert.EqualValues(t, entries[want].Freq+offset, src.CenterFreq())
	}
}

func TestScannerRetuneRecomputesBin(t *testing.T) {
	s, ch, src := scanFixture(t)

	binBefore := ch.bin
	s.advance()
	ch.applyPending(src.CenterFreq())

	// Every entry is pre-tuned with the same 20-bin offset, so the bin is
	// the same for each entry, and the base bin follows the retune.
	assert.Equal(t, binBefore, ch.bin)
	assert.Equal(t, ch.bin, ch.baseBin)
	assert.Equal(t, IndicateNoSignal, ch.Indicate())
}

func TestScannerScanningDetection(t *testing.T) {
	_, ch, _ := scanFixture(t)
	assert.True(t, ch.Scanning())

	single := amChannel(t)
	assert.False(t, single.Scanning())
}
