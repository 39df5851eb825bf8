package output

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	blocks []Block
	closed bool
}

func (s *recordingSink) Write(b Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, b)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) snapshot() ([]Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Block, len(s.blocks))
	copy(out, s.blocks)
	return out, s.closed
}

func TestDescriptorDeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d := NewDescriptor(sink, ModeContinuous, 8, nil)
	d.Start()

	for i := 0; i < 5; i++ {
		d.Push(Block{PCM: []float32{float32(i)}, Active: true})
	}
	d.Shutdown()

	blocks, closed := sink.snapshot()
	require.Len(t, blocks, 5)
	for i, b := range blocks {
		assert.EqualValues(t, i, b.PCM[0])
	}
	assert.True(t, closed, "sink must be closed after shutdown")
}

func TestDescriptorGatedSuppressesSilence(t *testing.T) {
	sink := &recordingSink{}
	d := NewDescriptor(sink, ModeGated, 8, nil)
	d.Start()

	d.Push(Block{Active: false})
	d.Push(Block{Active: true})
	d.Push(Block{Active: false})
	// A silent block carrying a scan tag still goes through.
	d.Push(Block{Active: false, Tag: &ScanTag{FreqIndex: 1}})
	d.Shutdown()

	blocks, _ := sink.snapshot()
	require.Len(t, blocks, 2)
	assert.True(t, blocks[0].Active)
	assert.NotNil(t, blocks[1].Tag)
}

func TestDescriptorCountsOverruns(t *testing.T) {
	sink := &recordingSink{}
	d := NewDescriptor(sink, ModeContinuous, 2, nil)
	// Writer not started: the queue fills and further pushes drop.

	for i := 0; i < 5; i++ {
		d.Push(Block{Active: true})
	}
	assert.EqualValues(t, 3, d.Overruns())

	d.Start()
	d.Shutdown()
	blocks, _ := sink.snapshot()
	assert.Len(t, blocks, 2)
}

func TestFileTemplateRender(t *testing.T) {
	start := time.Date(2026, 8, 2, 13, 45, 0, 0, time.UTC)

	tmpl := NewFileTemplate("/rec", "${label}_${freq}_${start:%Y%m%d-%H}", false)
	path, err := tmpl.Render(119_750_000, "tower", start)
	require.NoError(t, err)
	assert.Equal(t, "/rec/tower_119750000_20260802-13", path)
}

func TestFileTemplateDatedSubdirs(t *testing.T) {
	start := time.Date(2026, 8, 2, 13, 45, 0, 0, time.UTC)

	tmpl := NewFileTemplate("/rec", "${label}", true)
	path, err := tmpl.Render(0, "twr", start)
	require.NoError(t, err)
	assert.Equal(t, "/rec/2026/08/02/twr", path)
}

func TestFileTemplateSanitizesLabel(t *testing.T) {
	tmpl := NewFileTemplate("/rec", "${label}", false)
	path, err := tmpl.Render(0, "app/dep 121.5", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "/rec/app_dep_121.5", path)
}

func TestFileTemplateDefault(t *testing.T) {
	tmpl := NewFileTemplate("/rec", "", false)
	start := time.Date(2026, 8, 2, 13, 45, 6, 0, time.UTC)
	path, err := tmpl.Render(0, "twr", start)
	require.NoError(t, err)
	assert.Equal(t, "/rec/twr_20260802_134506", path)
}

func TestFileTemplateUnterminated(t *testing.T) {
	tmpl := NewFileTemplate("/rec", "${start:%Y", false)
	_, err := tmpl.Render(0, "x", time.Now())
	assert.Error(t, err)
}

func TestMixerTapForwards(t *testing.T) {
	var got []Block
	tap := NewMixerTap(submitFunc(func(b Block) { got = append(got, b) }))

	require.NoError(t, tap.Write(Block{Active: true}))
	require.NoError(t, tap.Close())
	assert.Len(t, got, 1)
}

type submitFunc func(Block)

func (f submitFunc) Submit(b Block) { f(b) }
