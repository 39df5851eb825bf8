package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boondock-echo/airband/internal/config"
)

// writeCapture renders a short silent s16 IQ capture.
func writeCapture(t *testing.T, dir string, seconds, sampleRate int) string {
	t.Helper()
	path := filepath.Join(dir, "capture.cs16")
	require.NoError(t, os.WriteFile(path, make([]byte, seconds*sampleRate*4), 0o644))
	return path
}

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	return &config.Config{
		FFTSize: 256,
		Devices: []config.Device{{
			Name: "rx0",
			Input: config.Input{
				Type:       "file",
				Path:       writeCapture(t, dir, 1, 16000),
				Format:     "s16",
				SampleRate: 16000,
			},
			CenterFreq: 120_000_000,
			Channels: []config.Channel{{
				Freq:       120_001_000,
				Label:      "twr",
				Modulation: "am",
				Outputs: []config.Output{{
					Type:      "wav",
					Directory: filepath.Join(dir, "rec"),
					Mode:      "continuous",
				}},
			}},
		}},
	}
}

func TestPipelineRunsToCompletion(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	pl, err := Start(cfg, nil)
	require.NoError(t, err)

	// The capture is finite; the pipeline drains it, loses its only
	// receiver, and shuts itself down.
	select {
	case <-pl.Done():
	case <-time.After(30 * time.Second):
		t.Fatal("pipeline did not finish draining a one-second capture")
	}
	pl.Stop()

	rxs, mixers := pl.Stats()
	require.Len(t, rxs, 1)
	assert.Empty(t, mixers)
	assert.Equal(t, "rx0", rxs[0].Name)
	require.Len(t, rxs[0].Channels, 1)
	assert.Equal(t, IndicateNoSignal, rxs[0].Channels[0].Indicate)

	// Continuous mode wrote the silent recording.
	entries, err := os.ReadDir(filepath.Join(dir, "rec"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestPipelineStartRejectsBadConfig(t *testing.T) {
	cfg := &config.Config{FFTSize: 1000}
	_, err := Start(cfg, nil)
	assert.Error(t, err)
}

func TestPipelineReloadFlagSurvivesStop(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	pl, err := Start(cfg, nil)
	require.NoError(t, err)

	pl.ReloadSignal()
	pl.Stop()

	assert.True(t, pl.ReloadRequested())
	assert.False(t, pl.ReloadRequested(), "flag must clear on read")
}

func TestPipelineMixerAssembly(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Mixers = []config.Mixer{{
		Name: "m0",
		Outputs: []config.Output{{
			Type:      "wav",
			Directory: filepath.Join(dir, "mix"),
			Mode:      "continuous",
		}},
	}}
	cfg.Devices[0].Channels[0].Outputs = append(cfg.Devices[0].Channels[0].Outputs, config.Output{
		Type:  "mixer",
		Mixer: "m0",
	})

	pl, err := Start(cfg, nil)
	require.NoError(t, err)

	select {
	case <-pl.Done():
	case <-time.After(30 * time.Second):
		t.Fatal("pipeline did not drain")
	}
	pl.Stop()

	_, mixers := pl.Stats()
	require.Len(t, mixers, 1)
	assert.Equal(t, "m0", mixers[0].Name)

	// The single-input mixer emitted its stereo stream.
	entries, err := os.ReadDir(filepath.Join(dir, "mix"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
