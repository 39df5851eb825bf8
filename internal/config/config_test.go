package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
log_level: info
fft_size: 2048
fm_demod: fast
devices:
  - name: airband
    input:
      type: file
      path: /captures/airband.cs16
      format: s16
      sample_rate: 2560000
      realtime: true
    centerfreq: 120000000
    channels:
      - freq: 119750000
        label: tower
        modulation: am
        squelch_snr_db: 8
        afc: 4
        outputs:
          - type: wav
            directory: /recordings
            filename_template: "${label}_${start:%Y%m%d_%H%M%S}"
            dated_subdirectories: true
            mode: gated
          - type: udp_stream
            address: 127.0.0.1:7355
            header: true
            mode: continuous
      - freq: 121500000
        label: guard
        modulation: am
        outputs:
          - type: mixer
            mixer: monitor
            balance: -0.5
mixers:
  - name: monitor
    highpass: 300
    lowpass: 3400
    outputs:
      - type: device
        mode: continuous
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "airband.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSample(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 2048, cfg.FFTSize)
	require.Len(t, cfg.Devices, 1)

	d := cfg.Devices[0]
	assert.Equal(t, "airband", d.Name)
	assert.Equal(t, "file", d.Input.Type)
	assert.EqualValues(t, 120_000_000, d.CenterFreq)
	require.Len(t, d.Channels, 2)

	ch := d.Channels[0]
	assert.EqualValues(t, 119_750_000, ch.Freq)
	assert.Equal(t, 4, ch.AFC)
	require.Len(t, ch.Outputs, 2)
	assert.Equal(t, "gated", ch.Outputs[0].Mode)
	assert.True(t, ch.Outputs[0].DatedSubdirs)
	assert.True(t, ch.Outputs[1].Header)

	require.Len(t, cfg.Mixers, 1)
	assert.Equal(t, 300.0, cfg.Mixers[0].Highpass)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/airband.yaml")
	assert.Error(t, err)
}

func TestValidateDefaults(t *testing.T) {
	cfg := minimal()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2048, cfg.FFTSize, "fft_size default")
	assert.Equal(t, "gated", cfg.Devices[0].Channels[0].Outputs[0].Mode, "mode default")
	assert.Equal(t, "rx0", cfg.Devices[0].Name, "device name default")
}

func minimal() *Config {
	return &Config{
		Devices: []Device{{
			Input:      Input{Type: "file", Path: "/x.iq", SampleRate: 2_560_000},
			CenterFreq: 120_000_000,
			Channels: []Channel{{
				Freq:    119_000_000,
				Outputs: []Output{{Type: "wav", Directory: "/rec"}},
			}},
		}},
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad fft size", func(c *Config) { c.FFTSize = 1000 }},
		{"fft size too small", func(c *Config) { c.FFTSize = 128 }},
		{"bad fm demod", func(c *Config) { c.FMDemod = "pll" }},
		{"no devices", func(c *Config) { c.Devices = nil }},
		{"no channels", func(c *Config) { c.Devices[0].Channels = nil }},
		{"bad sample rate", func(c *Config) { c.Devices[0].Input.SampleRate = 8000 }},
		{"missing center freq", func(c *Config) { c.Devices[0].CenterFreq = 0 }},
		{"missing input path", func(c *Config) { c.Devices[0].Input.Path = "" }},
		{"unknown input type", func(c *Config) { c.Devices[0].Input.Type = "rtl" }},
		{"missing channel freq", func(c *Config) { c.Devices[0].Channels[0].Freq = 0 }},
		{"bad modulation", func(c *Config) { c.Devices[0].Channels[0].Modulation = "usb" }},
		{"positive squelch dbfs", func(c *Config) { c.Devices[0].Channels[0].SquelchDB = 5 }},
		{"no outputs", func(c *Config) { c.Devices[0].Channels[0].Outputs = nil }},
		{"unknown sink", func(c *Config) { c.Devices[0].Channels[0].Outputs[0].Type = "tape" }},
		{"reserved sink", func(c *Config) { c.Devices[0].Channels[0].Outputs[0].Type = "icecast" }},
		{"bad mode", func(c *Config) { c.Devices[0].Channels[0].Outputs[0].Mode = "burst" }},
		{"split with continuous", func(c *Config) {
			c.Devices[0].Channels[0].Outputs[0].Mode = "continuous"
			c.Devices[0].Channels[0].Outputs[0].SplitOnTransmission = true
		}},
		{"unknown mixer", func(c *Config) {
			c.Devices[0].Channels[0].Outputs[0] = Output{Type: "mixer", Mixer: "ghost"}
		}},
		{"freq and freqs", func(c *Config) {
			c.Devices[0].Channels[0].Freqs = []ScanEntry{{Freq: 1}, {Freq: 2}}
		}},
		{"scan entry without freq", func(c *Config) {
			c.Devices[0].Channels[0].Freq = 0
			c.Devices[0].Channels[0].Freqs = []ScanEntry{{}}
		}},
		{"scanner with sibling channels", func(c *Config) {
			c.Devices[0].Channels[0].Freq = 0
			c.Devices[0].Channels[0].Freqs = []ScanEntry{{Freq: 1_000_000}, {Freq: 2_000_000}}
			c.Devices[0].Channels = append(c.Devices[0].Channels, Channel{
				Freq:    119_100_000,
				Outputs: []Output{{Type: "wav", Directory: "/rec"}},
			})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := minimal()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateMixerRules(t *testing.T) {
	cfg := minimal()
	cfg.Mixers = []Mixer{{
		Name:    "m0",
		Outputs: []Output{{Type: "mixer", Mixer: "m1"}},
	}}
	assert.Error(t, cfg.Validate(), "mixer cascading")

	cfg = minimal()
	cfg.Mixers = []Mixer{{
		Name:    "m0",
		Outputs: []Output{{Type: "raw_iq", Directory: "/rec"}},
	}}
	assert.Error(t, cfg.Validate(), "raw IQ from a mixer")

	cfg = minimal()
	cfg.Mixers = []Mixer{
		{Name: "m0", Outputs: []Output{{Type: "device"}}},
		{Name: "m0", Outputs: []Output{{Type: "device"}}},
	}
	assert.Error(t, cfg.Validate(), "duplicate mixer names")
}

func TestDBFSToLevel(t *testing.T) {
	assert.InDelta(t, 0.1, DBFSToLevel(-20), 1e-9)
	assert.InDelta(t, 1.0, DBFSToLevel(-0.0000001), 1e-3)
	assert.Zero(t, DBFSToLevel(0), "zero means auto")
}

func TestSNRToFactor(t *testing.T) {
	// 8 dB default when unset.
	assert.InDelta(t, 2.511, SNRToFactor(0), 0.01)
	assert.InDelta(t, 3.162, SNRToFactor(10), 0.01)
}
