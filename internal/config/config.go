// Package config loads and validates the YAML pipeline description. The
// DSP graph is fixed for the life of a run: changing it means stopping the
// pipeline and starting a new one from a fresh Config.
package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root of the pipeline description.
type Config struct {
	LogLevel string `yaml:"log_level"`
	// FFTSize must be a power of two in [256, 131072].
	FFTSize int `yaml:"fft_size"`
	// FMDemod selects the NFM discriminator: "fast" (default) or "quadri".
	FMDemod string `yaml:"fm_demod"`
	// WorkersPerDevice runs one channelizer worker per receiver instead of
	// a single worker round-robining over all of them.
	WorkersPerDevice bool `yaml:"workers_per_device"`

	Devices []Device `yaml:"devices"`
	Mixers  []Mixer  `yaml:"mixers"`
}

// Device describes one receiver and its channels.
type Device struct {
	Name       string    `yaml:"name"`
	Input      Input     `yaml:"input"`
	CenterFreq int64     `yaml:"centerfreq"`
	Channels   []Channel `yaml:"channels"`
}

// Input describes where a receiver's IQ comes from.
type Input struct {
	// Type is "file" or "udp".
	Type       string `yaml:"type"`
	Path       string `yaml:"path"`
	Address    string `yaml:"address"`
	Format     string `yaml:"format"`
	SampleRate int    `yaml:"sample_rate"`
	// Realtime paces file playback to the nominal sample rate.
	Realtime bool `yaml:"realtime"`
}

// Channel describes one narrowband extraction. A channel either has a
// single frequency (Freq) or a scan list (Freqs); setting both is an error.
type Channel struct {
	Freq       int64        `yaml:"freq"`
	Label      string       `yaml:"label"`
	Modulation string       `yaml:"modulation"`
	Bandwidth  float64      `yaml:"bandwidth"`
	AmpFactor  float64      `yaml:"ampfactor"`
	SquelchDB  float64      `yaml:"squelch_threshold_dbfs"`
	SquelchSNR float64      `yaml:"squelch_snr_db"`
	CTCSS      float64      `yaml:"ctcss"`
	NotchFreq  float64      `yaml:"notch"`
	NotchQ     float64      `yaml:"notch_q"`
	AFC        int          `yaml:"afc"`
	Freqs      []ScanEntry  `yaml:"freqs"`
	Outputs    []Output     `yaml:"outputs"`
}

// ScanEntry is one stop in a channel's scan list. Zero-valued fields
// inherit the channel's settings, except in two groups: setting any of
// squelch_threshold_dbfs, squelch_snr_db or ctcss replaces all three, and
// setting notch replaces notch_q as well.
type ScanEntry struct {
	Freq       int64   `yaml:"freq"`
	Label      string  `yaml:"label"`
	Modulation string  `yaml:"modulation"`
	AmpFactor  float64 `yaml:"ampfactor"`
	SquelchDB  float64 `yaml:"squelch_threshold_dbfs"`
	SquelchSNR float64 `yaml:"squelch_snr_db"`
	CTCSS      float64 `yaml:"ctcss"`
	NotchFreq  float64 `yaml:"notch"`
	NotchQ     float64 `yaml:"notch_q"`
}

// Output describes one sink attached to a channel or mixer.
type Output struct {
	// Type is one of: wav, raw_iq, udp_stream, device, mixer.
	// The mp3, icecast, pulse, api_post and key_value tags are reserved
	// for external encoder collaborators and rejected at load.
	Type string `yaml:"type"`

	// File sinks.
	Directory     string `yaml:"directory"`
	Template      string `yaml:"filename_template"`
	DatedSubdirs  bool   `yaml:"dated_subdirectories"`
	RotateMinutes int    `yaml:"rotate_minutes"`

	// Mode is "gated" (default) or "continuous".
	Mode                string `yaml:"mode"`
	SplitOnTransmission bool   `yaml:"split_on_transmission"`

	// UDP stream sink.
	Address   string `yaml:"address"`
	Header    bool   `yaml:"header"`
	ChannelID uint16 `yaml:"channel_id"`
	Chunked   bool   `yaml:"chunked"`

	// Mixer sink.
	Mixer     string  `yaml:"mixer"`
	Balance   float64 `yaml:"balance"`
	AmpFactor float64 `yaml:"ampfactor"`
}

// Mixer describes one N-input mixer and its own outputs.
type Mixer struct {
	Name     string   `yaml:"name"`
	Highpass float64  `yaml:"highpass"`
	Lowpass  float64  `yaml:"lowpass"`
	Outputs  []Output `yaml:"outputs"`
}

// reservedSinks name output kinds whose encoders live outside this module.
var reservedSinks = map[string]bool{
	"mp3": true, "icecast": true, "pulse": true, "api_post": true, "key_value": true,
}

// knownSinks are the in-tree sink kinds.
var knownSinks = map[string]bool{
	"wav": true, "raw_iq": true, "udp_stream": true, "device": true, "mixer": true,
}

// Load reads and validates a pipeline description.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate applies defaults and checks everything that must be fatal at
// init time.
func (c *Config) Validate() error {
	if c.FFTSize == 0 {
		c.FFTSize = 2048
	}
	if c.FFTSize < 256 || c.FFTSize > 131072 || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("fft_size %d: must be a power of two in [256, 131072]", c.FFTSize)
	}
	switch c.FMDemod {
	case "", "fast", "quadri":
	default:
		return fmt.Errorf("fm_demod %q: must be \"fast\" or \"quadri\"", c.FMDemod)
	}
	if len(c.Devices) == 0 {
		return fmt.Errorf("no devices configured")
	}

	mixerNames := make(map[string]bool)
	for i := range c.Mixers {
		m := &c.Mixers[i]
		if m.Name == "" {
			return fmt.Errorf("mixer %d: name required", i)
		}
		if mixerNames[m.Name] {
			return fmt.Errorf("mixer %q: duplicate name", m.Name)
		}
		mixerNames[m.Name] = true
		for j := range m.Outputs {
			o := &m.Outputs[j]
			if err := validateOutput(o, fmt.Sprintf("mixer %q output %d", m.Name, j)); err != nil {
				return err
			}
			// No cascading, and a mixer has no raw IQ to record.
			if o.Type == "mixer" {
				return fmt.Errorf("mixer %q: mixers cannot feed other mixers", m.Name)
			}
			if o.Type == "raw_iq" {
				return fmt.Errorf("mixer %q: raw IQ output requires a channel, not a mixer", m.Name)
			}
		}
	}

	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Name == "" {
			d.Name = fmt.Sprintf("rx%d", i)
		}
		if err := d.Input.validate(d.Name); err != nil {
			return err
		}
		if d.CenterFreq <= 0 {
			return fmt.Errorf("device %s: centerfreq required", d.Name)
		}
		if len(d.Channels) == 0 {
			return fmt.Errorf("device %s: at least one channel required", d.Name)
		}
		for j := range d.Channels {
			ch := &d.Channels[j]
			if err := ch.validate(d.Name, j, mixerNames); err != nil {
				return err
			}
			// A scanning receiver sweeps its tuner, which would drag every
			// other channel along with it.
			if len(ch.Freqs) > 1 && len(d.Channels) > 1 {
				return fmt.Errorf("device %s: a scanning channel must be the device's only channel", d.Name)
			}
		}
	}
	return nil
}

func (in *Input) validate(device string) error {
	switch in.Type {
	case "file":
		if in.Path == "" {
			return fmt.Errorf("device %s: input path required", device)
		}
	case "udp":
		if in.Address == "" {
			return fmt.Errorf("device %s: input address required", device)
		}
	default:
		return fmt.Errorf("device %s: unknown input type %q", device, in.Type)
	}
	if in.SampleRate <= 8000 {
		return fmt.Errorf("device %s: sample_rate %d must exceed 8000", device, in.SampleRate)
	}
	return nil
}

func (ch *Channel) validate(device string, idx int, mixerNames map[string]bool) error {
	where := fmt.Sprintf("device %s channel %d", device, idx)

	if ch.Freq != 0 && len(ch.Freqs) > 0 {
		return fmt.Errorf("%s: freq and freqs are mutually exclusive", where)
	}
	if ch.Freq == 0 && len(ch.Freqs) == 0 {
		return fmt.Errorf("%s: freq or freqs required", where)
	}
	switch ch.Modulation {
	case "", "am", "nfm":
	default:
		return fmt.Errorf("%s: unknown modulation %q", where, ch.Modulation)
	}
	for k, e := range ch.Freqs {
		if e.Freq <= 0 {
			return fmt.Errorf("%s: scan entry %d: freq required", where, k)
		}
		switch e.Modulation {
		case "", "am", "nfm":
		default:
			return fmt.Errorf("%s: scan entry %d: unknown modulation %q", where, k, e.Modulation)
		}
	}
	if ch.SquelchDB > 0 {
		return fmt.Errorf("%s: squelch_threshold_dbfs must be negative (or 0 for auto)", where)
	}
	if len(ch.Outputs) == 0 {
		return fmt.Errorf("%s: at least one output required", where)
	}
	for k := range ch.Outputs {
		o := &ch.Outputs[k]
		if err := validateOutput(o, fmt.Sprintf("%s output %d", where, k)); err != nil {
			return err
		}
		if o.Type == "mixer" && !mixerNames[o.Mixer] {
			return fmt.Errorf("%s output %d: unknown mixer %q", where, k, o.Mixer)
		}
	}
	return nil
}

func validateOutput(o *Output, where string) error {
	if reservedSinks[o.Type] {
		return fmt.Errorf("%s: sink type %q requires an external encoder collaborator", where, o.Type)
	}
	if !knownSinks[o.Type] {
		return fmt.Errorf("%s: unknown sink type %q", where, o.Type)
	}
	switch o.Mode {
	case "":
		o.Mode = "gated"
	case "gated", "continuous":
	default:
		return fmt.Errorf("%s: mode %q must be \"gated\" or \"continuous\"", where, o.Mode)
	}
	// Continuous and split-on-transmission are mutually exclusive.
	if o.SplitOnTransmission && o.Mode == "continuous" {
		return fmt.Errorf("%s: split_on_transmission conflicts with continuous mode", where)
	}
	switch o.Type {
	case "wav", "raw_iq":
		if o.Directory == "" {
			return fmt.Errorf("%s: directory required", where)
		}
	case "udp_stream":
		if o.Address == "" {
			return fmt.Errorf("%s: address required", where)
		}
	case "mixer":
		if o.Mixer == "" {
			return fmt.Errorf("%s: mixer name required", where)
		}
		if o.Balance < -1 || o.Balance > 1 {
			return fmt.Errorf("%s: balance %f outside [-1, 1]", where, o.Balance)
		}
	}
	return nil
}

// DBFSToLevel converts a threshold in dBFS to a linear amplitude.
func DBFSToLevel(db float64) float64 {
	if db == 0 {
		return 0 // auto
	}
	return math.Pow(10, db/20)
}

// SNRToFactor converts an SNR threshold in dB to a linear factor, with the
// 8 dB default when unset.
func SNRToFactor(db float64) float64 {
	if db == 0 {
		db = 8
	}
	return math.Pow(10, db/20)
}
