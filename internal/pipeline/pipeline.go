// Package pipeline implements the wide-to-narrow DSP core: FFT
// channelization of a wideband IQ stream into independent narrowband
// channels, each squelched, demodulated, post-processed, and fanned out to
// its sinks.
package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/boondock-echo/airband/internal/config"
	"github.com/boondock-echo/airband/internal/dsp"
	"github.com/boondock-echo/airband/internal/output"
	"github.com/boondock-echo/airband/internal/sdr"
)

// Pipeline is the running DSP graph. It is constructed whole by Start and
// torn down whole by Stop; nothing is added or removed in between.
type Pipeline struct {
	log *log.Logger

	receivers    []*Receiver
	mixers       []*Mixer
	descriptors  []*output.Descriptor
	scanners     []*Scanner
	channelizers []*Channelizer

	doExit         atomic.Bool
	doReload       atomic.Bool
	devicesRunning atomic.Int32

	done     chan struct{}
	exitOnce sync.Once

	workerWg  sync.WaitGroup
	sourceWg  sync.WaitGroup
	scannerWg sync.WaitGroup
}

// Start validates the configuration, builds the static DSP graph, and
// launches every worker. Fatal init errors are returned before anything
// runs.
func Start(cfg *config.Config, logger *log.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pl := &Pipeline{
		log:  logger,
		done: make(chan struct{}),
	}

	fmMode := FMDemodFast
	if cfg.FMDemod == "quadri" {
		fmMode = FMDemodQuadri
	}
	table := dsp.NewSinCosTable()

	// Mixers first: channels enroll into them during construction.
	mixersByName := make(map[string]*Mixer)
	for i := range cfg.Mixers {
		mc := &cfg.Mixers[i]
		var descs []*output.Descriptor
		for j := range mc.Outputs {
			d, err := pl.buildDescriptor(&mc.Outputs[j], 2, 0, mc.Name, nil)
			if err != nil {
				return nil, fmt.Errorf("mixer %s: %w", mc.Name, err)
			}
			descs = append(descs, d)
		}
		m := NewMixer(mc.Name, mc.Highpass, mc.Lowpass, descs)
		mixersByName[mc.Name] = m
		pl.mixers = append(pl.mixers, m)
	}

	for i := range cfg.Devices {
		dc := &cfg.Devices[i]
		src, err := buildSource(dc)
		if err != nil {
			return nil, err
		}

		var channels []*Channel
		for j := range dc.Channels {
			cc := &dc.Channels[j]
			entries := channelEntries(cc)

			// A scanning receiver starts pre-tuned to its first entry,
			// offset away from the DC spike.
			if len(entries) > 1 {
				center := entries[0].Freq + ScanOffset(src.SampleRate(), cfg.FFTSize)
				if err := src.SetCenterFreq(center); err != nil {
					return nil, fmt.Errorf("device %s: pre-tune: %w", dc.Name, err)
				}
			}

			halfBand := int64(src.SampleRate() / 2)
			for _, e := range entries {
				if e.Freq < src.CenterFreq()-halfBand || e.Freq > src.CenterFreq()+halfBand {
					logger.Warn("channel frequency outside receiver band, response will be attenuated",
						"rx", dc.Name, "freq", e.Freq, "center", src.CenterFreq())
				}
			}

			hasIQSink := false
			for k := range cc.Outputs {
				if cc.Outputs[k].Type == "raw_iq" {
					hasIQSink = true
				}
			}

			var descs []*output.Descriptor
			for k := range cc.Outputs {
				d, err := pl.buildDescriptor(&cc.Outputs[k], 1, entries[0].Freq, entries[0].Label, mixersByName)
				if err != nil {
					return nil, fmt.Errorf("device %s channel %d: %w", dc.Name, j, err)
				}
				descs = append(descs, d)
			}

			ch := NewChannel(entries, src.CenterFreq(), src.SampleRate(), cfg.FFTSize, fmMode, table, hasIQSink, descs)
			channels = append(channels, ch)
		}

		rx, err := NewReceiver(src, channels, cfg.FFTSize)
		if err != nil {
			return nil, err
		}
		pl.receivers = append(pl.receivers, rx)

		for _, ch := range channels {
			if ch.Scanning() {
				pl.scanners = append(pl.scanners, NewScanner(rx, ch, logger.With("rx", dc.Name)))
			}
		}
	}

	for _, m := range pl.mixers {
		m.seal()
	}

	// Channelizer workers: one per receiver, or a single worker iterating
	// all receivers round-robin. Each worker owns one FFT plan.
	if cfg.WorkersPerDevice {
		for _, rx := range pl.receivers {
			backend, err := dsp.NewGonumFFT(cfg.FFTSize)
			if err != nil {
				return nil, err
			}
			pl.channelizers = append(pl.channelizers, &Channelizer{
				receivers: []*Receiver{rx},
				backend:   backend,
				pl:        pl,
				log:       logger.With("worker", rx.Name()),
			})
		}
	} else {
		backend, err := dsp.NewGonumFFT(cfg.FFTSize)
		if err != nil {
			return nil, err
		}
		pl.channelizers = append(pl.channelizers, &Channelizer{
			receivers: pl.receivers,
			backend:   backend,
			pl:        pl,
			log:       logger.With("worker", "channelizer"),
		})
	}

	pl.devicesRunning.Store(int32(len(pl.receivers)))
	pl.launch()
	return pl, nil
}

// launch starts every goroutine: output writers, receiver threads,
// channelizer workers, scan controllers.
func (pl *Pipeline) launch() {
	for _, d := range pl.descriptors {
		d.Start()
	}

	for _, rx := range pl.receivers {
		rx := rx
		pl.sourceWg.Add(1)
		go func() {
			defer pl.sourceWg.Done()
			if err := rx.src.Run(rx.ring, pl.done); err != nil {
				pl.log.Error("receiver failed", "rx", rx.Name(), "err", err)
			}
		}()
	}

	for _, cz := range pl.channelizers {
		cz := cz
		pl.workerWg.Add(1)
		go func() {
			defer pl.workerWg.Done()
			cz.run()
		}()
	}

	for _, s := range pl.scanners {
		s := s
		pl.scannerWg.Add(1)
		go func() {
			defer pl.scannerWg.Done()
			s.run(pl.done)
		}()
	}
}

// exiting is checked at the head of every worker loop.
func (pl *Pipeline) exiting() bool {
	return pl.doExit.Load()
}

// signalExit flips the global shutdown flag once.
func (pl *Pipeline) signalExit() {
	pl.exitOnce.Do(func() {
		pl.doExit.Store(true)
		close(pl.done)
	})
}

// disableReceiver takes a failed or finished receiver out of rotation.
// When the last one goes, the whole pipeline shuts down. Called only from
// the receiver's owning channelizer worker.
func (pl *Pipeline) disableReceiver(rx *Receiver) {
	if rx.disabled {
		return
	}
	rx.disabled = true
	if pl.devicesRunning.Add(-1) <= 0 {
		pl.log.Info("no receivers running, shutting down")
		pl.signalExit()
	}
}

// Done returns a channel closed when the pipeline has decided to exit,
// either by Stop or by losing its last receiver.
func (pl *Pipeline) Done() <-chan struct{} {
	return pl.done
}

// Stop shuts the pipeline down and joins every worker: demod workers and
// scanners first, then output writers in reverse creation order (channel
// outputs and mixer taps before mixer outputs), then receivers.
func (pl *Pipeline) Stop() {
	pl.signalExit()
	pl.workerWg.Wait()
	pl.scannerWg.Wait()
	// Reverse creation order: channel descriptors (mixer taps included) are
	// built after mixer outputs, so draining them first guarantees no more
	// mixer emissions land on a closed queue.
	for i := len(pl.descriptors) - 1; i >= 0; i-- {
		pl.descriptors[i].Shutdown()
	}
	pl.sourceWg.Wait()
}

// ReloadSignal requests a configuration reload. The core only honors a
// full restart: the orchestrator observes the flag, stops this pipeline,
// and starts a new one.
func (pl *Pipeline) ReloadSignal() {
	pl.doReload.Store(true)
}

// ReloadRequested reports and clears the reload flag.
func (pl *Pipeline) ReloadRequested() bool {
	return pl.doReload.Swap(false)
}

// Receivers exposes the receiver list for observers (spectrum, counters).
func (pl *Pipeline) Receivers() []*Receiver {
	return pl.receivers
}

// ReceiverStats is one row of the read-only metrics view.
type ReceiverStats struct {
	Name          string
	State         sdr.State
	RingOverflows uint64
	OutputDrops   uint64
	Channels      []ChannelStats
}

// ChannelStats describes one channel's current status.
type ChannelStats struct {
	Freq      int64
	Label     string
	Indicate  Indicate
	ScanIndex int
}

// MixerStats describes one mixer's drop counter.
type MixerStats struct {
	Name     string
	Overruns uint64
}

// Stats assembles the read-only metrics view.
func (pl *Pipeline) Stats() ([]ReceiverStats, []MixerStats) {
	var rxs []ReceiverStats
	for _, rx := range pl.receivers {
		st := ReceiverStats{
			Name:          rx.Name(),
			State:         rx.src.State(),
			RingOverflows: rx.Overflows(),
		}
		for _, ch := range rx.channels {
			st.Channels = append(st.Channels, ChannelStats{
				Freq:      ch.freq,
				Label:     ch.label,
				Indicate:  ch.Indicate(),
				ScanIndex: ch.ActiveIndex(),
			})
			for _, d := range ch.outputs {
				st.OutputDrops += d.Overruns()
			}
		}
		rxs = append(rxs, st)
	}
	var ms []MixerStats
	for _, m := range pl.mixers {
		ms = append(ms, MixerStats{Name: m.Name(), Overruns: m.Overruns()})
	}
	return rxs, ms
}

// buildSource constructs the IQ source for one device.
func buildSource(dc *config.Device) (sdr.Source, error) {
	format, err := sdr.ParseFormat(dc.Input.Format)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", dc.Name, err)
	}
	switch dc.Input.Type {
	case "file":
		return sdr.NewFileSource(dc.Name, dc.Input.Path, dc.Input.SampleRate, dc.CenterFreq, format, dc.Input.Realtime), nil
	case "udp":
		return sdr.NewUDPSource(dc.Name, dc.Input.Address, dc.Input.SampleRate, dc.CenterFreq, format), nil
	}
	return nil, fmt.Errorf("device %s: unknown input type %q", dc.Name, dc.Input.Type)
}

// channelEntries expands a channel configuration into its tuned-frequency
// list, inheriting channel-level defaults into scan entries.
func channelEntries(cc *config.Channel) []ChannelEntry {
	parseMod := func(s string) Modulation {
		if s == "nfm" {
			return ModNFM
		}
		return ModAM
	}

	base := ChannelEntry{
		Freq:       cc.Freq,
		Label:      cc.Label,
		Modulation: parseMod(cc.Modulation),
		AmpFactor:  cc.AmpFactor,
		Squelch: SquelchParams{
			ManualLevel: config.DBFSToLevel(cc.SquelchDB),
			SNRFactor:   config.SNRToFactor(cc.SquelchSNR),
			CTCSSFreq:   cc.CTCSS,
		},
		NotchFreq: cc.NotchFreq,
		NotchQ:    cc.NotchQ,
		Bandwidth: cc.Bandwidth,
		AFC:       cc.AFC,
	}
	if len(cc.Freqs) == 0 {
		return []ChannelEntry{base}
	}

	entries := make([]ChannelEntry, 0, len(cc.Freqs))
	for _, f := range cc.Freqs {
		e := base
		e.Freq = f.Freq
		if f.Label != "" {
			e.Label = f.Label
		}
		if f.Modulation != "" {
			e.Modulation = parseMod(f.Modulation)
		}
		if f.AmpFactor != 0 {
			e.AmpFactor = f.AmpFactor
		}
		if f.SquelchDB != 0 || f.SquelchSNR != 0 || f.CTCSS != 0 {
			e.Squelch = SquelchParams{
				ManualLevel: config.DBFSToLevel(f.SquelchDB),
				SNRFactor:   config.SNRToFactor(f.SquelchSNR),
				CTCSSFreq:   f.CTCSS,
			}
		}
		if f.NotchFreq != 0 {
			e.NotchFreq = f.NotchFreq
			e.NotchQ = f.NotchQ
		}
		entries = append(entries, e)
	}
	return entries
}

// buildDescriptor constructs one sink and wraps it in its queue. channels
// is the PCM channel count the sink will see (2 for mixer streams).
func (pl *Pipeline) buildDescriptor(oc *config.Output, channels int, freq int64, label string, mixers map[string]*Mixer) (*output.Descriptor, error) {
	mode := output.ModeGated
	if oc.Mode == "continuous" {
		mode = output.ModeContinuous
	}

	var sink output.Sink
	switch oc.Type {
	case "wav":
		tmpl := output.NewFileTemplate(oc.Directory, oc.Template, oc.DatedSubdirs)
		sink = output.NewWAVSink(tmpl, WaveRate, channels, freq, label,
			time.Duration(oc.RotateMinutes)*time.Minute, oc.SplitOnTransmission)
	case "raw_iq":
		tmpl := output.NewFileTemplate(oc.Directory, oc.Template, oc.DatedSubdirs)
		sink = output.NewRawIQSink(tmpl, freq, label)
	case "udp_stream":
		s, err := output.NewUDPSink(oc.Address, oc.Header, oc.Chunked, oc.ChannelID, channels)
		if err != nil {
			return nil, err
		}
		sink = s
	case "device":
		s, err := output.NewDeviceSink(WaveRate, channels)
		if err != nil {
			return nil, err
		}
		sink = s
	case "mixer":
		m := mixers[oc.Mixer]
		if m == nil {
			return nil, fmt.Errorf("unknown mixer %q", oc.Mixer)
		}
		in, err := m.ConnectInput(oc.AmpFactor, oc.Balance)
		if err != nil {
			return nil, err
		}
		sink = output.NewMixerTap(in)
		// The mixer needs a block every tick to keep its inputs aligned.
		mode = output.ModeContinuous
	default:
		return nil, fmt.Errorf("unknown sink type %q", oc.Type)
	}

	d := output.NewDescriptor(sink, mode, 8, pl.log)
	pl.descriptors = append(pl.descriptors, d)
	return d, nil
}
