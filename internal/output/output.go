// Package output fans finalized per-channel PCM (or raw IQ) blocks out to
// sinks. Each sink is owned by one writer goroutine fed through a bounded
// queue; the channelizer never blocks on a slow sink, it counts an overrun
// and drops the block instead.
package output

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// ScanTag annotates a stream with the scan controller's now-active
// frequency. At most one tag is published per scan transition.
type ScanTag struct {
	FreqIndex int
	Freq      int64
	Label     string
	Time      time.Time
}

// Block is one demod tick's worth of audio for one channel: WaveBatch mono
// PCM samples in [-1, 1], or twice that interleaved LR when Stereo is set,
// plus the matching raw IQ when the sink consumes it.
type Block struct {
	PCM    []float32
	IQ     []complex64
	Stereo bool
	// Active reports whether the squelch was open during this tick; gated
	// sinks suppress inactive blocks.
	Active bool
	Tag    *ScanTag
	Freq   int64
	// Squelch levels at emit time, for stream headers.
	SignalDB float32
	NoiseDB  float32
}

// Mode selects whether a sink sees every tick or only squelch-open ones.
// The two are mutually exclusive per sink.
type Mode int

const (
	ModeContinuous Mode = iota
	ModeGated
)

// Sink consumes finalized blocks. Implementations own their encoder or
// connection state and recover from their own delivery failures.
type Sink interface {
	Write(Block) error
	Close() error
}

// MixerInput is the enrollment handle a mixer hands to its taps.
type MixerInput interface {
	Submit(Block)
}

// Descriptor binds a sink to its queue and writer goroutine.
type Descriptor struct {
	sink     Sink
	mode     Mode
	queue    chan Block
	overruns atomic.Uint64
	wg       sync.WaitGroup
	log      *log.Logger
}

// NewDescriptor wraps a sink with a bounded block queue.
func NewDescriptor(sink Sink, mode Mode, depth int, logger *log.Logger) *Descriptor {
	if depth <= 0 {
		depth = 8
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Descriptor{
		sink:  sink,
		mode:  mode,
		queue: make(chan Block, depth),
		log:   logger,
	}
}

// Push enqueues a block for the writer. A full queue drops the block and
// counts an overrun.
func (d *Descriptor) Push(b Block) {
	if d.mode == ModeGated && !b.Active && b.Tag == nil {
		return
	}
	select {
	case d.queue <- b:
	default:
		d.overruns.Add(1)
	}
}

// Overruns returns how many blocks were dropped on a full queue.
func (d *Descriptor) Overruns() uint64 {
	return d.overruns.Load()
}

// Start launches the writer goroutine. The writer drains the queue in FIFO
// order and exits once the queue is closed and empty.
func (d *Descriptor) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for b := range d.queue {
			if err := d.sink.Write(b); err != nil {
				d.log.Error("sink write failed", "err", err)
			}
		}
		if err := d.sink.Close(); err != nil {
			d.log.Error("sink close failed", "err", err)
		}
	}()
}

// Shutdown closes the queue and waits for the writer to drain it.
func (d *Descriptor) Shutdown() {
	close(d.queue)
	d.wg.Wait()
}
