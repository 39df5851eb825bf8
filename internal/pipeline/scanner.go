package pipeline

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/boondock-echo/airband/internal/output"
)

const (
	scanTickInterval = 200 * time.Millisecond
	// Ticks with no signal before moving to the next list entry (~2 s).
	scanIdleTicks = 10
	// Bins of offset applied when pre-tuning the receiver so the channel
	// lands away from the DC spike at bin 0.
	scanBinOffset = 20
)

// Scanner sweeps one receiver through its channel's frequency list while
// the channel is idle, and publishes a metadata tag when a transmission is
// found on a new entry.
type Scanner struct {
	rx  *Receiver
	ch  *Channel
	log *log.Logger
}

// NewScanner creates the scan controller for a scanning receiver.
func NewScanner(rx *Receiver, ch *Channel, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.Default()
	}
	return &Scanner{rx: rx, ch: ch, log: logger}
}

// ScanOffset returns the Hz offset added when pre-tuning to a list entry.
func ScanOffset(sampleRate, fftSize int) int64 {
	return int64(scanBinOffset * sampleRate / fftSize)
}

// run is the scan controller body: a slow tick loop examining the
// channel's status tag.
func (s *Scanner) run(done <-chan struct{}) {
	ticker := time.NewTicker(scanTickInterval)
	defer ticker.Stop()

	idle := 0
	lastTagIndex := -1

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		if s.ch.Indicate() == IndicateNoSignal {
			idle++
			if idle >= scanIdleTicks {
				s.advance()
				idle = 0
			}
			continue
		}

		// A transmission on the current entry: hold here. The tag key is
		// the entry index, so a continuing signal on the same entry does
		// not re-emit.
		idle = 0
		index := s.ch.ActiveIndex()
		if index != lastTagIndex {
			entry := s.ch.Entries()[index]
			s.ch.PublishTag(&output.ScanTag{
				FreqIndex: index,
				Freq:      entry.Freq,
				Label:     entry.Label,
				Time:      time.Now(),
			})
			lastTagIndex = index
			s.log.Info("scan hit", "rx", s.rx.Name(), "index", index, "freq", entry.Freq, "label", entry.Label)
		}
	}
}

// advance retunes the receiver to the next list entry.
func (s *Scanner) advance() {
	entries := s.ch.Entries()
	next := (s.ch.ActiveIndex() + 1) % len(entries)
	center := entries[next].Freq + ScanOffset(s.rx.src.SampleRate(), s.rx.fftSize)
	if err := s.rx.src.SetCenterFreq(center); err != nil {
		s.log.Warn("scan retune failed", "rx", s.rx.Name(), "freq", center, "err", err)
		return
	}
	s.ch.RequestEntry(next)
}
