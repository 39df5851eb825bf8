package sdr

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/boondock-echo/airband/internal/ringbuffer"
)

// FileSource replays a recorded IQ capture. The file may be raw interleaved
// samples in the configured format, or a two-channel WAV container whose
// left/right channels carry I/Q; the container is sniffed at open.
type FileSource struct {
	base
	path     string
	realtime bool
}

// NewFileSource creates a file-backed receiver. With realtime set, playback
// is paced to the nominal sample rate so squelch and scan timing behave as
// they would against a live device.
func NewFileSource(name, path string, sampleRate int, centerFreq int64, format SampleFormat, realtime bool) *FileSource {
	s := &FileSource{
		base: base{
			name:       name,
			sampleRate: sampleRate,
			format:     format,
		},
		path:     path,
		realtime: realtime,
	}
	s.centerFreq.Store(centerFreq)
	s.setState(StateInitialized)
	return s
}

// SetCenterFreq records the retune. Replayed captures have no tuner, so the
// scan controller still cycles but keeps reading the same samples.
func (s *FileSource) SetCenterFreq(hz int64) error {
	s.centerFreq.Store(hz)
	return nil
}

// Run reads the capture into the ring buffer, chunked and optionally paced.
func (s *FileSource) Run(ring *ringbuffer.RingBuffer, done <-chan struct{}) error {
	file, err := os.Open(s.path)
	if err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer file.Close()

	s.setState(StateRunning)
	defer ring.Close()

	decoder := wav.NewDecoder(file)
	if decoder.IsValidFile() {
		err = s.runWAV(decoder, ring, done)
	} else {
		if _, serr := file.Seek(0, io.SeekStart); serr != nil {
			s.setState(StateFailed)
			return serr
		}
		err = s.runRaw(file, ring, done)
	}
	if err != nil {
		s.setState(StateFailed)
		return err
	}
	s.setState(StateStopped)
	return nil
}

// runRaw streams the file bytes through unchanged; they are already in the
// receiver's wire format.
func (s *FileSource) runRaw(file *os.File, ring *ringbuffer.RingBuffer, done <-chan struct{}) error {
	// One chunk is ~100 ms of IQ.
	chunkBytes := s.sampleRate / 10 * 2 * s.format.BytesPerSample()
	buf := make([]byte, chunkBytes)
	pacer := newPacer(s.realtime, 100*time.Millisecond)

	for {
		select {
		case <-done:
			return nil
		default:
		}
		n, err := io.ReadFull(file, buf)
		if n > 0 {
			ring.Produce(buf[:n])
			pacer.wait()
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", s.path, err)
		}
	}
}

// runWAV decodes the container and re-packs the samples as little-endian
// s16, the format the channelizer was told about.
func (s *FileSource) runWAV(decoder *wav.Decoder, ring *ringbuffer.RingBuffer, done <-chan struct{}) error {
	if err := decoder.FwdToPCM(); err != nil {
		return fmt.Errorf("seek to PCM data: %w", err)
	}
	if decoder.BitDepth != 16 {
		return fmt.Errorf("WAV IQ capture must be 16-bit, detected %d-bit", decoder.BitDepth)
	}
	if decoder.NumChans != 2 {
		return fmt.Errorf("WAV IQ capture must have 2 channels (I and Q), detected %d", decoder.NumChans)
	}
	if s.format != FormatS16 {
		return fmt.Errorf("WAV IQ capture requires the s16 sample format, configured %s", s.format)
	}

	chunkSamples := s.sampleRate / 10 * 2
	buf := &audio.IntBuffer{
		Format: decoder.Format(),
		Data:   make([]int, chunkSamples),
	}
	out := make([]byte, chunkSamples*2)
	pacer := newPacer(s.realtime, 100*time.Millisecond)

	for {
		select {
		case <-done:
			return nil
		default:
		}
		n, err := decoder.PCMBuffer(buf)
		if n > 0 {
			for i := 0; i < n; i++ {
				binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(buf.Data[i])))
			}
			ring.Produce(out[:n*2])
			pacer.wait()
		}
		if err == io.EOF || n == 0 {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode WAV: %w", err)
		}
	}
}

// pacer sleeps playback into real time when enabled.
type pacer struct {
	enabled bool
	period  time.Duration
	next    time.Time
}

func newPacer(enabled bool, period time.Duration) *pacer {
	return &pacer{enabled: enabled, period: period, next: time.Now()}
}

func (p *pacer) wait() {
	if !p.enabled {
		return
	}
	p.next = p.next.Add(p.period)
	if d := time.Until(p.next); d > 0 {
		time.Sleep(d)
	}
}
