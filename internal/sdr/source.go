// Package sdr abstracts receivers feeding raw interleaved IQ into the DSP
// core. Real SDR driver bindings live outside this module; the sources here
// cover recorded IQ (raw or WAV container) and datagram streams, which is
// enough to run and test every stage of the pipeline.
package sdr

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/boondock-echo/airband/internal/ringbuffer"
)

// State tracks the receiver lifecycle.
type State int32

const (
	StateInitialized State = iota
	StateRunning
	StateFailed
	StateStopped
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	case StateDisabled:
		return "disabled"
	}
	return "unknown"
}

// SampleFormat identifies the wire encoding of one IQ component.
type SampleFormat int

const (
	FormatU8 SampleFormat = iota
	FormatS8
	FormatS16
	FormatF32
)

// ParseFormat maps the configuration names onto sample formats.
func ParseFormat(name string) (SampleFormat, error) {
	switch name {
	case "u8", "uint8":
		return FormatU8, nil
	case "s8", "int8":
		return FormatS8, nil
	case "s16", "int16", "":
		return FormatS16, nil
	case "f32", "float32":
		return FormatF32, nil
	}
	return 0, fmt.Errorf("unknown sample format %q", name)
}

func (f SampleFormat) String() string {
	switch f {
	case FormatU8:
		return "u8"
	case FormatS8:
		return "s8"
	case FormatS16:
		return "s16"
	case FormatF32:
		return "f32"
	}
	return "unknown"
}

// BytesPerSample returns the byte width of a single component (half of one
// complex sample).
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatU8, FormatS8:
		return 1
	case FormatS16:
		return 2
	default:
		return 4
	}
}

// FullScale returns the positive full-scale value of the format.
func (f SampleFormat) FullScale() float64 {
	switch f {
	case FormatU8:
		return 127.5
	case FormatS8:
		return 128.0
	case FormatS16:
		return 32768.0
	default:
		return 1.0
	}
}

// Dequant decodes one component from b into a float in [-1, 1].
func (f SampleFormat) Dequant(b []byte) float64 {
	switch f {
	case FormatU8:
		return (float64(b[0]) - 127.5) / 127.5
	case FormatS8:
		return float64(int8(b[0])) / 128.0
	case FormatS16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768.0
	default:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
}

// Source is a producer of a contiguous interleaved IQ stream at a fixed
// sample rate, centered at a mutable center frequency.
type Source interface {
	Name() string
	SampleRate() int
	Format() SampleFormat
	CenterFreq() int64
	// SetCenterFreq retunes the receiver. The next FFT batch read after a
	// successful return uses the new center.
	SetCenterFreq(hz int64) error
	// Run produces into the ring buffer until the stream ends, an error
	// occurs, or done is closed. It is the receiver thread's body.
	Run(ring *ringbuffer.RingBuffer, done <-chan struct{}) error
	State() State
}

// base carries the bookkeeping shared by all source implementations.
type base struct {
	name       string
	sampleRate int
	format     SampleFormat
	centerFreq atomic.Int64
	state      atomic.Int32
}

func (b *base) Name() string         { return b.name }
func (b *base) SampleRate() int      { return b.sampleRate }
func (b *base) Format() SampleFormat { return b.format }
func (b *base) CenterFreq() int64    { return b.centerFreq.Load() }
func (b *base) State() State         { return State(b.state.Load()) }

func (b *base) setState(s State) { b.state.Store(int32(s)) }
