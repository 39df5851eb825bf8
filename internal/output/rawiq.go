package output

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"time"
)

// RawIQSink records a channel's lossless complex baseband as interleaved
// 32-bit little-endian IEEE-754 floats (CF32), one file per run.
type RawIQSink struct {
	tmpl  *FileTemplate
	freq  int64
	label string

	file *os.File
	w    *bufio.Writer
	buf  [8]byte
}

// NewRawIQSink creates the recorder.
func NewRawIQSink(tmpl *FileTemplate, freq int64, label string) *RawIQSink {
	return &RawIQSink{tmpl: tmpl, freq: freq, label: label}
}

// Write appends one block's IQ samples.
func (s *RawIQSink) Write(b Block) error {
	if len(b.IQ) == 0 {
		return nil
	}
	if s.w == nil {
		path, err := s.tmpl.Render(s.freq, s.label, time.Now())
		if err != nil {
			return err
		}
		path += ".cf32"
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		s.file = f
		s.w = bufio.NewWriterSize(f, 64*1024)
	}
	for _, z := range b.IQ {
		binary.LittleEndian.PutUint32(s.buf[0:4], math.Float32bits(real(z)))
		binary.LittleEndian.PutUint32(s.buf[4:8], math.Float32bits(imag(z)))
		if _, err := s.w.Write(s.buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the file.
func (s *RawIQSink) Close() error {
	if s.w == nil {
		return nil
	}
	err := s.w.Flush()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.w = nil
	s.file = nil
	return err
}
