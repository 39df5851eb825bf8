package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/lestrrat-go/strftime"
)

// DefaultTemplate names recordings by label and start time.
const DefaultTemplate = "${label}_${start:%Y%m%d_%H%M%S}"

// FileTemplate renders output file paths. Supported substitutions:
// ${freq} (Hz), ${label}, and ${start:FMT} where FMT is a strftime format
// applied to the file's start time. With dated subdirectories enabled the
// file lands under YYYY/MM/DD below the base directory.
type FileTemplate struct {
	dir          string
	template     string
	datedSubdirs bool
}

// NewFileTemplate creates a path renderer rooted at dir.
func NewFileTemplate(dir, template string, datedSubdirs bool) *FileTemplate {
	if template == "" {
		template = DefaultTemplate
	}
	return &FileTemplate{dir: dir, template: template, datedSubdirs: datedSubdirs}
}

// Render expands the template. The extension is appended by the caller.
func (t *FileTemplate) Render(freq int64, label string, start time.Time) (string, error) {
	name := t.template
	name = strings.ReplaceAll(name, "${freq}", fmt.Sprintf("%d", freq))
	name = strings.ReplaceAll(name, "${label}", sanitizeLabel(label))

	for {
		i := strings.Index(name, "${start:")
		if i < 0 {
			break
		}
		j := strings.Index(name[i:], "}")
		if j < 0 {
			return "", fmt.Errorf("filename template %q: unterminated ${start:}", t.template)
		}
		format := name[i+len("${start:") : i+j]
		stamp, err := strftime.Format(format, start)
		if err != nil {
			return "", fmt.Errorf("filename template %q: %w", t.template, err)
		}
		name = name[:i] + stamp + name[i+j+1:]
	}

	dir := t.dir
	if t.datedSubdirs {
		dir = filepath.Join(dir, start.Format("2006/01/02"))
	}
	return filepath.Join(dir, name), nil
}

func sanitizeLabel(label string) string {
	if label == "" {
		return "channel"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, label)
}

// WAVSink records 8 kHz PCM into rotating WAV files.
type WAVSink struct {
	tmpl     *FileTemplate
	rotate   time.Duration
	split    bool
	channels int
	freq     int64
	label    string

	file    *os.File
	enc     *wav.Encoder
	opened  time.Time
	wasOpen bool

	sampleRate int
	scratch    *audio.IntBuffer
}

// NewWAVSink creates the recorder. rotate of zero disables time rotation;
// split closes the file at the end of each transmission.
func NewWAVSink(tmpl *FileTemplate, sampleRate, channels int, freq int64, label string, rotate time.Duration, split bool) *WAVSink {
	if channels <= 0 {
		channels = 1
	}
	return &WAVSink{
		tmpl:       tmpl,
		rotate:     rotate,
		split:      split,
		channels:   channels,
		freq:       freq,
		label:      label,
		sampleRate: sampleRate,
	}
}

// Write encodes one block, opening or rotating the file as the policy
// demands.
func (s *WAVSink) Write(b Block) error {
	// End of transmission closes the file under the split policy.
	if s.split && s.wasOpen && !b.Active {
		s.wasOpen = false
		return s.closeFile()
	}
	s.wasOpen = b.Active

	now := time.Now()
	if s.enc != nil && s.rotate > 0 && now.Sub(s.opened) >= s.rotate {
		if err := s.closeFile(); err != nil {
			return err
		}
	}
	if s.enc == nil {
		if err := s.openFile(now); err != nil {
			return err
		}
	}

	if s.scratch == nil || len(s.scratch.Data) != len(b.PCM) {
		s.scratch = &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: s.channels, SampleRate: s.sampleRate},
			SourceBitDepth: 16,
			Data:           make([]int, len(b.PCM)),
		}
	}
	for i, v := range b.PCM {
		s.scratch.Data[i] = int(v * 32767)
	}
	return s.enc.Write(s.scratch)
}

func (s *WAVSink) openFile(now time.Time) error {
	path, err := s.tmpl.Render(s.freq, s.label, now)
	if err != nil {
		return err
	}
	path += ".wav"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	s.file = f
	s.enc = wav.NewEncoder(f, s.sampleRate, 16, s.channels, 1)
	s.opened = now
	return nil
}

func (s *WAVSink) closeFile() error {
	if s.enc == nil {
		return nil
	}
	err := s.enc.Close()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.enc = nil
	s.file = nil
	return err
}

// Close finishes the current file.
func (s *WAVSink) Close() error {
	return s.closeFile()
}
