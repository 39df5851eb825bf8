package output

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/ebitengine/oto/v3"
)

// DeviceSink plays a stream on the local sound device. Blocks are pushed
// through a pipe into an oto player, so delivery never waits for the
// hardware period.
type DeviceSink struct {
	ctx    *oto.Context
	player *oto.Player
	writer *io.PipeWriter
}

// NewDeviceSink opens the audio device. channels is 1 for a channel tap,
// 2 for a mixer stream.
func NewDeviceSink(sampleRate, channels int) (*DeviceSink, error) {
	if channels <= 0 {
		channels = 1
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, err
	}
	<-ready

	reader, writer := io.Pipe()
	player := ctx.NewPlayer(reader)
	player.Play()

	return &DeviceSink{ctx: ctx, player: player, writer: writer}, nil
}

// Write queues one block for playback.
func (s *DeviceSink) Write(b Block) error {
	buf := make([]byte, len(b.PCM)*4)
	for i, v := range b.PCM {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := s.writer.Write(buf)
	return err
}

// Close stops playback.
func (s *DeviceSink) Close() error {
	err := s.writer.Close()
	if cerr := s.player.Close(); err == nil {
		err = cerr
	}
	return err
}
