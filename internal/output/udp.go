package output

import (
	"encoding/binary"
	"math"
	"net"
)

// UDP stream wire format constants.
const (
	// MaxUDPPayload keeps each datagram inside a 1500-byte MTU.
	MaxUDPPayload = 1472
	udpHeaderSize = 16
)

// UDPSink streams PCM over UDP as interleaved 32-bit little-endian floats
// at the audio rate, optionally prefixed with a 16-byte metadata header
// per packet.
type UDPSink struct {
	conn      *net.UDPConn
	header    bool
	chunked   bool
	channelID uint16
	channels  int
}

// NewUDPSink dials the destination. channels is 1 for a channel tap, 2 for
// a mixer's stereo stream.
func NewUDPSink(address string, header, chunked bool, channelID uint16, channels int) (*UDPSink, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	if channels <= 0 {
		channels = 1
	}
	return &UDPSink{
		conn:      conn,
		header:    header,
		chunked:   chunked,
		channelID: channelID,
		channels:  channels,
	}, nil
}

// packetHeader marshals the optional per-packet metadata prefix:
// channel_id u16 BE, reserved u16, frequency_hz u32 BE,
// signal_dbfs_x10 i16 BE, snr_db_x10 i16 BE, padding u32.
func (s *UDPSink) packetHeader(b Block) []byte {
	h := make([]byte, udpHeaderSize)
	binary.BigEndian.PutUint16(h[0:2], s.channelID)
	binary.BigEndian.PutUint32(h[4:8], uint32(b.Freq))
	binary.BigEndian.PutUint16(h[8:10], uint16(int16(b.SignalDB*10)))
	snr := b.SignalDB - b.NoiseDB
	binary.BigEndian.PutUint16(h[10:12], uint16(int16(snr*10)))
	return h
}

// Write sends one block. With chunking enabled the payload is sliced to
// fit MaxUDPPayload on 4·channels boundaries; otherwise the whole block
// goes in one packet.
func (s *UDPSink) Write(b Block) error {
	payload := make([]byte, len(b.PCM)*4)
	for i, v := range b.PCM {
		binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(v))
	}

	frame := 4 * s.channels
	maxChunk := len(payload)
	if s.chunked {
		maxChunk = MaxUDPPayload
		if s.header {
			maxChunk -= udpHeaderSize
		}
		maxChunk -= maxChunk % frame
	}

	for off := 0; off < len(payload); off += maxChunk {
		end := off + maxChunk
		if end > len(payload) {
			end = len(payload)
		}
		var pkt []byte
		if s.header {
			pkt = append(s.packetHeader(b), payload[off:end]...)
		} else {
			pkt = payload[off:end]
		}
		if _, err := s.conn.Write(pkt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the socket.
func (s *UDPSink) Close() error {
	return s.conn.Close()
}
