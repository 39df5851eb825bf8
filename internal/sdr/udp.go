package sdr

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/boondock-echo/airband/internal/ringbuffer"
)

// UDPSource receives interleaved IQ datagrams on a local port, the same
// arrangement SDR frontends use to hand baseband to a decoder over the
// network. Each datagram body is raw samples in the configured format.
type UDPSource struct {
	base
	listenAddr string
}

// NewUDPSource creates a datagram-fed receiver.
func NewUDPSource(name, listenAddr string, sampleRate int, centerFreq int64, format SampleFormat) *UDPSource {
	s := &UDPSource{
		base: base{
			name:       name,
			sampleRate: sampleRate,
			format:     format,
		},
		listenAddr: listenAddr,
	}
	s.centerFreq.Store(centerFreq)
	s.setState(StateInitialized)
	return s
}

// SetCenterFreq records the retune; the remote frontend is assumed to track
// it out of band.
func (s *UDPSource) SetCenterFreq(hz int64) error {
	s.centerFreq.Store(hz)
	return nil
}

// Run receives datagrams into the ring buffer until done is closed.
func (s *UDPSource) Run(ring *ringbuffer.RingBuffer, done <-chan struct{}) error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.listenAddr)
	if err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("resolve %s: %w", s.listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("listen %s: %w", s.listenAddr, err)
	}
	defer conn.Close()
	defer ring.Close()

	s.setState(StateRunning)

	buf := make([]byte, 65536)
	for {
		select {
		case <-done:
			s.setState(StateStopped)
			return nil
		default:
		}

		// Short deadline so the done channel is observed promptly.
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if n > 0 {
			ring.Produce(buf[:n])
		}
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			s.setState(StateFailed)
			return fmt.Errorf("read %s: %w", s.listenAddr, err)
		}
	}
}
