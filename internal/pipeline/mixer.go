package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/boondock-echo/airband/internal/dsp"
	"github.com/boondock-echo/airband/internal/output"
)

// mixerMaxInputs bounds enrollment so the ready mask fits one word.
const mixerMaxInputs = 64

// Mixer sums enrolled channel streams into one stereo stream, one block
// per demod tick. Every enrolled input must contribute a block before the
// mix is emitted; a tick overtaken by the next one is dropped and counted.
type Mixer struct {
	name string

	mu        sync.Mutex
	inputs    []*mixerInput
	readyMask uint64
	fullMask  uint64
	sealed    bool

	highpassL, highpassR *dsp.FIRFilter
	lowpassL, lowpassR   *dsp.FIRFilter

	outputs  []*output.Descriptor
	overruns atomic.Uint64
}

type mixerInput struct {
	gainL, gainR float64
	buf          []float32
	ready        bool
}

// NewMixer creates a mixer. highpass/lowpass are cutoff frequencies in Hz
// applied to the mixed output; zero disables either.
func NewMixer(name string, highpass, lowpass float64, outputs []*output.Descriptor) *Mixer {
	m := &Mixer{name: name, outputs: outputs}
	const taps = 127
	if highpass > 0 {
		hp := dsp.DesignFIRHighPass(taps, highpass/WaveRate)
		m.highpassL = dsp.NewFIRFilter(hp)
		m.highpassR = dsp.NewFIRFilter(hp)
	}
	if lowpass > 0 {
		lp := dsp.DesignFIRLowPass(taps, lowpass/WaveRate)
		m.lowpassL = dsp.NewFIRFilter(lp)
		m.lowpassR = dsp.NewFIRFilter(lp)
	}
	return m
}

// Name returns the mixer's configured name.
func (m *Mixer) Name() string {
	return m.name
}

// Overruns returns how many ticks were dropped waiting for slow inputs.
func (m *Mixer) Overruns() uint64 {
	return m.overruns.Load()
}

// ConnectInput enrolls a new input with its gain and stereo balance in
// [-1, +1]. Called once per input at pipeline construction.
func (m *Mixer) ConnectInput(ampFactor, balance float64) (output.MixerInput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed {
		return nil, fmt.Errorf("mixer %s: inputs cannot be added after start", m.name)
	}
	if len(m.inputs) >= mixerMaxInputs {
		return nil, fmt.Errorf("mixer %s: too many inputs (max %d)", m.name, mixerMaxInputs)
	}
	if balance < -1 || balance > 1 {
		return nil, fmt.Errorf("mixer %s: balance %f outside [-1, 1]", m.name, balance)
	}
	if ampFactor == 0 {
		ampFactor = 1.0
	}
	// Panning attenuates the far side only: a centered input keeps unity
	// gain on both channels.
	gainL, gainR := 1.0, 1.0
	if balance > 0 {
		gainL = 1 - balance
	}
	if balance < 0 {
		gainR = 1 + balance
	}
	in := &mixerInput{
		gainL: ampFactor * gainL,
		gainR: ampFactor * gainR,
		buf:   make([]float32, WaveBatch),
	}
	m.inputs = append(m.inputs, in)
	id := len(m.inputs) - 1
	m.fullMask |= 1 << id
	return &mixerHandle{m: m, id: id}, nil
}

// seal freezes enrollment; called by the pipeline once construction ends.
func (m *Mixer) seal() {
	m.mu.Lock()
	m.sealed = true
	m.mu.Unlock()
}

type mixerHandle struct {
	m  *Mixer
	id int
}

// Submit delivers one tick's block for this input.
func (h *mixerHandle) Submit(b output.Block) {
	h.m.submit(h.id, b)
}

func (m *Mixer) submit(id int, b output.Block) {
	m.mu.Lock()

	in := m.inputs[id]
	if in.ready {
		// This input lapped a slower one: the pending tick can never
		// complete coherently, so drop it.
		m.overruns.Add(1)
		m.readyMask = 0
		for _, other := range m.inputs {
			other.ready = false
		}
	}
	n := copy(in.buf, b.PCM)
	for i := n; i < WaveBatch; i++ {
		in.buf[i] = 0
	}
	in.ready = true
	m.readyMask |= 1 << id

	if m.readyMask != m.fullMask {
		m.mu.Unlock()
		return
	}

	block := m.mix()
	m.readyMask = 0
	for _, other := range m.inputs {
		other.ready = false
	}
	m.mu.Unlock()

	for _, d := range m.outputs {
		d.Push(block)
	}
}

// mix sums the enrolled buffers into one interleaved stereo block.
// Called with the lock held.
func (m *Mixer) mix() output.Block {
	left := make([]float32, WaveBatch)
	right := make([]float32, WaveBatch)
	for _, in := range m.inputs {
		for i := 0; i < WaveBatch; i++ {
			left[i] += in.buf[i] * float32(in.gainL)
			right[i] += in.buf[i] * float32(in.gainR)
		}
	}
	if m.highpassL != nil {
		left = m.highpassL.Process(left)
		right = m.highpassR.Process(right)
	}
	if m.lowpassL != nil {
		left = m.lowpassL.Process(left)
		right = m.lowpassR.Process(right)
	}

	pcm := make([]float32, 2*WaveBatch)
	for i := 0; i < WaveBatch; i++ {
		l, r := left[i], right[i]
		if l > 1 {
			l = 1
		} else if l < -1 {
			l = -1
		}
		if r > 1 {
			r = 1
		} else if r < -1 {
			r = -1
		}
		pcm[2*i] = l
		pcm[2*i+1] = r
	}
	return output.Block{PCM: pcm, Stereo: true, Active: true}
}
