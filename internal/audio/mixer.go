package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"github.com/sjawhar/meetscribe/internal/media"
)

// Mixer sums PCM16-LE mono inputs sample by sample into one track. Inputs
// must share a sample rate. When one input runs more than maxLag samples
// ahead of a silent one, the silent input is padded with zeros.
type Mixer struct {
	id     string
	rate   int
	maxLag int

	subs fanout

	mu      sync.Mutex
	queues  [][]int16
	cancels []func()
	ended   []func()
	stopped bool
}

func NewMixer(id string, inputs ...media.Track) (*Mixer, error) {
	if len(inputs) == 0 {
		return nil, errors.New("mixer needs at least one input")
	}
	rate := inputs[0].SampleRate()
	for _, in := range inputs[1:] {
		if in.SampleRate() != rate {
			return nil, errors.New("mixer inputs must share a sample rate")
		}
	}

	m := &Mixer{
		id:     id,
		rate:   rate,
		maxLag: rate / 2,
		queues: make([][]int16, len(inputs)),
	}
	for i, in := range inputs {
		idx := i
		m.cancels = append(m.cancels, in.Subscribe(func(pcm []byte) { m.push(idx, pcm) }))
		in.OnEnded(m.fireEnded)
	}
	return m, nil
}

func (m *Mixer) ID() string       { return m.id }
func (m *Mixer) Kind() media.Kind { return media.KindMixed }
func (m *Mixer) SampleRate() int  { return m.rate }

func (m *Mixer) Subscribe(fn func([]byte)) func() {
	return m.subs.add(fn)
}

func (m *Mixer) OnEnded(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, fn)
}

// Stop detaches the mixer from its inputs. Inputs are stopped by their owner.
func (m *Mixer) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancels := m.cancels
	m.cancels = nil
	m.queues = make([][]int16, len(m.queues))
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (m *Mixer) push(idx int, pcm []byte) {
	samples := decodePCM(pcm)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.queues[idx] = append(m.queues[idx], samples...)
	mixed := m.drainLocked()
	m.mu.Unlock()

	if len(mixed) > 0 {
		m.subs.emit(encodePCM(mixed))
	}
}

func (m *Mixer) drainLocked() []int16 {
	longest := 0
	for _, q := range m.queues {
		if len(q) > longest {
			longest = len(q)
		}
	}
	if longest > m.maxLag {
		for i, q := range m.queues {
			if len(q) < longest {
				m.queues[i] = append(q, make([]int16, longest-len(q))...)
			}
		}
	}

	n := longest
	for _, q := range m.queues {
		if len(q) < n {
			n = len(q)
		}
	}
	if n == 0 {
		return nil
	}

	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int32
		for _, q := range m.queues {
			sum += int32(q[i])
		}
		out[i] = clip(sum)
	}
	for i := range m.queues {
		m.queues[i] = m.queues[i][n:]
	}
	return out
}

func (m *Mixer) fireEnded() {
	m.mu.Lock()
	listeners := append([]func(){}, m.ended...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func clip(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func decodePCM(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func encodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
