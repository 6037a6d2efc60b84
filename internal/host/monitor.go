package host

import (
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Monitor plays a playback endpoint's demuxed output on the local audio
// device. The tick loop submits one period per cycle; oto pulls interleaved
// bytes through Read on its own goroutine, so the two sides meet in a small
// mutex-guarded ring. Underruns produce silence rather than blocking either
// side.
type Monitor struct {
	ctx    *oto.Context
	player *oto.Player
	ring   *monitorRing

	mu      sync.Mutex
	started bool
}

// NewMonitor opens the audio device for 16-bit interleaved output. bufferMs
// worth of audio is buffered in the ring before submits start overwriting the
// oldest data.
func NewMonitor(sampleRate, channelCount, bufferFrames int) (*Monitor, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, err
	}
	<-ready

	m := &Monitor{
		ctx:  ctx,
		ring: newMonitorRing(bufferFrames * channelCount * 2),
	}
	m.player = ctx.NewPlayer(m.ring)
	return m, nil
}

// Submit interleaves one period of channel planes into the ring. Nil planes
// contribute silence.
func (m *Monitor) Submit(sources [][]byte, periodFrames int) {
	m.ring.writeInterleaved(sources, periodFrames)
}

func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started && m.player != nil {
		m.player.Play()
		m.started = true
	}
}

func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.player == nil {
		return nil
	}
	err := m.player.Close()
	m.player = nil
	m.started = false
	return err
}

// monitorRing is the byte FIFO between the tick loop and the device callback.
// It is its own type so the flow control can be tested without a real device.
type monitorRing struct {
	mu     sync.Mutex
	buf    []byte
	head   int
	length int
}

func newMonitorRing(size int) *monitorRing {
	if size < 4 {
		size = 4
	}
	return &monitorRing{buf: make([]byte, size)}
}

// writeInterleaved appends one period of 16-bit planes, dropping the oldest
// bytes when the ring is full. A stalled device must not stall the engine.
func (r *monitorRing) writeInterleaved(sources [][]byte, periodFrames int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels := len(sources)
	for frame := 0; frame < periodFrames; frame++ {
		for ch := 0; ch < channels; ch++ {
			if sources[ch] == nil {
				r.push(0, 0)
				continue
			}
			plane := sources[ch]
			r.push(plane[frame*2], plane[frame*2+1])
		}
	}
}

func (r *monitorRing) push(lo, hi byte) {
	for _, b := range [2]byte{lo, hi} {
		if r.length == len(r.buf) {
			r.head = (r.head + 1) % len(r.buf)
			r.length--
		}
		r.buf[(r.head+r.length)%len(r.buf)] = b
		r.length++
	}
}

// Read drains buffered audio and pads the rest of p with silence, so the
// device never starves and never blocks on the engine.
func (r *monitorRing) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for n < len(p) && r.length > 0 {
		p[n] = r.buf[r.head]
		r.head = (r.head + 1) % len(r.buf)
		r.length--
		n++
	}
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}
