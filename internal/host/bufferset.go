// Package host owns the engine-side sample buffers and the things that feed
// or drain them: double-buffered per-channel byte planes, a WAV file source
// for recording endpoints, a WAV file sink for captured playback audio, and a
// live monitor output.
package host

import (
	"github.com/peinadoso/SynchronousAudioRouter/internal/driver"
	"github.com/peinadoso/SynchronousAudioRouter/internal/engine"
)

// BufferSet is the double-buffered host sample memory for one session. Slot 0
// and slot 1 alternate between the tick engine and whatever fills or drains
// them, so neither side touches a plane the other is working on.
type BufferSet struct {
	PeriodFrames int
	SampleSize   int
	SampleRate   int

	// Slots[slot][endpoint][channel] is one period of samples.
	Slots [2][][][]byte
}

// NewBufferSet allocates planes for every channel of every endpoint.
func NewBufferSet(endpoints []driver.Endpoint, periodFrames, sampleSize, sampleRate int) *BufferSet {
	set := &BufferSet{
		PeriodFrames: periodFrames,
		SampleSize:   sampleSize,
		SampleRate:   sampleRate,
	}
	for slot := 0; slot < 2; slot++ {
		perEndpoint := make([][][]byte, len(endpoints))
		for i, endpoint := range endpoints {
			channels := make([][]byte, endpoint.ChannelCount)
			for ch := range channels {
				channels[ch] = make([]byte, periodFrames*sampleSize)
			}
			perEndpoint[i] = channels
		}
		set.Slots[slot] = perEndpoint
	}
	return set
}

// Config hands the planes to the engine.
func (b *BufferSet) Config() engine.BufferConfig {
	return engine.BufferConfig{
		PeriodFrames: b.PeriodFrames,
		SampleSize:   b.SampleSize,
		SampleRate:   b.SampleRate,
		Buffers:      b.Slots,
	}
}

// Unroute detaches one channel in both slots. The engine treats a nil plane
// as not routed: demux skips it, mux feeds zeros in its place.
func (b *BufferSet) Unroute(endpoint, channel int) {
	for slot := 0; slot < 2; slot++ {
		if endpoint >= len(b.Slots[slot]) {
			continue
		}
		channels := b.Slots[slot][endpoint]
		if channel < len(channels) {
			channels[channel] = nil
		}
	}
}

// Silence zeroes every routed plane in one slot.
func (b *BufferSet) Silence(slot int) {
	if slot < 0 || slot >= 2 {
		return
	}
	for _, channels := range b.Slots[slot] {
		for _, plane := range channels {
			for i := range plane {
				plane[i] = 0
			}
		}
	}
}
