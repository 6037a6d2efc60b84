package codec

import (
	"bytes"
	"testing"
)

// interleave builds an interleaved run from per-channel planes.
func interleave(planes [][]byte, sampleSize int) []byte {
	if len(planes) == 0 {
		return nil
	}
	frames := len(planes[0]) / sampleSize
	out := make([]byte, 0, frames*len(planes)*sampleSize)
	for f := 0; f < frames; f++ {
		for _, p := range planes {
			out = append(out, p[f*sampleSize:(f+1)*sampleSize]...)
		}
	}
	return out
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func TestDemux_MatchingChannels(t *testing.T) {
	const sampleSize = 2
	const targetLen = 8
	src := [][]byte{pattern(targetLen, 1), pattern(targetLen, 100)}
	ring := interleave(src, sampleSize)

	targets := [][]byte{make([]byte, targetLen), make([]byte, targetLen)}
	Demux(ring, nil, targets, 2, targetLen, sampleSize)

	for i := range src {
		if !bytes.Equal(targets[i], src[i]) {
			t.Errorf("Expected channel %d %v, got %v", i, src[i], targets[i])
		}
	}
}

func TestMuxDemux_RoundTrip(t *testing.T) {
	const sampleSize = 3
	const targetLen = 12
	const channels = 4

	src := make([][]byte, channels)
	for i := range src {
		src[i] = pattern(targetLen, byte(10*i+1))
	}

	// Split the ring run across a wrap boundary after one frame. The register
	// protocol only ever produces whole-frame segments.
	run := make([]byte, channels*targetLen)
	first := run[:sampleSize*channels]
	second := run[sampleSize*channels:]

	Mux(first, second, src, channels, targetLen, sampleSize)

	out := make([][]byte, channels)
	for i := range out {
		out[i] = make([]byte, targetLen)
	}
	Demux(first, second, out, channels, targetLen, sampleSize)

	for i := range src {
		if !bytes.Equal(out[i], src[i]) {
			t.Errorf("Round trip mismatch on channel %d: expected %v, got %v", i, src[i], out[i])
		}
	}
}

func TestDemux_ExtraSourceChannelsDropped(t *testing.T) {
	const sampleSize = 1
	const targetLen = 4
	src := [][]byte{pattern(targetLen, 1), pattern(targetLen, 50), pattern(targetLen, 200)}
	ring := interleave(src, sampleSize)

	targets := [][]byte{make([]byte, targetLen), make([]byte, targetLen)}
	Demux(ring, nil, targets, 3, targetLen, sampleSize)

	if !bytes.Equal(targets[0], src[0]) || !bytes.Equal(targets[1], src[1]) {
		t.Error("Expected first two channels demuxed intact")
	}
}

func TestDemux_ExtraTargetsSilenced(t *testing.T) {
	const sampleSize = 2
	const targetLen = 6
	src := [][]byte{pattern(targetLen, 9)}
	ring := interleave(src, sampleSize)

	stale := pattern(targetLen, 77)
	targets := [][]byte{make([]byte, targetLen), append([]byte(nil), stale...)}
	Demux(ring, nil, targets, 1, targetLen, sampleSize)

	if !bytes.Equal(targets[0], src[0]) {
		t.Errorf("Expected channel 0 %v, got %v", src[0], targets[0])
	}
	if !bytes.Equal(targets[1], make([]byte, targetLen)) {
		t.Errorf("Expected channel 1 silenced, got %v", targets[1])
	}
}

func TestDemux_NilTargetSkipped(t *testing.T) {
	const sampleSize = 2
	const targetLen = 8
	src := [][]byte{pattern(targetLen, 1), pattern(targetLen, 100)}
	ring := interleave(src, sampleSize)

	targets := [][]byte{nil, make([]byte, targetLen)}
	Demux(ring, nil, targets, 2, targetLen, sampleSize)

	if !bytes.Equal(targets[1], src[1]) {
		t.Errorf("Expected channel 1 %v, got %v", src[1], targets[1])
	}

	// And a nil beyond sourceChannels must not be zero-filled either.
	targets = [][]byte{make([]byte, targetLen), nil}
	Demux(ring[:targetLen], nil, targets, 1, targetLen, sampleSize)
}

func TestMux_ExtraTargetsIgnored(t *testing.T) {
	const sampleSize = 1
	const targetLen = 4
	src := [][]byte{pattern(targetLen, 1), pattern(targetLen, 50), pattern(targetLen, 200)}

	ring := make([]byte, 2*targetLen)
	Mux(ring, nil, src, 2, targetLen, sampleSize)

	want := interleave(src[:2], sampleSize)
	if !bytes.Equal(ring, want) {
		t.Errorf("Expected ring %v, got %v", want, ring)
	}
}

func TestDemux_ShortRunLeavesTailUnwritten(t *testing.T) {
	const sampleSize = 2
	const targetLen = 8
	src := [][]byte{pattern(targetLen, 1)}
	ring := interleave(src, sampleSize)

	// Only two frames available, second segment empty.
	marker := pattern(targetLen, 0xAA)
	target := append([]byte(nil), marker...)
	Demux(ring[:2*sampleSize], nil, [][]byte{target}, 1, targetLen, sampleSize)

	if !bytes.Equal(target[:2*sampleSize], src[0][:2*sampleSize]) {
		t.Error("Expected leading frames copied")
	}
	if !bytes.Equal(target[2*sampleSize:], marker[2*sampleSize:]) {
		t.Error("Expected tail left untouched when the run is exhausted")
	}
}

func TestDemux_WrapMidFrameTailDropped(t *testing.T) {
	const sampleSize = 2
	const targetLen = 8
	const channels = 2
	src := [][]byte{pattern(targetLen, 1), pattern(targetLen, 100)}
	ring := interleave(src, sampleSize)

	// First segment ends with a partial frame; that tail is unusable and the
	// copy stops there, matching the register protocol's whole-frame runs.
	first := ring[:sampleSize*channels+1]
	targets := [][]byte{make([]byte, targetLen), make([]byte, targetLen)}
	Demux(first, nil, targets, channels, targetLen, sampleSize)

	for i := range targets {
		if !bytes.Equal(targets[i][:sampleSize], src[i][:sampleSize]) {
			t.Errorf("Expected one whole frame on channel %d", i)
		}
		if !bytes.Equal(targets[i][sampleSize:], make([]byte, targetLen-sampleSize)) {
			t.Errorf("Expected nothing past the whole frame on channel %d", i)
		}
	}
}

func TestDemux_ZeroChannelsSilencesAll(t *testing.T) {
	const targetLen = 4
	targets := [][]byte{pattern(targetLen, 3), pattern(targetLen, 9)}
	Demux(nil, nil, targets, 0, targetLen, 1)

	for i := range targets {
		if !bytes.Equal(targets[i], make([]byte, targetLen)) {
			t.Errorf("Expected channel %d silenced, got %v", i, targets[i])
		}
	}
}
