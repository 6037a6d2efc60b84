// Package codec converts between the interleaved multi-channel runs stored in
// an endpoint's ring sub-range and the per-channel host buffers.
//
// A ring run arrives split in two segments because it may wrap the end of the
// circular sub-range. Samples are opaque: sampleSize bytes are copied verbatim
// with no numeric interpretation, so the codec works for any PCM width.
//
// A nil entry in targets means the channel is not routed by the host; it is
// skipped entirely, never written.
package codec

// Demux reads an interleaved run from the ring segments and writes one
// contiguous buffer per target channel.
//
// Source channels beyond len(targets) are dropped. Target channels beyond
// sourceChannels are filled with silence. When both segments run out before
// targetLen bytes have been produced, the remaining target bytes are left
// untouched; the caller pre-silences buffers when that matters.
func Demux(first, second []byte, targets [][]byte, sourceChannels, targetLen, sampleSize int) {
	n := sourceChannels
	if n > len(targets) {
		n = len(targets)
	}

	var i int
	if sampleSize > 0 {
		stride := sampleSize * sourceChannels
		for i = 0; i < n; i++ {
			target := targets[i]
			if target == nil {
				continue
			}

			buf := sliceFrom(first, sampleSize*i)
			remaining := len(first)

			for j := 0; j+sampleSize <= targetLen && remaining >= stride; j += sampleSize {
				copy(target[j:j+sampleSize], buf[:sampleSize])
				buf, remaining = advance(buf, remaining, stride, second, sampleSize*i)
			}
		}
	}

	// Target channels with no source channel get silence.
	for ; i < len(targets); i++ {
		if targets[i] != nil {
			clearPrefix(targets[i], targetLen)
		}
	}
}

// Mux is the inverse of Demux: it reads per-channel target buffers and writes
// an interleaved run into the ring segments. Target channels beyond
// sourceChannels are simply not read.
func Mux(first, second []byte, targets [][]byte, sourceChannels, targetLen, sampleSize int) {
	if sampleSize <= 0 {
		return
	}
	stride := sampleSize * sourceChannels

	n := sourceChannels
	if n > len(targets) {
		n = len(targets)
	}

	for i := 0; i < n; i++ {
		target := targets[i]
		if target == nil {
			continue
		}

		buf := sliceFrom(first, sampleSize*i)
		remaining := len(first)

		for j := 0; j+sampleSize <= targetLen && remaining >= stride; j += sampleSize {
			copy(buf[:sampleSize], target[j:j+sampleSize])
			buf, remaining = advance(buf, remaining, stride, second, sampleSize*i)
		}
	}
}

// advance moves the interleaved cursor one frame forward, hopping to the
// second segment when the first is exactly consumed. A segment tail shorter
// than one frame is dropped, which the caller's loop condition detects via
// remaining < stride.
func advance(buf []byte, remaining, stride int, second []byte, channelOffset int) ([]byte, int) {
	remaining -= stride
	switch {
	case remaining == 0:
		return sliceFrom(second, channelOffset), len(second)
	case remaining >= stride:
		return buf[stride:], remaining
	default:
		return nil, remaining
	}
}

// sliceFrom offsets into b, tolerating an offset past the end. That happens
// only when the segment holds less than one full frame, and the copy loops
// never read from such a segment.
func sliceFrom(b []byte, off int) []byte {
	if off >= len(b) {
		return nil
	}
	return b[off:]
}

func clearPrefix(b []byte, n int) {
	if n > len(b) {
		n = len(b)
	}
	clear(b[:n])
}
