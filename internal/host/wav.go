package host

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrNotWavFile            = errors.New("host: not a RIFF/WAVE file")
	ErrOnlyPCM16bitSupported = errors.New("host: only 16-bit PCM wav is supported")
)

// WAVSource feeds a recording endpoint's planes from a 16-bit PCM wav file,
// looping back to the start when the file runs out.
type WAVSource struct {
	r        io.ReadSeeker
	dec      *wav.Decoder
	channels int
	rate     int
	buf      *audio.IntBuffer
	loop     bool
}

// NewWAVSource validates the stream and prepares it for per-period reads.
func NewWAVSource(r io.ReadSeeker, loop bool) (*WAVSource, error) {
	dec, err := openDecoder(r)
	if err != nil {
		return nil, err
	}
	return &WAVSource{
		r:        r,
		dec:      dec,
		channels: int(dec.NumChans),
		rate:     int(dec.SampleRate),
		loop:     loop,
	}, nil
}

func openDecoder(r io.ReadSeeker) (*wav.Decoder, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrNotWavFile
	}
	if dec.WavAudioFormat != 1 || dec.BitDepth != 16 {
		return nil, ErrOnlyPCM16bitSupported
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("seeking pcm data: %w", err)
	}
	return dec, nil
}

func (s *WAVSource) Channels() int   { return s.channels }
func (s *WAVSource) SampleRate() int { return s.rate }

// Fill writes one period of samples into the endpoint's channel planes.
// targets beyond the file's channel count are silenced, file channels beyond
// len(targets) are dropped, and a nil plane is skipped. When the file is
// exhausted and looping is off, the remainder of the period is silence and
// io.EOF is returned.
func (s *WAVSource) Fill(targets [][]byte, periodFrames, sampleSize int) error {
	if sampleSize != 2 {
		return ErrOnlyPCM16bitSupported
	}

	want := periodFrames * s.channels
	if s.buf == nil || cap(s.buf.Data) < want {
		s.buf = &audio.IntBuffer{
			Data:   make([]int, want),
			Format: &audio.Format{NumChannels: s.channels, SampleRate: s.rate},
		}
	}
	s.buf.Data = s.buf.Data[:want]

	read := 0
	stalled := 0
	for read < want {
		n, err := s.dec.PCMBuffer(&audio.IntBuffer{
			Data:   s.buf.Data[read:want],
			Format: s.buf.Format,
		})
		read += n
		if err != nil {
			return fmt.Errorf("reading pcm data: %w", err)
		}
		if read >= want {
			break
		}
		if n == 0 {
			// A file with no PCM data would loop forever.
			if stalled++; stalled > 1 {
				s.scatter(targets, read, periodFrames)
				return io.EOF
			}
		} else {
			stalled = 0
		}
		if !s.loop {
			s.scatter(targets, read, periodFrames)
			return io.EOF
		}
		// Loop by reopening the stream from the top.
		if _, err := s.r.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewinding wav: %w", err)
		}
		dec, err := openDecoder(s.r)
		if err != nil {
			return fmt.Errorf("reopening wav: %w", err)
		}
		s.dec = dec
	}

	s.scatter(targets, want, periodFrames)
	return nil
}

// scatter de-interleaves the first n decoded samples into the planes and
// silences everything past them.
func (s *WAVSource) scatter(targets [][]byte, n, periodFrames int) {
	for ch, plane := range targets {
		if plane == nil {
			continue
		}
		for frame := 0; frame < periodFrames; frame++ {
			var v int16
			if ch < s.channels {
				idx := frame*s.channels + ch
				if idx < n {
					v = int16(s.buf.Data[idx])
				}
			}
			binary.LittleEndian.PutUint16(plane[frame*2:], uint16(v))
		}
	}
}

// WAVSink captures a playback endpoint's demuxed output to a 16-bit PCM wav
// file, one period per Consume call.
type WAVSink struct {
	enc      *wav.Encoder
	channels int
	buf      *audio.IntBuffer
}

// NewWAVSink starts a wav stream on ws. Close must be called to finalize the
// RIFF header.
func NewWAVSink(ws io.WriteSeeker, sampleRate, channels int) *WAVSink {
	return &WAVSink{
		enc:      wav.NewEncoder(ws, sampleRate, 16, channels, 1),
		channels: channels,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: 16,
		},
	}
}

// Consume interleaves one period of channel planes into the file. A nil or
// missing plane contributes silence for its channel.
func (s *WAVSink) Consume(sources [][]byte, periodFrames, sampleSize int) error {
	if sampleSize != 2 {
		return ErrOnlyPCM16bitSupported
	}

	want := periodFrames * s.channels
	if cap(s.buf.Data) < want {
		s.buf.Data = make([]int, want)
	}
	s.buf.Data = s.buf.Data[:want]

	for frame := 0; frame < periodFrames; frame++ {
		for ch := 0; ch < s.channels; ch++ {
			var v int16
			if ch < len(sources) && sources[ch] != nil {
				v = int16(binary.LittleEndian.Uint16(sources[ch][frame*2:]))
			}
			s.buf.Data[frame*s.channels+ch] = int(v)
		}
	}
	if err := s.enc.Write(s.buf); err != nil {
		return fmt.Errorf("writing pcm data: %w", err)
	}
	return nil
}

// Close finalizes the RIFF header.
func (s *WAVSink) Close() error {
	return s.enc.Close()
}
