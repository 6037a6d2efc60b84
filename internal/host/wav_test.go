package host

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// writeTestWav produces a stereo 16-bit file whose left channel counts up
// from 1 and right channel counts down from -1, frameCount frames long.
func writeTestWav(t *testing.T, frameCount int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()

	sink := NewWAVSink(f, 48000, 2)
	left := make([]byte, frameCount*2)
	right := make([]byte, frameCount*2)
	for i := 0; i < frameCount; i++ {
		binary.LittleEndian.PutUint16(left[i*2:], uint16(int16(i+1)))
		binary.LittleEndian.PutUint16(right[i*2:], uint16(int16(-(i+1))))
	}
	if err := sink.Consume([][]byte{left, right}, frameCount, 2); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func sampleAt(plane []byte, frame int) int16 {
	return int16(binary.LittleEndian.Uint16(plane[frame*2:]))
}

func TestWAVRoundTrip(t *testing.T) {
	path := writeTestWav(t, 32)
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	source, err := NewWAVSource(f, false)
	if err != nil {
		t.Fatalf("NewWAVSource failed: %v", err)
	}
	if source.Channels() != 2 || source.SampleRate() != 48000 {
		t.Fatalf("Expected stereo 48kHz, got %d ch %d Hz", source.Channels(), source.SampleRate())
	}

	left := make([]byte, 32*2)
	right := make([]byte, 32*2)
	if err := source.Fill([][]byte{left, right}, 32, 2); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}

	for i := 0; i < 32; i++ {
		if got := sampleAt(left, i); got != int16(i+1) {
			t.Fatalf("Expected left sample %d at frame %d, got %d", i+1, i, got)
		}
		if got := sampleAt(right, i); got != int16(-(i+1)) {
			t.Fatalf("Expected right sample %d at frame %d, got %d", -(i + 1), i, got)
		}
	}
}

func TestWAVSource_EOFSilencesTail(t *testing.T) {
	path := writeTestWav(t, 8)
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	source, err := NewWAVSource(f, false)
	if err != nil {
		t.Fatalf("NewWAVSource failed: %v", err)
	}

	left := make([]byte, 16*2)
	right := make([]byte, 16*2)
	if err := source.Fill([][]byte{left, right}, 16, 2); !errors.Is(err, io.EOF) {
		t.Fatalf("Expected io.EOF on short file, got %v", err)
	}

	if got := sampleAt(left, 7); got != 8 {
		t.Errorf("Expected last real sample 8, got %d", got)
	}
	for i := 8; i < 16; i++ {
		if got := sampleAt(left, i); got != 0 {
			t.Errorf("Expected silence at frame %d, got %d", i, got)
		}
	}
}

func TestWAVSource_Loops(t *testing.T) {
	path := writeTestWav(t, 8)
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	source, err := NewWAVSource(f, true)
	if err != nil {
		t.Fatalf("NewWAVSource failed: %v", err)
	}

	left := make([]byte, 20*2)
	if err := source.Fill([][]byte{left, nil}, 20, 2); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}

	// Frames 8.. restart the file: 1, 2, ...
	if got := sampleAt(left, 8); got != 1 {
		t.Errorf("Expected loop restart at frame 8, got %d", got)
	}
	if got := sampleAt(left, 16); got != 1 {
		t.Errorf("Expected second loop restart at frame 16, got %d", got)
	}
}

func TestWAVSource_ExtraTargetsSilenced(t *testing.T) {
	path := writeTestWav(t, 4)
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	source, err := NewWAVSource(f, true)
	if err != nil {
		t.Fatalf("NewWAVSource failed: %v", err)
	}

	extra := make([]byte, 4*2)
	for i := range extra {
		extra[i] = 0xFF
	}
	if err := source.Fill([][]byte{nil, nil, extra}, 4, 2); err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	for i, b := range extra {
		if b != 0 {
			t.Fatalf("Expected silence on the extra target at byte %d, got %#x", i, b)
		}
	}
}

func TestNewWAVSource_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.bin")
	if err := os.WriteFile(path, []byte("definitely not riff data, just noise"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	if _, err := NewWAVSource(f, false); !errors.Is(err, ErrNotWavFile) {
		t.Errorf("Expected ErrNotWavFile, got %v", err)
	}
}

func TestWAVSink_NilPlaneIsSilence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()

	sink := NewWAVSink(f, 48000, 2)
	left := make([]byte, 4*2)
	binary.LittleEndian.PutUint16(left[0:], uint16(int16(100)))
	if err := sink.Consume([][]byte{left, nil}, 4, 2); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()
	source, err := NewWAVSource(r, false)
	if err != nil {
		t.Fatalf("NewWAVSource failed: %v", err)
	}
	back := [][]byte{make([]byte, 4*2), make([]byte, 4*2)}
	if err := source.Fill(back, 4, 2); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("Fill failed: %v", err)
	}
	if got := sampleAt(back[0], 0); got != 100 {
		t.Errorf("Expected left sample 100, got %d", got)
	}
	for i := 0; i < 4; i++ {
		if got := sampleAt(back[1], i); got != 0 {
			t.Errorf("Expected silent right channel at frame %d, got %d", i, got)
		}
	}
}
