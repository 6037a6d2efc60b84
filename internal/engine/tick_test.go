package engine

import (
	"bytes"
	"sync"
	"testing"

	"github.com/peinadoso/SynchronousAudioRouter/internal/driver"
	"github.com/peinadoso/SynchronousAudioRouter/internal/shm"
)

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func allEqual(b []byte, v byte) bool {
	for _, x := range b {
		if x != v {
			return false
		}
	}
	return true
}

// startMono starts a session with one single-channel endpoint whose period is
// 600 bytes, the geometry of the ring-crossing scenarios.
func startMono(t *testing.T, endpointType driver.EndpointType) (*Client, *driver.Loopback) {
	t.Helper()
	endpoints := []driver.Endpoint{
		{Type: endpointType, ChannelCount: 1, Name: "Mono", ID: "mono-1"},
	}
	client, loopback := newTestClient(t, endpoints, 300, 2) // 600-byte period
	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(client.Stop)
	return client, loopback
}

func TestTick_InactiveEndpointSilences(t *testing.T) {
	client, _ := startMono(t, driver.Playback)

	target := client.buffers.Buffers[0][0][0]
	fill(target, 0xAB)

	client.Tick(0)

	if !allEqual(target, 0) {
		t.Error("Expected silence for inactive endpoint")
	}
}

func TestTick_PlaybackDemuxAdvancesPosition(t *testing.T) {
	client, loopback := startMono(t, driver.Playback)

	if _, err := loopback.Activate(0, 1, 2048, 0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	ring := loopback.Ring(0)
	fill(ring[:600], 0x11)
	fill(ring[600:1200], 0x22)

	target := client.buffers.Buffers[0][0][0]
	client.Tick(0)

	if !allEqual(target, 0x11) {
		t.Error("Expected first period demuxed from ring")
	}
	if got := loopback.Position(0); got != 600 {
		t.Errorf("Expected position 600, got %d", got)
	}

	client.Tick(1)
	if !allEqual(client.buffers.Buffers[1][0][0], 0x22) {
		t.Error("Expected second period demuxed from ring")
	}
	if got := loopback.Position(0); got != 1200 {
		t.Errorf("Expected position 1200, got %d", got)
	}
}

func TestTick_RecordingMuxesIntoRing(t *testing.T) {
	endpoints := []driver.Endpoint{
		{Type: driver.Recording, ChannelCount: 2, Name: "Mic", ID: "mic-1"},
	}
	client, loopback := newTestClient(t, endpoints, 4, 1) // 4-byte period
	if err := client.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer client.Stop()

	if _, err := loopback.Activate(0, 2, 64, 0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	copy(client.buffers.Buffers[0][0][0], []byte{1, 2, 3, 4})
	copy(client.buffers.Buffers[0][0][1], []byte{5, 6, 7, 8})

	client.Tick(0)

	want := []byte{1, 5, 2, 6, 3, 7, 4, 8}
	if !bytes.Equal(loopback.Ring(0)[:8], want) {
		t.Errorf("Expected interleaved run %v, got %v", want, loopback.Ring(0)[:8])
	}
	if got := loopback.Position(0); got != 8 {
		t.Errorf("Expected position 8, got %d", got)
	}
}

func TestTick_EndCrossingSignalsAndWraps(t *testing.T) {
	client, loopback := startMono(t, driver.Playback)

	handle, err := loopback.Activate(0, 1, 1024, 1)
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// First tick installs the notification handle and moves 0 -> 600.
	client.Tick(0)
	if got := loopback.Position(0); got != 600 {
		t.Fatalf("Expected position 600 after first tick, got %d", got)
	}
	drainHandle(handle)

	// 512 + 600 wraps to 88: second half -> first half crosses the end.
	loopback.Registers().Register(0).Position.Store(512)
	client.Tick(1)

	if got := loopback.Position(0); got != 88 {
		t.Errorf("Expected position 88 after wrap, got %d", got)
	}
	select {
	case <-handle.Wait():
	default:
		t.Error("Expected end-of-ring notification signal")
	}
}

func drainHandle(h *driver.EventHandle) {
	select {
	case <-h.Wait():
	default:
	}
}

func TestTick_MidpointSignalNeedsCountTwo(t *testing.T) {
	client, loopback := startMono(t, driver.Playback)

	handle, err := loopback.Activate(0, 1, 2048, 1)
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	client.Tick(0) // installs handle, 0 -> 600
	drainHandle(handle)

	// 600 -> 1200 crosses the midpoint (1024), but notificationCount is 1.
	client.Tick(1)
	if got := loopback.Position(0); got != 1200 {
		t.Errorf("Expected position 1200, got %d", got)
	}
	select {
	case <-handle.Wait():
		t.Error("Expected no midpoint signal with notificationCount 1")
	default:
	}

	// With notificationCount 2 the same movement signals.
	reg := loopback.Registers().Register(0)
	reg.NotificationCount.Store(2)
	reg.Position.Store(600)
	client.Tick(0)
	select {
	case <-handle.Wait():
	default:
		t.Error("Expected midpoint signal with notificationCount 2")
	}
}

func TestTick_StaleHandleGenerationDiscards(t *testing.T) {
	client, loopback := startMono(t, driver.Playback)

	if _, err := loopback.Activate(0, 1, 1024, 1); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	client.Tick(0) // installs the epoch-1 handle

	// The driver reassigns the client but the reissued handle has not been
	// delivered yet: generation moves to epoch 2, the cached handle stays
	// at epoch 1.
	reg := loopback.Registers().Register(0)
	reg.Generation.Store(shm.MakeGeneration(2, true))
	reg.Position.Store(512)
	fill(loopback.Ring(0), 0x33)

	target := client.buffers.Buffers[0][0][0]
	client.Tick(0)

	if got := reg.Position.Load(); got != 512 {
		t.Errorf("Expected position unchanged at 512, got %d", got)
	}
	if !allEqual(target, 0) {
		t.Error("Expected silence when the cached handle generation is stale")
	}
}

func TestTick_RegisterAnomaliesQuarantined(t *testing.T) {
	client, loopback := startMono(t, driver.Playback)

	if _, err := loopback.Activate(0, 1, 1024, 0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	reg := loopback.Registers().Register(0)
	target := client.buffers.Buffers[0][0][0]
	fill(loopback.Ring(0), 0x44)

	cases := []struct {
		name  string
		setup func()
	}{
		{"position past buffer", func() { reg.Position.Store(2000) }},
		{"zero buffer size", func() { reg.BufferSize.Store(0) }},
		{"sub-range past region", func() { reg.BufferSize.Store(1 << 30) }},
	}
	for _, tc := range cases {
		tc.setup()
		fill(target, 0xEE)
		client.Tick(0)
		if !allEqual(target, 0) {
			t.Errorf("%s: expected silence", tc.name)
		}
		// Restore a sane record for the next case.
		reg.BufferSize.Store(1024)
		reg.Position.Store(0)
	}
}

func TestTick_AfterStopIsNoop(t *testing.T) {
	client, _ := startMono(t, driver.Playback)
	client.Stop()
	client.Tick(0)
	client.Tick(1)
}

func TestTick_InvalidBufferIndexIgnored(t *testing.T) {
	client, _ := startMono(t, driver.Playback)
	client.Tick(2)
	client.Tick(-1)
}

func TestTick_GenerationFlipStress(t *testing.T) {
	client, loopback := startMono(t, driver.Playback)

	if _, err := loopback.Activate(0, 1, 2048, 0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	reg := loopback.Registers().Register(0)
	fill(loopback.Ring(0), 0x55)
	target := client.buffers.Buffers[0][0][0]

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		epoch := uint32(1)
		for {
			select {
			case <-stop:
				return
			default:
			}
			epoch++
			reg.Generation.Store(shm.MakeGeneration(epoch, epoch%4 != 0))
		}
	}()

	for i := 0; i < 2000; i++ {
		client.Tick(i % 2)
		if pos := reg.Position.Load(); pos >= 2048 {
			t.Fatalf("Position %d escaped the ring", pos)
		}
		// All-or-nothing: either the full period landed or it was silenced.
		if !allEqual(target, 0x55) && !allEqual(target, 0) {
			t.Fatal("Expected whole-period output, got a mixture")
		}
	}
	close(stop)
	wg.Wait()
}

func TestSignalDue(t *testing.T) {
	cases := []struct {
		name              string
		position, next    uint32
		bufferSize        uint32
		notificationCount uint32
		want              bool
	}{
		{"no notifications", 900, 100, 1024, 0, false},
		{"end crossing", 512, 88, 1024, 1, true},
		{"end crossing exact half start", 512, 511, 1024, 1, true},
		{"no crossing within second half", 600, 700, 1024, 1, false},
		{"no crossing within first half", 100, 200, 1024, 1, false},
		{"midpoint needs count two", 256, 768, 1024, 1, false},
		{"midpoint crossing", 256, 768, 1024, 2, true},
		{"end crossing with count two", 768, 344, 1024, 2, true},
	}
	for _, tc := range cases {
		if got := signalDue(tc.position, tc.next, tc.bufferSize, tc.notificationCount); got != tc.want {
			t.Errorf("%s: signalDue(%d, %d, %d, %d) = %v, want %v",
				tc.name, tc.position, tc.next, tc.bufferSize, tc.notificationCount, got, tc.want)
		}
	}
}
