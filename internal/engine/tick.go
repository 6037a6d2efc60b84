package engine

import (
	"github.com/peinadoso/SynchronousAudioRouter/internal/codec"
	"github.com/peinadoso/SynchronousAudioRouter/internal/driver"
	"github.com/peinadoso/SynchronousAudioRouter/internal/shm"
)

// Tick runs one audio cycle against host buffer slot bufferIndex (0 or 1).
// It is invoked from the host's realtime callback, possibly on a different
// thread than the one that calls Stop, and never blocks beyond the short
// region-pointer mutex.
//
// Per endpoint: snapshot the registers, refresh stale notification handles
// (at most once per tick across all endpoints), silence anything that is
// inactive or inconsistently registered, copy the period's run through the
// codec, then re-read the generation. A mismatch means the copy straddled a
// driver reconfiguration, so the result is discarded and the position stays
// put. Otherwise the position advances, raising the endpoint's notification
// handle when the move crosses a signal point.
func (c *Client) Tick(bufferIndex int) {
	if bufferIndex != 0 && bufferIndex != 1 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.region == nil {
		return
	}
	ticksTotal.Inc()

	if c.formatChangePending.Swap(false) {
		_ = c.control.SendFormatChangeEvent()
	}

	periodBytes := uint32(c.buffers.PeriodFrames * c.buffers.SampleSize)
	slot := c.buffers.Buffers[bufferIndex]
	refreshedHandles := false

	for i := range c.config.Endpoints {
		endpoint := &c.config.Endpoints[i]
		var targets [][]byte
		if i < len(slot) {
			targets = slot[i]
		}

		reg := c.region.Register(i)
		generation := reg.Generation.Load()
		activeChannels := reg.ActiveChannelCount.Load()
		bufferOffset := reg.BufferOffset.Load()
		bufferSize := reg.BufferSize.Load()
		position := reg.Position.Load()
		notificationCount := reg.NotificationCount.Load()
		frameChunkSize := periodBytes * activeChannels

		if !refreshedHandles && notificationCount > 0 &&
			shm.GenerationNumber(generation) != shm.GenerationNumber(c.handles[i].generation) {
			c.updateNotificationHandles()
			refreshedHandles = true
		}

		// No active client: silence, and don't trust the rest of the record.
		if !shm.GenerationIsActive(generation) {
			silence(targets, periodBytes)
			silentCycles.WithLabelValues("inactive").Inc()
			continue
		}

		// A register mid-rewrite can hold any mixture of old and new values.
		// Out-of-range means "not ready this cycle", never "read it anyway".
		if bufferSize == 0 || position > bufferSize ||
			uint64(bufferOffset)+uint64(bufferSize) > uint64(c.region.Size()) {
			silence(targets, periodBytes)
			silentCycles.WithLabelValues("anomaly").Inc()
			continue
		}

		next := (position + frameChunkSize) % bufferSize
		firstLen := frameChunkSize
		if avail := bufferSize - position; firstLen > avail {
			firstLen = avail
		}
		first, ok1 := c.region.Slice(bufferOffset+position, firstLen)
		second, ok2 := c.region.Slice(bufferOffset, frameChunkSize-firstLen)
		if !ok1 || !ok2 {
			silence(targets, periodBytes)
			silentCycles.WithLabelValues("anomaly").Inc()
			continue
		}

		if endpoint.Type == driver.Playback {
			codec.Demux(first, second, targets, int(activeChannels), int(periodBytes), c.buffers.SampleSize)
		} else {
			codec.Mux(first, second, targets, int(activeChannels), int(periodBytes), c.buffers.SampleSize)
		}

		lateGeneration := reg.Generation.Load()
		if !shm.GenerationIsActive(lateGeneration) ||
			shm.GenerationNumber(generation) != shm.GenerationNumber(lateGeneration) {
			// The client changed under the copy; the data may be torn.
			// Discard it and let the next cycle start clean.
			silence(targets, periodBytes)
			tornReads.Inc()
			continue
		}

		if !signalDue(position, next, bufferSize, notificationCount) {
			reg.Position.Store(next)
			continue
		}

		nh := &c.handles[i]
		if nh.handle == nil ||
			shm.GenerationNumber(nh.generation) != shm.GenerationNumber(generation) {
			// The cached handle was issued for an older client, so there is
			// nobody valid to signal. Same treatment as a torn read.
			silence(targets, periodBytes)
			tornReads.Inc()
			continue
		}

		reg.Position.Store(next)
		if err := nh.handle.Signal(); err != nil {
			c.logger.Error("Couldn't signal notification handle",
				"endpoint", endpoint.Name, "error", err)
			signalFailures.Inc()
		} else {
			notificationsSignaled.Inc()
		}
	}
}

// signalDue reports whether the cycle's position movement crosses a
// notification point. End-of-ring crossing: previous position in the second
// half, next in the first (notificationCount >= 1). Midpoint crossing:
// previous in the first half, next in the second (notificationCount >= 2).
// A chunk larger than half the ring can pass a point without tripping either
// comparison; the driver's clients expect exactly this detection, so it is
// not widened here.
func signalDue(position, next, bufferSize, notificationCount uint32) bool {
	half := bufferSize / 2
	if notificationCount >= 1 && position >= half && next < half {
		return true
	}
	if notificationCount >= 2 && position < half && next >= half {
		return true
	}
	return false
}

// silence zeroes one period in every routed target buffer.
func silence(targets [][]byte, periodBytes uint32) {
	for _, target := range targets {
		if target == nil {
			continue
		}
		n := int(periodBytes)
		if n > len(target) {
			n = len(target)
		}
		clear(target[:n])
	}
}
