package engine

import "github.com/peinadoso/SynchronousAudioRouter/internal/driver"

// notificationHandle caches the signal handle issued for an endpoint plus the
// generation it was issued for. A handle whose generation epoch trails the
// register's is dead, the driver having reassigned the endpoint's client, and
// must not be signaled.
type notificationHandle struct {
	handle     driver.Handle
	generation uint32
}

// updateNotificationHandles advances the refresh state machine one step.
// Called from Tick with c.mu held, so it must never block: the outstanding
// request is polled with a non-blocking receive and left in flight when
// nothing is ready.
//
// States: no request outstanding (c.handleQueue == nil) or one outstanding.
// A completed batch is applied and immediately followed by a new request, so
// the driver always has somewhere to deliver the next reissue. A failed or
// canceled completion (normal when Stop races a tick) also rolls straight
// into a new request; if even starting one fails, the state drops back to
// idle and a later tick retries.
func (c *Client) updateNotificationHandles() {
	handleRefreshes.Inc()

	if c.handleQueue != nil {
		select {
		case result := <-c.handleQueue:
			if result.Err == nil {
				c.applyHandleUpdates(result.Updates)
			}
		default:
			// Still in flight; check again next tick.
			return
		}
	}

	queue, err := c.control.WaitHandleQueue()
	if err != nil {
		c.handleQueue = nil
		return
	}

	// The request may have completed synchronously.
	select {
	case result := <-queue:
		if result.Err == nil {
			c.applyHandleUpdates(result.Updates)
		}
		c.handleQueue = nil
	default:
		c.handleQueue = queue
	}
}

// applyHandleUpdates installs a batch of reissued handles, releasing whatever
// each one replaces.
func (c *Client) applyHandleUpdates(updates []driver.HandleUpdate) {
	for _, update := range updates {
		if int(update.Index) >= len(c.handles) {
			if update.Handle != nil {
				_ = update.Handle.Close()
			}
			continue
		}

		nh := &c.handles[update.Index]
		if nh.handle != nil {
			_ = nh.handle.Close()
		}
		nh.handle = update.Handle
		nh.generation = update.Generation
		handleUpdatesApplied.Inc()
	}
}
