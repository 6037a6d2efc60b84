// Package engine is the user-mode half of the audio router: it owns the
// session against the driver control channel and exchanges samples between
// the shared ring buffers and the host's per-cycle buffer sets.
//
// The hot path is Tick, which runs on the host's realtime audio callback
// thread once per period and must never block. Everything it shares with the
// driver goes through the register protocol in internal/shm; everything it
// shares with Stop goes through one short-held mutex guarding the region
// pointer.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/peinadoso/SynchronousAudioRouter/internal/driver"
	"github.com/peinadoso/SynchronousAudioRouter/internal/shm"
)

// DefaultSharedBufferSize is requested from the driver when the config does
// not size the shared region explicitly.
const DefaultSharedBufferSize = 16 * 1024 * 1024

// OpenFunc opens the driver control channel. Called once per Start.
type OpenFunc func() (driver.ControlChannel, error)

// Config is the session-scoped driver configuration. Immutable after Start.
type Config struct {
	Endpoints []driver.Endpoint

	// EnableApplicationRouting asks the driver to route matching application
	// audio through the virtual endpoints. Failure to enable it is logged
	// but does not fail the session.
	EnableApplicationRouting bool

	// WaveRTMinimumFrames is forwarded in the layout negotiation when >= 2.
	WaveRTMinimumFrames uint32

	// SharedBufferBytes overrides DefaultSharedBufferSize when non-zero.
	SharedBufferBytes uint32
}

// BufferConfig describes the host side of a session: the per-cycle buffer
// sets the host exchanges with the engine.
type BufferConfig struct {
	PeriodFrames int
	SampleSize   int
	SampleRate   int

	// Buffers holds the double-buffered per-channel host buffers, indexed
	// [slot][endpoint][channel]. A nil channel buffer means the channel is
	// not routed; it is skipped, never written.
	Buffers [2][][][]byte
}

// Client drives one session: Start/Stop on a control thread, Tick on the
// host's audio callback thread.
type Client struct {
	config  Config
	buffers BufferConfig
	open    OpenFunc
	logger  *slog.Logger

	// mu guards the region pointer against concurrent Tick and Stop. It
	// protects pointer validity only; register contents are covered by the
	// generation protocol, not by this lock.
	mu          sync.Mutex
	control     driver.ControlChannel
	region      *shm.Region
	handles     []notificationHandle
	handleQueue <-chan driver.HandleQueueResult

	formatChangePending atomic.Bool
}

// New creates a client for the given session configuration.
func New(config Config, buffers BufferConfig, open OpenFunc, logger *slog.Logger) *Client {
	if open == nil {
		panic("engine: OpenFunc is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:  config,
		buffers: buffers,
		open:    open,
		logger:  logger,
	}
}

// Start opens the control channel, negotiates the shared buffer layout and
// creates the session's endpoints. Any failure unwinds via Stop and leaves
// the client stopped; Start may be retried.
func (c *Client) Start() error {
	control, err := c.open()
	if err != nil {
		c.logger.Error("Couldn't open control device", "error", err)
		return fmt.Errorf("open control device: %w", err)
	}

	c.mu.Lock()
	c.control = control
	c.handles = make([]notificationHandle, len(c.config.Endpoints))
	c.mu.Unlock()

	if err := c.setBufferLayout(control); err != nil {
		c.logger.Error("Couldn't set buffer layout", "error", err)
		c.Stop()
		return err
	}

	if err := c.createEndpoints(control); err != nil {
		c.logger.Error("Couldn't create endpoints", "error", err)
		c.Stop()
		return err
	}

	if c.config.EnableApplicationRouting {
		if err := control.EnableRegistryFilter(); err != nil {
			c.logger.Error("Couldn't enable registry filter", "error", err)
		}
	}

	c.logger.Info("Session started",
		"endpoints", len(c.config.Endpoints),
		"period_frames", c.buffers.PeriodFrames,
		"sample_rate", c.buffers.SampleRate)
	return nil
}

func (c *Client) setBufferLayout(control driver.ControlChannel) error {
	size := c.config.SharedBufferBytes
	if size == 0 {
		size = DefaultSharedBufferSize
	}

	req := driver.BufferLayoutRequest{
		BufferSize:      size,
		PeriodSizeBytes: uint32(c.buffers.PeriodFrames * c.buffers.SampleSize),
		SampleRate:      uint32(c.buffers.SampleRate),
		SampleSize:      uint32(c.buffers.SampleSize),
	}
	if c.config.WaveRTMinimumFrames >= 2 {
		req.MinimumFrameCount = c.config.WaveRTMinimumFrames
	}

	resp, err := control.SetBufferLayout(req)
	if err != nil {
		return fmt.Errorf("set buffer layout: %w", err)
	}

	region, err := shm.NewRegion(resp.Region, resp.RegisterBase, len(c.config.Endpoints))
	if err != nil {
		return fmt.Errorf("map shared region: %w", err)
	}

	c.mu.Lock()
	c.region = region
	c.mu.Unlock()
	return nil
}

func (c *Client) createEndpoints(control driver.ControlChannel) error {
	for i, endpoint := range c.config.Endpoints {
		req := driver.CreateEndpointRequest{
			Type:         endpoint.Type,
			ChannelCount: uint32(endpoint.ChannelCount),
			Index:        uint32(i),
			Name:         endpoint.Name,
			ID:           endpoint.ID,
		}
		if err := control.CreateEndpoint(req); err != nil {
			return fmt.Errorf("create endpoint %q: %w", endpoint.Name, err)
		}
	}
	return nil
}

// Stop tears the session down: cancels the outstanding handle queue wait,
// closes the control channel and all notification handles, and invalidates
// the region pointer. Always safe to call; a concurrent Tick either finishes
// its current cycle first or sees the nil region and returns.
func (c *Client) Stop() {
	c.mu.Lock()
	control := c.control
	handles := c.handles
	c.control = nil
	c.region = nil
	c.handles = nil
	c.handleQueue = nil
	c.mu.Unlock()

	if control == nil {
		return
	}

	control.Cancel()
	if err := control.Close(); err != nil {
		c.logger.Warn("Error closing control channel", "error", err)
	}
	for i := range handles {
		if handles[i].handle != nil {
			_ = handles[i].handle.Close()
		}
	}
	c.logger.Info("Session stopped")
}

// RequestFormatChange arms a one-shot flag; the next Tick asks the driver to
// broadcast a pin-capability re-query. Called when a device-change watcher
// sees one of the session's endpoints reactivate, since its supported format
// may have changed.
func (c *Client) RequestFormatChange() {
	c.formatChangePending.Store(true)
}
