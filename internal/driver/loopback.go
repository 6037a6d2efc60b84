package driver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/peinadoso/SynchronousAudioRouter/internal/shm"
)

// MaxEndpoints is the size of the register array the loopback driver places
// in its region, mirroring the fixed array the kernel driver maps.
const MaxEndpoints = 32

var _ ControlChannel = (*Loopback)(nil)

var (
	// ErrLayoutAlreadySet is returned when SetBufferLayout is issued twice
	// on one loopback session.
	ErrLayoutAlreadySet = errors.New("buffer layout already negotiated")

	// ErrWaitPending is returned when a second handle queue wait is issued
	// while one is still outstanding.
	ErrWaitPending = errors.New("handle queue wait already outstanding")
)

// Loopback is an in-process ControlChannel backed by a heap-allocated region.
// It plays the kernel driver's role (allocating the shared buffer, assigning
// ring sub-ranges, bumping generations and issuing notification handles) so
// complete sessions run without the real driver. The test suite and the demo
// run mode both sit on it.
type Loopback struct {
	mu            sync.Mutex
	region        []byte
	registerBase  uint32
	regs          *shm.Region
	endpoints     []CreateEndpointRequest
	epochs        [MaxEndpoints]uint32
	nextOffset    uint32
	pending       []HandleUpdate
	waiter        chan HandleQueueResult
	closed        bool
	filterEnabled bool
	formatChanges int
}

// NewLoopback creates an idle loopback driver. The region is allocated by
// SetBufferLayout.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// SetBufferLayout allocates the shared region: the requested data area
// followed by the register array.
func (d *Loopback) SetBufferLayout(req BufferLayoutRequest) (BufferLayoutResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return BufferLayoutResponse{}, ErrClosed
	}
	if d.region != nil {
		return BufferLayoutResponse{}, ErrLayoutAlreadySet
	}
	if req.BufferSize == 0 {
		return BufferLayoutResponse{}, errors.New("zero buffer size")
	}

	dataSize := (req.BufferSize + 7) &^ 7
	total := dataSize + MaxEndpoints*shm.RegisterSize
	d.region = make([]byte, total)
	d.registerBase = dataSize

	regs, err := shm.NewRegion(d.region, d.registerBase, MaxEndpoints)
	if err != nil {
		d.region = nil
		return BufferLayoutResponse{}, err
	}
	d.regs = regs

	return BufferLayoutResponse{
		Region:       d.region,
		ActualSize:   total,
		RegisterBase: d.registerBase,
	}, nil
}

// CreateEndpoint registers one endpoint. Indices must arrive in order, as the
// engine issues them.
func (d *Loopback) CreateEndpoint(req CreateEndpointRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if int(req.Index) != len(d.endpoints) {
		return fmt.Errorf("unexpected endpoint index %d, want %d", req.Index, len(d.endpoints))
	}
	if req.Index >= MaxEndpoints {
		return fmt.Errorf("endpoint index %d exceeds register array", req.Index)
	}
	if req.ChannelCount == 0 {
		return errors.New("endpoint needs at least one channel")
	}
	d.endpoints = append(d.endpoints, req)
	return nil
}

// EnableRegistryFilter records that application traffic routing was enabled.
func (d *Loopback) EnableRegistryFilter() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.filterEnabled = true
	return nil
}

// SendFormatChangeEvent counts format-change broadcasts.
func (d *Loopback) SendFormatChangeEvent() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.formatChanges++
	return nil
}

// WaitHandleQueue delivers queued handle updates. If updates are already
// pending the wait completes synchronously: the returned channel holds the
// batch before this call returns.
func (d *Loopback) WaitHandleQueue() (<-chan HandleQueueResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if d.waiter != nil {
		return nil, ErrWaitPending
	}

	ch := make(chan HandleQueueResult, 1)
	if len(d.pending) > 0 {
		ch <- HandleQueueResult{Updates: d.takeBatch()}
	} else {
		d.waiter = ch
	}
	return ch, nil
}

// Cancel aborts an outstanding handle queue wait.
func (d *Loopback) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *Loopback) cancelLocked() {
	if d.waiter != nil {
		d.waiter <- HandleQueueResult{Err: ErrCanceled}
		d.waiter = nil
	}
}

// Close shuts the channel down. The region stays valid until the engine drops
// its own reference, matching the real driver's mapping lifetime.
func (d *Loopback) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.cancelLocked()
	return nil
}

// takeBatch drains up to MaxHandleUpdates pending updates (lock held).
func (d *Loopback) takeBatch() []HandleUpdate {
	n := len(d.pending)
	if n > MaxHandleUpdates {
		n = MaxHandleUpdates
	}
	batch := make([]HandleUpdate, n)
	copy(batch, d.pending[:n])
	d.pending = d.pending[n:]
	return batch
}

// Activate assigns a ring sub-range to an endpoint, bumps its generation with
// the active bit set, and issues a fresh notification handle. It returns the
// handle so the driver-side client can wait on it. This is the loopback
// equivalent of an audio client attaching to the endpoint.
func (d *Loopback) Activate(index int, channels, ringBytes, notificationCount uint32) (*EventHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if d.regs == nil {
		return nil, errors.New("buffer layout not negotiated")
	}
	if index < 0 || index >= len(d.endpoints) {
		return nil, fmt.Errorf("unknown endpoint index %d", index)
	}
	if ringBytes == 0 || d.nextOffset+ringBytes > d.registerBase {
		return nil, fmt.Errorf("no room for %d ring bytes", ringBytes)
	}

	offset := d.nextOffset
	d.nextOffset += (ringBytes + 7) &^ 7

	d.epochs[index]++
	generation := shm.MakeGeneration(d.epochs[index], true)

	reg := d.regs.Register(index)
	reg.ActiveChannelCount.Store(channels)
	reg.BufferOffset.Store(offset)
	reg.BufferSize.Store(ringBytes)
	reg.NotificationCount.Store(notificationCount)
	reg.Position.Store(0)
	// Generation last: readers snapshotting after this see a settled record.
	reg.Generation.Store(generation)

	handle := NewEventHandle()
	d.queueUpdateLocked(HandleUpdate{
		Index:      uint32(index),
		Generation: generation,
		Handle:     handle,
	})
	return handle, nil
}

// Deactivate clears the active bit and advances the epoch, invalidating any
// handle issued for the previous generation.
func (d *Loopback) Deactivate(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.regs == nil || index < 0 || index >= len(d.endpoints) {
		return fmt.Errorf("unknown endpoint index %d", index)
	}
	d.epochs[index]++
	d.regs.Register(index).Generation.Store(shm.MakeGeneration(d.epochs[index], false))
	return nil
}

func (d *Loopback) queueUpdateLocked(update HandleUpdate) {
	if d.waiter != nil {
		d.waiter <- HandleQueueResult{Updates: []HandleUpdate{update}}
		d.waiter = nil
		return
	}
	d.pending = append(d.pending, update)
}

// Registers exposes the driver-side register view. Tests use it to fabricate
// the register anomalies a mid-reconfiguration driver can produce.
func (d *Loopback) Registers() *shm.Region {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs
}

// Ring returns the ring sub-range currently assigned to an endpoint, as the
// driver-side client sees it.
func (d *Loopback) Ring(index int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.regs == nil || index < 0 || index >= len(d.endpoints) {
		return nil
	}
	reg := d.regs.Register(index)
	ring, ok := d.regs.Slice(reg.BufferOffset.Load(), reg.BufferSize.Load())
	if !ok {
		return nil
	}
	return ring
}

// Position reads an endpoint's position register.
func (d *Loopback) Position(index int) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.regs == nil || index < 0 || index >= len(d.endpoints) {
		return 0
	}
	return d.regs.Register(index).Position.Load()
}

// FilterEnabled reports whether EnableRegistryFilter was issued.
func (d *Loopback) FilterEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filterEnabled
}

// FormatChangeCount reports how many format-change broadcasts were requested.
func (d *Loopback) FormatChangeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.formatChanges
}
