// Package driver defines the control-channel boundary between the user-mode
// engine and the kernel driver: the request/response surface used to
// negotiate the shared buffer layout, create endpoints and receive
// notification handle updates.
//
// The hot path never goes through this package; once the layout is set, data
// moves through the shared region directly. Only the asynchronous handle
// queue is touched from the tick, and strictly without blocking.
package driver

import "errors"

var (
	// ErrClosed is returned for requests on a closed control channel.
	ErrClosed = errors.New("control channel closed")

	// ErrCanceled is delivered to a pending handle queue wait that was
	// aborted by Cancel or Close. Expected during tick/stop races.
	ErrCanceled = errors.New("handle queue wait canceled")

	// ErrHandleClosed is returned when signaling a released handle.
	ErrHandleClosed = errors.New("notification handle closed")
)

// EndpointType selects the data direction of a virtual endpoint.
type EndpointType int

const (
	// Playback endpoints carry audio from an application into the engine;
	// the engine demuxes their ring data into host buffers.
	Playback EndpointType = iota

	// Recording endpoints carry audio from host buffers into the ring.
	Recording
)

// String returns the configuration-file spelling of the endpoint type.
func (t EndpointType) String() string {
	if t == Recording {
		return "recording"
	}
	return "playback"
}

// Endpoint describes one virtual audio device. Immutable for the duration of
// a session.
type Endpoint struct {
	Type         EndpointType
	ChannelCount int
	Name         string
	ID           string
}

// BufferLayoutRequest negotiates the shared region with the driver.
type BufferLayoutRequest struct {
	BufferSize        uint32
	PeriodSizeBytes   uint32
	SampleRate        uint32
	SampleSize        uint32
	MinimumFrameCount uint32
}

// BufferLayoutResponse carries the mapped shared region back to the engine.
type BufferLayoutResponse struct {
	Region       []byte
	ActualSize   uint32
	RegisterBase uint32
}

// CreateEndpointRequest registers one endpoint with the driver.
type CreateEndpointRequest struct {
	Type         EndpointType
	ChannelCount uint32
	Index        uint32
	Name         string
	ID           string
}

// Handle is the OS signal primitive the engine raises to tell an endpoint's
// client that its ring has advanced past a notification point.
type Handle interface {
	Signal() error
	Close() error
}

// HandleUpdate reissues the notification handle for one endpoint, tagged with
// the generation it was issued for. Handles for older generations are dead.
type HandleUpdate struct {
	Index      uint32
	Generation uint32
	Handle     Handle
}

// MaxHandleUpdates caps the batch delivered by one handle queue completion.
const MaxHandleUpdates = 128

// HandleQueueResult is the completion record of one WaitHandleQueue request.
type HandleQueueResult struct {
	Updates []HandleUpdate
	Err     error
}

// ControlChannel is the engine's view of the driver control device.
// Requests are synchronous except WaitHandleQueue.
type ControlChannel interface {
	// SetBufferLayout negotiates the shared region and returns its mapping.
	SetBufferLayout(req BufferLayoutRequest) (BufferLayoutResponse, error)

	// CreateEndpoint registers one playback or recording endpoint.
	CreateEndpoint(req CreateEndpointRequest) error

	// EnableRegistryFilter routes matching application audio through the
	// driver. Optional; failure is non-fatal for a session.
	EnableRegistryFilter() error

	// SendFormatChangeEvent asks the driver to broadcast a pin-capability
	// re-query after an endpoint was reactivated.
	SendFormatChangeEvent() error

	// WaitHandleQueue begins an asynchronous wait for a batch of handle
	// updates. The returned channel yields exactly one result; it may
	// already hold one if the request completed synchronously. At most one
	// wait may be outstanding.
	WaitHandleQueue() (<-chan HandleQueueResult, error)

	// Cancel aborts any outstanding asynchronous request, delivering
	// ErrCanceled to its channel.
	Cancel()

	// Close releases the control channel. Implies Cancel.
	Close() error
}
