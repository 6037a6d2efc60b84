package events

// Event type constants for kelindar/event.
const (
	TypeDeviceState uint32 = iota + 1
	TypeSessionState
	TypeEndpointsConfigured
	TypeFormatChange
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// DeviceStateEvent represents an audio device state change observed by the
// device monitor. EndpointID is empty when the device could not be matched to
// one of the session's endpoints.
type DeviceStateEvent struct {
	DevicePath string `json:"device_path"`
	EndpointID string `json:"endpoint_id,omitempty"`
	Action     string `json:"action"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for DeviceStateEvent.
func (e DeviceStateEvent) Type() uint32 { return TypeDeviceState }

// SessionStateEvent is published when the engine session starts or stops.
type SessionStateEvent struct {
	Running   bool   `json:"running"`
	Endpoints int    `json:"endpoints"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for SessionStateEvent.
func (e SessionStateEvent) Type() uint32 { return TypeSessionState }

// EndpointsConfiguredEvent is published when the endpoint definition file is
// reloaded. The new definitions take effect on the next session.
type EndpointsConfiguredEvent struct {
	Count     int    `json:"count"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for EndpointsConfiguredEvent.
func (e EndpointsConfiguredEvent) Type() uint32 { return TypeEndpointsConfigured }

// FormatChangeEvent is published when a device change requires clients to
// renegotiate their shared format.
type FormatChangeEvent struct {
	EndpointID string `json:"endpoint_id"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for FormatChangeEvent.
func (e FormatChangeEvent) Type() uint32 { return TypeFormatChange }
