package config

import (
	"path/filepath"
	"testing"

	"github.com/peinadoso/SynchronousAudioRouter/internal/driver"
)

func newTestManager(t *testing.T) *EndpointManager {
	t.Helper()
	return NewEndpointManager(filepath.Join(t.TempDir(), "endpoints.toml"))
}

func TestEndpointManager_AddAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoints.toml")
	em := NewEndpointManager(path)

	err := em.AddEndpoint(EndpointConfig{
		ID:       "out-1",
		Name:     "Virtual Out",
		Type:     "playback",
		Channels: 2,
		Device:   "pcmC0D0p",
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("AddEndpoint failed: %v", err)
	}

	reloaded := NewEndpointManager(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	endpoint, exists := reloaded.GetEndpoint("out-1")
	if !exists {
		t.Fatal("Expected endpoint out-1 after reload")
	}
	if endpoint.Name != "Virtual Out" || endpoint.Channels != 2 || endpoint.Type != "playback" {
		t.Errorf("Expected definition round-tripped, got %+v", endpoint)
	}
}

func TestEndpointManager_GeneratesStableID(t *testing.T) {
	em := newTestManager(t)

	if err := em.AddEndpoint(EndpointConfig{Name: "Mic", Type: "recording", Channels: 1, Enabled: true}); err != nil {
		t.Fatalf("AddEndpoint failed: %v", err)
	}

	endpoints := em.GetEndpoints()
	if len(endpoints) != 1 {
		t.Fatalf("Expected 1 endpoint, got %d", len(endpoints))
	}
	for id := range endpoints {
		if id == "" {
			t.Error("Expected a generated ID for an endpoint without one")
		}
	}
}

func TestEndpointConfig_Validate(t *testing.T) {
	cases := []struct {
		name     string
		endpoint EndpointConfig
		wantErr  bool
	}{
		{"valid playback", EndpointConfig{ID: "a", Name: "A", Type: "playback", Channels: 2}, false},
		{"valid recording", EndpointConfig{ID: "b", Name: "B", Type: "recording", Channels: 1}, false},
		{"bad type", EndpointConfig{ID: "c", Name: "C", Type: "duplex", Channels: 2}, true},
		{"zero channels", EndpointConfig{ID: "d", Name: "D", Type: "playback", Channels: 0}, true},
		{"empty name", EndpointConfig{ID: "e", Type: "playback", Channels: 2}, true},
	}
	for _, tc := range cases {
		err := tc.endpoint.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestEndpointManager_RejectsInvalid(t *testing.T) {
	em := newTestManager(t)

	if err := em.AddEndpoint(EndpointConfig{Name: "Bad", Type: "duplex", Channels: 2}); err == nil {
		t.Error("Expected AddEndpoint to reject an invalid type")
	}
	if err := em.AddEndpoint(EndpointConfig{Name: "Bad", Type: "playback", Channels: 0}); err == nil {
		t.Error("Expected AddEndpoint to reject zero channels")
	}
}

func TestEndpointManager_ToSessionEndpoints(t *testing.T) {
	em := newTestManager(t)

	definitions := []EndpointConfig{
		{ID: "b-mic", Name: "Mic", Type: "recording", Channels: 1, Enabled: true},
		{ID: "a-out", Name: "Out", Type: "playback", Channels: 2, Enabled: true},
		{ID: "c-off", Name: "Disabled", Type: "playback", Channels: 2, Enabled: false},
	}
	for _, def := range definitions {
		if err := em.AddEndpoint(def); err != nil {
			t.Fatalf("AddEndpoint failed: %v", err)
		}
	}

	endpoints, err := em.ToSessionEndpoints()
	if err != nil {
		t.Fatalf("ToSessionEndpoints failed: %v", err)
	}

	if len(endpoints) != 2 {
		t.Fatalf("Expected 2 enabled endpoints, got %d", len(endpoints))
	}
	// Sorted by ID for stable driver indices.
	if endpoints[0].ID != "a-out" || endpoints[0].Type != driver.Playback {
		t.Errorf("Expected a-out playback first, got %+v", endpoints[0])
	}
	if endpoints[1].ID != "b-mic" || endpoints[1].Type != driver.Recording {
		t.Errorf("Expected b-mic recording second, got %+v", endpoints[1])
	}
}

func TestEndpointManager_DeviceBindings(t *testing.T) {
	em := newTestManager(t)

	if err := em.AddEndpoint(EndpointConfig{ID: "out-1", Name: "Out", Type: "playback", Channels: 2, Device: "pcmC0D0p", Enabled: true}); err != nil {
		t.Fatalf("AddEndpoint failed: %v", err)
	}
	if err := em.AddEndpoint(EndpointConfig{ID: "in-1", Name: "Mic", Type: "recording", Channels: 1, Enabled: true}); err != nil {
		t.Fatalf("AddEndpoint failed: %v", err)
	}

	bindings := em.DeviceBindings()
	if len(bindings) != 1 {
		t.Fatalf("Expected 1 binding, got %d", len(bindings))
	}
	if bindings["pcmC0D0p"] != "out-1" {
		t.Errorf("Expected pcmC0D0p bound to out-1, got %q", bindings["pcmC0D0p"])
	}
}

func TestEndpointManager_EnableDisable(t *testing.T) {
	em := newTestManager(t)

	if err := em.AddEndpoint(EndpointConfig{ID: "out-1", Name: "Out", Type: "playback", Channels: 2, Enabled: true}); err != nil {
		t.Fatalf("AddEndpoint failed: %v", err)
	}

	if err := em.DisableEndpoint("out-1"); err != nil {
		t.Fatalf("DisableEndpoint failed: %v", err)
	}
	if len(em.GetEnabledEndpoints()) != 0 {
		t.Error("Expected no enabled endpoints after disable")
	}

	if err := em.EnableEndpoint("out-1"); err != nil {
		t.Fatalf("EnableEndpoint failed: %v", err)
	}
	if len(em.GetEnabledEndpoints()) != 1 {
		t.Error("Expected 1 enabled endpoint after enable")
	}

	if err := em.EnableEndpoint("missing"); err == nil {
		t.Error("Expected error enabling an unknown endpoint")
	}
}

func TestEndpointManager_UpdateAndRemove(t *testing.T) {
	em := newTestManager(t)

	if err := em.AddEndpoint(EndpointConfig{ID: "out-1", Name: "Out", Type: "playback", Channels: 2, Enabled: true}); err != nil {
		t.Fatalf("AddEndpoint failed: %v", err)
	}

	if err := em.UpdateEndpoint("out-1", EndpointConfig{Channels: 8}); err != nil {
		t.Fatalf("UpdateEndpoint failed: %v", err)
	}
	endpoint, _ := em.GetEndpoint("out-1")
	if endpoint.Channels != 8 || endpoint.Name != "Out" || endpoint.Type != "playback" {
		t.Errorf("Expected update to merge with existing values, got %+v", endpoint)
	}

	if err := em.RemoveEndpoint("out-1"); err != nil {
		t.Fatalf("RemoveEndpoint failed: %v", err)
	}
	if _, exists := em.GetEndpoint("out-1"); exists {
		t.Error("Expected endpoint removed")
	}
	if err := em.RemoveEndpoint("out-1"); err == nil {
		t.Error("Expected error removing an unknown endpoint")
	}
}
