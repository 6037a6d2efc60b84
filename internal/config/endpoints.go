package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/peinadoso/SynchronousAudioRouter/internal/driver"
)

// EndpointConfig represents a single virtual endpoint definition
type EndpointConfig struct {
	ID       string `toml:"id" json:"id"`
	Name     string `toml:"name" json:"name"`
	Type     string `toml:"type" json:"type"` // "playback" or "recording"
	Channels int    `toml:"channels" json:"channels"`
	Device   string `toml:"device,omitempty" json:"device,omitempty"` // backing device file name, for the monitor
	Enabled  bool   `toml:"enabled" json:"enabled"`

	// Metadata
	CreatedAt time.Time `toml:"created_at" json:"created_at"`
	UpdatedAt time.Time `toml:"updated_at" json:"updated_at"`
}

// Validate checks that the definition can become a session endpoint.
func (e EndpointConfig) Validate() error {
	switch e.Type {
	case "playback", "recording":
	default:
		return fmt.Errorf("endpoint %s: type must be playback or recording, got %q", e.ID, e.Type)
	}
	if e.Channels < 1 {
		return fmt.Errorf("endpoint %s: channels must be at least 1, got %d", e.ID, e.Channels)
	}
	if e.Name == "" {
		return fmt.Errorf("endpoint %s: name cannot be empty", e.ID)
	}
	return nil
}

// EndpointsConfig represents the complete endpoints configuration file
type EndpointsConfig struct {
	Version   int                       `toml:"version" json:"version"`
	Endpoints map[string]EndpointConfig `toml:"endpoints" json:"endpoints"`
}

// EndpointManager manages endpoint definitions
type EndpointManager struct {
	configPath string
	config     *EndpointsConfig
}

// NewEndpointManager creates a new endpoint manager
func NewEndpointManager(configPath string) *EndpointManager {
	if configPath == "" {
		configPath = "endpoints.toml"
	}

	return &EndpointManager{
		configPath: configPath,
		config: &EndpointsConfig{
			Version:   1,
			Endpoints: make(map[string]EndpointConfig),
		},
	}
}

// Load loads the endpoints configuration from file
func (em *EndpointManager) Load() error {
	// Check if file exists
	if _, err := os.Stat(em.configPath); os.IsNotExist(err) {
		// File doesn't exist, use empty config
		return nil
	}

	data, err := os.ReadFile(em.configPath)
	if err != nil {
		return fmt.Errorf("failed to read endpoints config: %w", err)
	}

	if err := toml.Unmarshal(data, em.config); err != nil {
		return fmt.Errorf("failed to parse endpoints config: %w", err)
	}

	// Initialize endpoints map if nil
	if em.config.Endpoints == nil {
		em.config.Endpoints = make(map[string]EndpointConfig)
	}

	// Set version if not set
	if em.config.Version == 0 {
		em.config.Version = 1
	}

	return nil
}

// Save saves the endpoints configuration to file
func (em *EndpointManager) Save() error {
	// Ensure directory exists
	dir := filepath.Dir(em.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(em.config)
	if err != nil {
		return fmt.Errorf("failed to marshal endpoints config: %w", err)
	}

	if err := os.WriteFile(em.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write endpoints config: %w", err)
	}

	return nil
}

// AddEndpoint adds a new endpoint to the configuration. A missing ID gets a
// generated stable one.
func (em *EndpointManager) AddEndpoint(endpoint EndpointConfig) error {
	if endpoint.ID == "" {
		endpoint.ID = uuid.NewString()
	}
	if endpoint.Name == "" {
		endpoint.Name = endpoint.ID
	}
	if err := endpoint.Validate(); err != nil {
		return err
	}

	// Set timestamps
	now := time.Now()
	if endpoint.CreatedAt.IsZero() {
		endpoint.CreatedAt = now
	}
	endpoint.UpdatedAt = now

	em.config.Endpoints[endpoint.ID] = endpoint
	return em.Save()
}

// UpdateEndpoint updates an existing endpoint definition
func (em *EndpointManager) UpdateEndpoint(id string, updates EndpointConfig) error {
	existing, exists := em.config.Endpoints[id]
	if !exists {
		return fmt.Errorf("endpoint %s not found", id)
	}

	// Preserve creation time and ID
	updates.ID = existing.ID
	updates.CreatedAt = existing.CreatedAt
	updates.UpdatedAt = time.Now()

	// Use existing values if not provided
	if updates.Name == "" {
		updates.Name = existing.Name
	}
	if updates.Type == "" {
		updates.Type = existing.Type
	}
	if updates.Channels == 0 {
		updates.Channels = existing.Channels
	}
	if err := updates.Validate(); err != nil {
		return err
	}

	em.config.Endpoints[id] = updates
	return em.Save()
}

// RemoveEndpoint removes an endpoint from the configuration
func (em *EndpointManager) RemoveEndpoint(id string) error {
	if _, exists := em.config.Endpoints[id]; !exists {
		return fmt.Errorf("endpoint %s not found", id)
	}

	delete(em.config.Endpoints, id)
	return em.Save()
}

// GetEndpoint retrieves an endpoint by ID
func (em *EndpointManager) GetEndpoint(id string) (EndpointConfig, bool) {
	endpoint, exists := em.config.Endpoints[id]
	return endpoint, exists
}

// GetEndpoints returns all endpoints
func (em *EndpointManager) GetEndpoints() map[string]EndpointConfig {
	return em.config.Endpoints
}

// GetEnabledEndpoints returns only enabled endpoints
func (em *EndpointManager) GetEnabledEndpoints() map[string]EndpointConfig {
	enabled := make(map[string]EndpointConfig)
	for id, endpoint := range em.config.Endpoints {
		if endpoint.Enabled {
			enabled[id] = endpoint
		}
	}
	return enabled
}

// ToSessionEndpoints converts enabled definitions into the positional list a
// session is created with. Order is by ID so the endpoint indices the driver
// sees are stable across restarts.
func (em *EndpointManager) ToSessionEndpoints() ([]driver.Endpoint, error) {
	enabled := em.GetEnabledEndpoints()
	ids := make([]string, 0, len(enabled))
	for id := range enabled {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	endpoints := make([]driver.Endpoint, 0, len(ids))
	for _, id := range ids {
		def := enabled[id]
		if err := def.Validate(); err != nil {
			return nil, err
		}
		endpointType := driver.Playback
		if def.Type == "recording" {
			endpointType = driver.Recording
		}
		endpoints = append(endpoints, driver.Endpoint{
			Type:         endpointType,
			ChannelCount: def.Channels,
			Name:         def.Name,
			ID:           def.ID,
		})
	}
	return endpoints, nil
}

// DeviceBindings maps backing device file names to endpoint IDs for the
// device monitor. Endpoints without a device entry are skipped.
func (em *EndpointManager) DeviceBindings() map[string]string {
	bindings := make(map[string]string)
	for id, endpoint := range em.GetEnabledEndpoints() {
		if endpoint.Device != "" {
			bindings[endpoint.Device] = id
		}
	}
	return bindings
}

// EnableEndpoint enables an endpoint
func (em *EndpointManager) EnableEndpoint(id string) error {
	endpoint, exists := em.config.Endpoints[id]
	if !exists {
		return fmt.Errorf("endpoint %s not found", id)
	}

	endpoint.Enabled = true
	endpoint.UpdatedAt = time.Now()
	em.config.Endpoints[id] = endpoint
	return em.Save()
}

// DisableEndpoint disables an endpoint
func (em *EndpointManager) DisableEndpoint(id string) error {
	endpoint, exists := em.config.Endpoints[id]
	if !exists {
		return fmt.Errorf("endpoint %s not found", id)
	}

	endpoint.Enabled = false
	endpoint.UpdatedAt = time.Now()
	em.config.Endpoints[id] = endpoint
	return em.Save()
}
