package driver

import (
	"fmt"
	"sync"

	"mclink/config"
	"mclink/mc"
)

// MelsecAdapter wraps mc.Client to implement the Driver interface for
// Mitsubishi and Keyence PLCs.
type MelsecAdapter struct {
	mu     sync.Mutex
	client *mc.Client
	config *config.PLCConfig
}

// NewMelsecAdapter creates a new adapter from configuration.
// The connection is not established until Connect() is called.
func NewMelsecAdapter(cfg *config.PLCConfig) (*MelsecAdapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return &MelsecAdapter{
		config: cfg,
	}, nil
}

// profile maps the configured family to a model profile.
func (a *MelsecAdapter) profile() *mc.Profile {
	if a.config.GetFamily() == config.FamilyKeyence {
		return mc.Keyence
	}
	return mc.MitsubishiQ
}

// Connect establishes connection to the PLC.
func (a *MelsecAdapter) Connect() error {
	opts := []mc.Option{mc.WithProfile(a.profile())}
	if a.config.Timeout > 0 {
		opts = append(opts, mc.WithTimeout(a.config.Timeout))
	}

	client, err := mc.Connect(a.config.Address, opts...)
	if err != nil {
		return fmt.Errorf("mc connect: %w", err)
	}

	a.mu.Lock()
	a.client = client
	a.mu.Unlock()
	return nil
}

// Close releases the connection.
func (a *MelsecAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	return nil
}

// IsConnected returns true if connected to the PLC.
func (a *MelsecAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client != nil && a.client.IsConnected()
}

// Family returns the PLC family.
func (a *MelsecAdapter) Family() config.PLCFamily {
	return a.config.GetFamily()
}

// ConnectionMode returns a description of the connection mode.
func (a *MelsecAdapter) ConnectionMode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return "Not connected"
	}
	return a.client.ConnectionMode()
}

// GetDeviceInfo returns information about the configured PLC. The MC
// protocol has no identity service, so this reflects configuration.
func (a *MelsecAdapter) GetDeviceInfo() (*DeviceInfo, error) {
	vendor := "Mitsubishi Electric"
	if a.config.GetFamily() == config.FamilyKeyence {
		vendor = "Keyence"
	}
	return &DeviceInfo{
		Family:      a.config.GetFamily(),
		Vendor:      vendor,
		Model:       a.profile().Name(),
		Description: fmt.Sprintf("MC 3E frame at %s", a.config.Address),
	}, nil
}

// Read reads tag values from the PLC.
func (a *MelsecAdapter) Read(requests []TagRequest) ([]*TagValue, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("not connected")
	}

	mcRequests := make([]mc.TagRequest, len(requests))
	for i, req := range requests {
		mcRequests[i] = mc.TagRequest{
			Name:     req.Name,
			TypeHint: req.TypeHint,
			Count:    req.Count,
		}
	}

	values, err := client.ReadTags(mcRequests)
	if err != nil && len(values) == 0 {
		return nil, err
	}

	family := string(a.config.GetFamily())
	result := make([]*TagValue, len(requests))
	for i := range requests {
		if i >= len(values) || values[i] == nil {
			result[i] = &TagValue{
				Name:   requests[i].Name,
				Family: family,
				Error:  fmt.Errorf("no response"),
			}
			continue
		}
		v := values[i]
		result[i] = &TagValue{
			Name:     v.Name,
			DataType: v.DataType,
			Family:   family,
			Value:    v.GoValue(),
			Bytes:    v.Bytes,
			Count:    v.Count,
			Error:    v.Error,
		}
	}
	return result, nil
}

// Write writes a value to a device address, converting per the hint.
func (a *MelsecAdapter) Write(tag string, value interface{}, typeHint string) error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return fmt.Errorf("not connected")
	}
	return client.WriteTag(tag, value, typeHint)
}

// Keepalive reads a word to verify the link is still alive.
func (a *MelsecAdapter) Keepalive() error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return fmt.Errorf("not connected")
	}
	_, err := client.ReadWords("D0", 1)
	return err
}

// Reconnect tears down and re-dials the connection.
func (a *MelsecAdapter) Reconnect() error {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return a.Connect()
	}
	return client.Reconnect()
}

// IsConnectionError returns true if the error indicates a connection problem.
func (a *MelsecAdapter) IsConnectionError(err error) bool {
	return IsLikelyConnectionError(err)
}

// Client returns the underlying mc.Client for advanced operations.
func (a *MelsecAdapter) Client() *mc.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

var _ Driver = (*MelsecAdapter)(nil)
