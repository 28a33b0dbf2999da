package driver

import "mclink/config"

// Driver is the unified interface for PLC communications.
// Each PLC family has an adapter that implements this interface.
type Driver interface {
	// Connection management
	Connect() error
	Close() error
	IsConnected() bool

	// Identification
	Family() config.PLCFamily
	ConnectionMode() string
	GetDeviceInfo() (*DeviceInfo, error)

	// Read/Write operations
	Read(requests []TagRequest) ([]*TagValue, error)
	Write(tag string, value interface{}, typeHint string) error

	// Maintenance
	Keepalive() error
	IsConnectionError(err error) bool
}
