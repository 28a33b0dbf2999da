package driver

import (
	"fmt"

	"mclink/config"
)

// Create creates a Driver for the given PLC configuration.
// The connection is not established until Connect() is called on the returned driver.
func Create(cfg *config.PLCConfig) (Driver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	switch cfg.GetFamily() {
	case config.FamilyMitsubishi, config.FamilyKeyence:
		return NewMelsecAdapter(cfg)
	default:
		return nil, fmt.Errorf("unsupported plc family %q", cfg.Family)
	}
}
