package driver

import (
	"mclink/config"
	"mclink/mc"
)

// TagValue is a unified wrapper that holds tag data read from a PLC.
// It stores pre-computed Go values and type information for display.
type TagValue struct {
	Name     string      // Tag name
	DataType uint16      // Native type code
	Family   string      // PLC family ("mitsubishi", "keyence")
	Value    interface{} // Pre-computed Go value
	Bytes    []byte      // Original raw bytes (little-endian wire order)
	Count    int         // Number of elements (1 for scalar, >1 for array)
	Error    error       // Per-tag error (nil if successful)
}

// GoValue returns the pre-computed Go value, or nil if the read failed.
func (v *TagValue) GoValue() interface{} {
	if v.Error != nil {
		return nil
	}
	return v.Value
}

// TypeName returns the human-readable type name.
func (v *TagValue) TypeName() string {
	return mc.TypeName(v.DataType)
}

// TagRequest represents a read request with a type hint and count.
type TagRequest struct {
	Name     string // Tag name or device address
	TypeHint string // Type hint ("INT", "REAL", "DINT"...)
	Count    int    // Element count (0 or 1 for scalar)
}

// DeviceInfo contains information about the connected PLC.
type DeviceInfo struct {
	Family      config.PLCFamily // PLC family
	Vendor      string           // Vendor name
	Model       string           // Model profile in use
	Description string           // Additional description
}
