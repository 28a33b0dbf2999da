package mc

import "fmt"

// InvalidAddressError indicates a device address string that could not
// be parsed.
type InvalidAddressError struct {
	Address string
	Reason  string
}

// Error implements the error interface.
func (e InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid device address %q: %s", e.Address, e.Reason)
}

// UnsupportedDeviceError indicates a device type the active model
// profile has no code for.
type UnsupportedDeviceError struct {
	Model  string
	Device Device
}

// Error implements the error interface.
func (e UnsupportedDeviceError) Error() string {
	return fmt.Sprintf("device %s is not supported by model %s", e.Device, e.Model)
}

// PLCError is a nonzero completion code returned by the PLC.
type PLCError struct {
	Code uint16
}

// Error implements the error interface.
func (e PLCError) Error() string {
	return fmt.Sprintf("plc error 0x%04X: %s", e.Code, completionMessage(e.Code))
}

// completionMessage returns a human-readable message for a completion code.
func completionMessage(code uint16) string {
	switch code {
	case 0xC050:
		return "ascii code communication is set but binary data received"
	case 0xC051, 0xC052, 0xC053, 0xC054:
		return "number of points is outside the allowed range"
	case 0xC056:
		return "read or write request exceeds the maximum address"
	case 0xC058:
		return "request data length does not match the number of points"
	case 0xC059:
		return "command or subcommand is not supported"
	case 0xC05B:
		return "cpu cannot access the specified device"
	case 0xC05C:
		return "request content error (bit access to a word-only command)"
	case 0xC05F:
		return "request cannot be executed for the target cpu"
	case 0xC060:
		return "request content error (device specification)"
	case 0xC061:
		return "request data length does not match the data count"
	default:
		return "unknown completion code"
	}
}

// FrameError indicates a malformed response frame.
type FrameError struct {
	Reason string
	Want   int
	Got    int
}

// Error implements the error interface.
func (e FrameError) Error() string {
	if e.Want != 0 || e.Got != 0 {
		return fmt.Sprintf("malformed response frame: %s (want %d bytes, got %d)", e.Reason, e.Want, e.Got)
	}
	return fmt.Sprintf("malformed response frame: %s", e.Reason)
}

// Frame error reasons.
const (
	frameTooShort       = "frame too short"
	frameLengthMismatch = "length field does not match frame size"
	frameBadSubheader   = "unexpected subheader"
)

// CountMismatchError indicates a value count that does not match the
// requested element count.
type CountMismatchError struct {
	Want int
	Got  int
}

// Error implements the error interface.
func (e CountMismatchError) Error() string {
	return fmt.Sprintf("value count mismatch: want %d, got %d", e.Want, e.Got)
}
