// Package mc implements the MELSEC MC protocol (3E frame, binary code)
// for Mitsubishi Q/L/iQ-series and Keyence KV-series PLCs over TCP.
//
// The package is organized as a small stack: address parsing and model
// profiles resolve a textual device address to wire-level parameters,
// the frame codec builds and parses 3E frames, and Client drives the
// exchange over a Transport with typed read/write helpers on top.
package mc

// 3E frame constants. All multi-byte fields are little-endian on the wire.
const (
	// Fixed request header: subheader, network, PC, module I/O, station.
	subheaderReqLo = 0x50
	subheaderReqHi = 0x00
	networkNo      = 0x00
	pcNo           = 0xFF
	moduleIOLo     = 0xFF
	moduleIOHi     = 0x03
	stationNo      = 0x00

	// Response subheader.
	subheaderRespLo = 0xD0
	subheaderRespHi = 0x00

	// Monitoring timer in 250ms units (0x0010 = 4 seconds).
	monitorTimer = 0x0010

	cmdBatchRead  uint16 = 0x0401
	cmdBatchWrite uint16 = 0x1401

	subcmdWord uint16 = 0x0000
	subcmdBit  uint16 = 0x0001

	// Bytes from the monitoring timer through the device spec, counted
	// by the request data-length field when there is no write payload.
	reqFixedDataLen = 12

	// Bytes before the data-length field in both directions.
	headerLen = 7

	// respHeaderLen is the full response header including the length field.
	respHeaderLen = 9
)

// MaxPointsPerFrame is the largest device count a single 3E frame may
// carry. Larger requests are split transparently by the client.
const MaxPointsPerFrame = 960

// DefaultPort is used when a PLC address has no explicit port.
const DefaultPort = 5007
