package mc

import (
	"strconv"
	"strings"
)

// Device identifies a MELSEC device (memory area) type.
type Device int

const (
	DeviceX  Device = iota // Input (bit, hex numbering)
	DeviceY                // Output (bit, hex numbering)
	DeviceM                // Internal relay (bit)
	DeviceL                // Latch relay (bit)
	DeviceF                // Annunciator (bit)
	DeviceB                // Link relay (bit, hex numbering)
	DeviceSM               // Special relay (bit)
	DeviceTS               // Timer contact (bit)
	DeviceCS               // Counter contact (bit)
	DeviceD                // Data register (word)
	DeviceW                // Link register (word, hex numbering)
	DeviceR                // File register (word)
	DeviceZR               // File register, serial access (word, hex numbering)
	DeviceSD               // Special register (word)
	DeviceTN               // Timer current value (word)
	DeviceCN               // Counter current value (word)
)

// Mode describes how a device is addressed on the wire.
type Mode int

const (
	ModeBit  Mode = iota // one point per bit, nibble-packed payload
	ModeWord             // one point per 16-bit word
)

// deviceInfo holds the static attributes of a device type.
type deviceInfo struct {
	prefix string
	mode   Mode
	base   int // numbering base of the offset digits (10 or 16)
}

var deviceTable = map[Device]deviceInfo{
	DeviceX:  {"X", ModeBit, 16},
	DeviceY:  {"Y", ModeBit, 16},
	DeviceM:  {"M", ModeBit, 10},
	DeviceL:  {"L", ModeBit, 10},
	DeviceF:  {"F", ModeBit, 10},
	DeviceB:  {"B", ModeBit, 16},
	DeviceSM: {"SM", ModeBit, 10},
	DeviceTS: {"TS", ModeBit, 10},
	DeviceCS: {"CS", ModeBit, 10},
	DeviceD:  {"D", ModeWord, 10},
	DeviceW:  {"W", ModeWord, 16},
	DeviceR:  {"R", ModeWord, 10},
	DeviceZR: {"ZR", ModeWord, 16},
	DeviceSD: {"SD", ModeWord, 10},
	DeviceTN: {"TN", ModeWord, 10},
	DeviceCN: {"CN", ModeWord, 10},
}

// Prefixes ordered longest first so SM wins over S+M0 style ambiguity.
var devicePrefixes = []Device{
	DeviceSM, DeviceSD, DeviceZR, DeviceTN, DeviceTS, DeviceCN, DeviceCS,
	DeviceX, DeviceY, DeviceM, DeviceL, DeviceF, DeviceB,
	DeviceD, DeviceW, DeviceR,
}

// String returns the device prefix (e.g. "D", "SM").
func (d Device) String() string {
	if info, ok := deviceTable[d]; ok {
		return info.prefix
	}
	return "?"
}

// Mode returns the access mode of the device.
func (d Device) Mode() Mode {
	return deviceTable[d].mode
}

// Address is a parsed device address.
type Address struct {
	Device Device
	Offset uint32 // device number, 24-bit on the wire
}

// String renders the address in canonical form: the device prefix
// followed by the number in the device's native base (hex upper-case
// for hex-numbered devices).
func (a Address) String() string {
	info := deviceTable[a.Device]
	if info.base == 16 {
		return info.prefix + strings.ToUpper(strconv.FormatUint(uint64(a.Offset), 16))
	}
	return info.prefix + strconv.FormatUint(uint64(a.Offset), 10)
}

// ParseAddress parses a canonical MELSEC device address such as
// "D1002", "M100", "X1A0" or "SM400". Matching is case-insensitive;
// hex-numbered devices (X, Y, B, W, ZR) take their digits as hex.
func ParseAddress(addr string) (Address, error) {
	s := strings.ToUpper(strings.TrimSpace(addr))
	if s == "" {
		return Address{}, InvalidAddressError{Address: addr, Reason: "empty address"}
	}

	for _, dev := range devicePrefixes {
		info := deviceTable[dev]
		rest, ok := strings.CutPrefix(s, info.prefix)
		if !ok || rest == "" {
			continue
		}
		// A hex-numbered device may start with a letter digit, but a
		// decimal device whose remainder is non-numeric is a different
		// (longer) prefix, not a bad number.
		n, err := strconv.ParseUint(rest, info.base, 32)
		if err != nil {
			if info.base == 10 && !isDigit(rest[0]) {
				continue
			}
			return Address{}, InvalidAddressError{Address: addr, Reason: "bad device number " + strconv.Quote(rest)}
		}
		if n > 0xFFFFFF {
			return Address{}, InvalidAddressError{Address: addr, Reason: "device number exceeds 24-bit range"}
		}
		return Address{Device: dev, Offset: uint32(n)}, nil
	}

	return Address{}, InvalidAddressError{Address: addr, Reason: "unknown device prefix"}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
