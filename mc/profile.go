package mc

import (
	"fmt"
	"strings"
	"sync"
)

// Profile maps logical devices to the wire codes of a PLC model and
// normalizes model-specific address dialects to the canonical MELSEC
// form. Profiles are immutable after registration and safe for
// concurrent use.
type Profile struct {
	name      string
	codes     map[Device]byte
	normalize func(string) (string, error)
}

// Name returns the profile name.
func (p *Profile) Name() string {
	return p.name
}

// DeviceCode returns the wire code for a device.
func (p *Profile) DeviceCode(d Device) (byte, error) {
	code, ok := p.codes[d]
	if !ok {
		return 0, UnsupportedDeviceError{Model: p.name, Device: d}
	}
	return code, nil
}

// Subcommand returns the batch subcommand selecting bit or word access
// for a device, or an error if the profile does not support the device.
func (p *Profile) Subcommand(d Device) (uint16, error) {
	if _, ok := p.codes[d]; !ok {
		return 0, UnsupportedDeviceError{Model: p.name, Device: d}
	}
	if d.Mode() == ModeBit {
		return subcmdBit, nil
	}
	return subcmdWord, nil
}

// Normalize rewrites a model-dialect address into canonical MELSEC
// form. Profiles without a dialect return the input unchanged.
func (p *Profile) Normalize(addr string) (string, error) {
	if p.normalize == nil {
		return addr, nil
	}
	return p.normalize(addr)
}

// Wire codes shared by the Q-series command set.
var qSeriesCodes = map[Device]byte{
	DeviceX:  0x9C,
	DeviceY:  0x9D,
	DeviceM:  0x90,
	DeviceL:  0x92,
	DeviceF:  0x93,
	DeviceB:  0xA0,
	DeviceSM: 0x91,
	DeviceTS: 0xC1,
	DeviceCS: 0xC4,
	DeviceD:  0xA8,
	DeviceW:  0xB4,
	DeviceR:  0xAF,
	DeviceZR: 0xB0,
	DeviceSD: 0xA9,
	DeviceTN: 0xC2,
	DeviceCN: 0xC5,
}

// MitsubishiQ is the profile for Mitsubishi Q/L/iQ-series CPUs. It
// accepts canonical MELSEC addresses as-is.
var MitsubishiQ = &Profile{
	name:  "mitsubishi-q",
	codes: qSeriesCodes,
}

// Keyence is the profile for Keyence KV-series CPUs in MC-compatible
// mode. The command set is the Q-series one, but addresses are written
// in the KV dialect (R, MR, LR, DM, FM, ZF...) and translated before
// parsing.
var Keyence = &Profile{
	name:      "keyence-kv",
	codes:     qSeriesCodes,
	normalize: keyenceNormalize,
}

var (
	profileMu sync.RWMutex
	profiles  = map[string]*Profile{
		"mitsubishi-q": MitsubishiQ,
		"mitsubishi":   MitsubishiQ,
		"q":            MitsubishiQ,
		"keyence-kv":   Keyence,
		"keyence":      Keyence,
	}
)

// ProfileByName looks up a registered profile by name (case-insensitive).
func ProfileByName(name string) (*Profile, error) {
	profileMu.RLock()
	defer profileMu.RUnlock()
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown plc model %q", name)
	}
	return p, nil
}

// RegisterProfile adds a custom profile under the given name.
// Registering an existing name replaces it.
func RegisterProfile(name string, p *Profile) {
	profileMu.Lock()
	defer profileMu.Unlock()
	profiles[strings.ToLower(strings.TrimSpace(name))] = p
}

// NewProfile builds a custom profile from a device code table and an
// optional address normalizer.
func NewProfile(name string, codes map[Device]byte, normalize func(string) (string, error)) *Profile {
	cp := make(map[Device]byte, len(codes))
	for d, c := range codes {
		cp[d] = c
	}
	return &Profile{name: name, codes: cp, normalize: normalize}
}
