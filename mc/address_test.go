package mc

import "testing"

func TestParseAddress(t *testing.T) {
	tests := []struct {
		input      string
		wantErr    bool
		wantDevice Device
		wantOffset uint32
	}{
		{"D1002", false, DeviceD, 1002},
		{"D0", false, DeviceD, 0},
		{"M100", false, DeviceM, 100},
		{"L20", false, DeviceL, 20},
		{"F5", false, DeviceF, 5},
		{"R32767", false, DeviceR, 32767},
		{"SM400", false, DeviceSM, 400},
		{"SD210", false, DeviceSD, 210},
		{"TN3", false, DeviceTN, 3},
		{"TS3", false, DeviceTS, 3},
		{"CN10", false, DeviceCN, 10},
		{"CS10", false, DeviceCS, 10},

		// Hex-numbered devices
		{"X1A0", false, DeviceX, 0x1A0},
		{"X10", false, DeviceX, 0x10},
		{"Y7F", false, DeviceY, 0x7F},
		{"B1FF", false, DeviceB, 0x1FF},
		{"W100", false, DeviceW, 0x100},
		{"ZR5A", false, DeviceZR, 0x5A},

		// Case and whitespace
		{"d1002", false, DeviceD, 1002},
		{" m0 ", false, DeviceM, 0},
		{"x0f", false, DeviceX, 0x0F},

		// Invalid
		{"", true, 0, 0},
		{"D", true, 0, 0},
		{"Q100", true, 0, 0},
		{"D12.5", true, 0, 0},
		{"DXYZ", true, 0, 0},
		{"M1A", true, 0, 0},
		{"D99999999", true, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			addr, err := ParseAddress(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", addr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if addr.Device != tt.wantDevice {
				t.Errorf("device: got %v, want %v", addr.Device, tt.wantDevice)
			}
			if addr.Offset != tt.wantOffset {
				t.Errorf("offset: got %d, want %d", addr.Offset, tt.wantOffset)
			}
		})
	}
}

func TestAddressString(t *testing.T) {
	tests := []struct {
		addr Address
		want string
	}{
		{Address{DeviceD, 1002}, "D1002"},
		{Address{DeviceX, 0x1A0}, "X1A0"},
		{Address{DeviceSM, 400}, "SM400"},
		{Address{DeviceZR, 0x5A}, "ZR5A"},
	}

	for _, tt := range tests {
		if got := tt.addr.String(); got != tt.want {
			t.Errorf("String(%v/%d): got %q, want %q", tt.addr.Device, tt.addr.Offset, got, tt.want)
		}
	}
}

func TestAddressRoundTrip(t *testing.T) {
	inputs := []string{"D1002", "M100", "SM400", "TN3", "W1F", "ZR5A", "X1A0"}
	for _, in := range inputs {
		addr, err := ParseAddress(in)
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", in, err)
		}
		back, err := ParseAddress(addr.String())
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", addr.String(), err)
		}
		if back != addr {
			t.Errorf("round trip %q: %+v != %+v", in, back, addr)
		}
	}
}

func TestDeviceMode(t *testing.T) {
	bitDevices := []Device{DeviceX, DeviceY, DeviceM, DeviceL, DeviceF, DeviceB, DeviceSM, DeviceTS, DeviceCS}
	for _, d := range bitDevices {
		if d.Mode() != ModeBit {
			t.Errorf("%v: expected bit mode", d)
		}
	}
	wordDevices := []Device{DeviceD, DeviceW, DeviceR, DeviceZR, DeviceSD, DeviceTN, DeviceCN}
	for _, d := range wordDevices {
		if d.Mode() != ModeWord {
			t.Errorf("%v: expected word mode", d)
		}
	}
}
