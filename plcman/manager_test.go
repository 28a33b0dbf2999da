package plcman

import (
	"testing"
	"time"

	"mclink/config"
	"mclink/mctest"
)

const deviceD = 0xA8

func testPLCConfig(name, address string) *config.PLCConfig {
	return &config.PLCConfig{
		Name:    name,
		Enabled: true,
		Family:  "mitsubishi",
		Address: address,
		Tags: []config.TagConfig{
			{Name: "temp", Address: "D100", DataType: "INT", Count: 1, Enabled: true, Writable: true},
			{Name: "serial", Address: "D200", DataType: "DINT", Count: 1, Enabled: true},
			{Name: "setpoint", Address: "D300", DataType: "INT", Count: 1, Enabled: false},
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestManagerPollAndChange(t *testing.T) {
	srv, err := mctest.NewServer()
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Close()
	srv.SetWord(deviceD, 100, 0x002A)
	srv.SetWord(deviceD, 200, 0x2345)
	srv.SetWord(deviceD, 201, 0x0001)

	mgr := NewManager(20 * time.Millisecond)
	defer mgr.Stop()

	changes := make(chan []ValueChange, 10)
	mgr.SetOnValueChange(func(c []ValueChange) {
		changes <- c
	})

	if err := mgr.AddPLC(testPLCConfig("press1", srv.Addr())); err != nil {
		t.Fatalf("AddPLC: %v", err)
	}
	mgr.Start()

	// The worker auto-connects because the PLC is enabled.
	waitFor(t, 3*time.Second, func() bool {
		return mgr.GetPLC("press1").GetStatus() == StatusConnected
	})

	var got []ValueChange
	select {
	case got = <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("no value changes delivered")
	}

	byName := map[string]ValueChange{}
	for _, c := range got {
		byName[c.TagName] = c
	}
	temp, ok := byName["temp"]
	if !ok {
		t.Fatal("no change for temp")
	}
	if temp.PLCName != "press1" {
		t.Errorf("PLCName = %q", temp.PLCName)
	}
	if temp.Value != int16(42) {
		t.Errorf("temp = %v (%T), want int16(42)", temp.Value, temp.Value)
	}
	if temp.TypeName != "INT" {
		t.Errorf("temp type = %q", temp.TypeName)
	}
	serial, ok := byName["serial"]
	if !ok {
		t.Fatal("no change for serial")
	}
	if serial.Value != int32(0x00012345) {
		t.Errorf("serial = %v, want 0x00012345", serial.Value)
	}
	if _, ok := byName["setpoint"]; ok {
		t.Error("disabled tag was polled")
	}

	// A changed word produces a second notification.
	srv.SetWord(deviceD, 100, 0x002B)
	waitFor(t, 3*time.Second, func() bool {
		select {
		case got = <-changes:
			for _, c := range got {
				if c.TagName == "temp" && c.Value == int16(43) {
					return true
				}
			}
		default:
		}
		return false
	})

	// Cached values are available for initial publishes.
	all := mgr.GetAllCurrentValues()
	found := false
	for _, c := range all {
		if c.PLCName == "press1" && c.TagName == "temp" {
			found = true
		}
	}
	if !found {
		t.Error("GetAllCurrentValues missing temp")
	}
}

func TestManagerReadWriteTag(t *testing.T) {
	srv, err := mctest.NewServer()
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Close()
	srv.SetWord(deviceD, 100, 0x0007)

	mgr := NewManager(20 * time.Millisecond)
	defer mgr.Stop()
	mgr.AddPLC(testPLCConfig("press1", srv.Addr()))
	mgr.Start()

	waitFor(t, 3*time.Second, func() bool {
		return mgr.GetPLC("press1").GetStatus() == StatusConnected
	})

	val, err := mgr.ReadTag("press1", "temp")
	if err != nil {
		t.Fatalf("ReadTag: %v", err)
	}
	if val == nil || val.Name != "temp" {
		t.Fatalf("ReadTag value = %+v", val)
	}
	if val.GoValue() != int16(7) {
		t.Errorf("temp = %v, want 7", val.GoValue())
	}

	if err := mgr.WriteTag("press1", "temp", 123); err != nil {
		t.Fatalf("WriteTag: %v", err)
	}
	if got := srv.Word(deviceD, 100); got != 123 {
		t.Errorf("server word = %d, want 123", got)
	}

	// serial is not marked writable
	if err := mgr.WriteTag("press1", "serial", 1); err == nil {
		t.Error("expected error writing read-only tag")
	}
	if err := mgr.WriteTag("press1", "nosuch", 1); err == nil {
		t.Error("expected error writing unknown tag")
	}
	if err := mgr.WriteTag("nosuch", "temp", 1); err == nil {
		t.Error("expected error writing to unknown PLC")
	}

	if typ := mgr.GetTagType("press1", "temp"); typ == 0 {
		t.Error("GetTagType returned 0 for cached tag")
	}
}

func TestManagerDisconnectAndRemove(t *testing.T) {
	srv, err := mctest.NewServer()
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer srv.Close()

	cfg := testPLCConfig("press1", srv.Addr())
	cfg.Enabled = false // no auto-reconnect

	mgr := NewManager(20 * time.Millisecond)
	defer mgr.Stop()
	mgr.AddPLC(cfg)
	mgr.Start()

	if err := mgr.Connect("press1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		return mgr.GetPLC("press1").GetStatus() == StatusConnected
	})

	plc := mgr.GetPLC("press1")
	if plc.GetConnectionMode() == "Not connected" {
		t.Error("connection mode should describe the link")
	}
	if info := plc.GetInfo(); info == nil || info.Vendor == "" {
		t.Errorf("device info = %+v", info)
	}

	if err := mgr.Disconnect("press1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if got := mgr.GetPLC("press1").GetStatus(); got != StatusDisconnected {
		t.Errorf("status after disconnect = %v", got)
	}

	if err := mgr.RemovePLC("press1"); err != nil {
		t.Fatalf("RemovePLC: %v", err)
	}
	if mgr.GetPLC("press1") != nil {
		t.Error("PLC still present after removal")
	}
	if len(mgr.ListPLCs()) != 0 {
		t.Errorf("ListPLCs = %d entries", len(mgr.ListPLCs()))
	}
}

func TestManagerLoadFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.PLCs = []config.PLCConfig{
		{Name: "a", Address: "10.0.0.1"},
		{Name: "b", Address: "10.0.0.2"},
	}

	mgr := NewManager(time.Second)
	mgr.LoadFromConfig(cfg)

	if len(mgr.ListPLCs()) != 2 {
		t.Fatalf("expected 2 PLCs, got %d", len(mgr.ListPLCs()))
	}
	if mgr.GetPLC("a") == nil || mgr.GetPLC("b") == nil {
		t.Error("named PLCs missing")
	}
}

func TestConnectionStatusString(t *testing.T) {
	cases := map[ConnectionStatus]string{
		StatusDisconnected: "Disconnected",
		StatusConnecting:   "Connecting",
		StatusConnected:    "Connected",
		StatusError:        "Error",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", status, got, want)
		}
	}
}
