package driver

import (
	"testing"

	"mclink/config"
	"mclink/mctest"
)

func startAdapter(t *testing.T, family config.PLCFamily) (*mctest.Server, *MelsecAdapter) {
	t.Helper()
	srv, err := mctest.NewServer()
	if err != nil {
		t.Fatalf("start server: %v", err)
	}

	cfg := &config.PLCConfig{
		Name:    "test",
		Family:  family,
		Address: srv.Addr(),
	}
	adapter, err := NewMelsecAdapter(cfg)
	if err != nil {
		srv.Close()
		t.Fatalf("new adapter: %v", err)
	}
	if err := adapter.Connect(); err != nil {
		srv.Close()
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		adapter.Close()
		srv.Close()
	})
	return srv, adapter
}

func TestMelsecAdapterReadWrite(t *testing.T) {
	srv, adapter := startAdapter(t, config.FamilyMitsubishi)
	srv.SetWord(0xA8, 100, 0xFFFB) // -5 as INT

	values, err := adapter.Read([]TagRequest{
		{Name: "D100", TypeHint: "INT"},
		{Name: "M0", TypeHint: "BOOL"},
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("got %d values", len(values))
	}
	if values[0].Error != nil || values[0].Value != int16(-5) {
		t.Errorf("D100: got %v (%v)", values[0].Value, values[0].Error)
	}
	if values[1].Error != nil || values[1].Value != false {
		t.Errorf("M0: got %v (%v)", values[1].Value, values[1].Error)
	}

	if err := adapter.Write("D100", float64(7), "INT"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := srv.Word(0xA8, 100); got != 7 {
		t.Errorf("D100 after write: got %d", got)
	}
}

func TestMelsecAdapterKeyenceFamily(t *testing.T) {
	srv, adapter := startAdapter(t, config.FamilyKeyence)
	srv.SetWord(0xA8, 1002, 55)

	values, err := adapter.Read([]TagRequest{{Name: "DM1002", TypeHint: "WORD"}})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if values[0].Error != nil || values[0].Value != uint16(55) {
		t.Errorf("DM1002: got %v (%v)", values[0].Value, values[0].Error)
	}

	if adapter.Family() != config.FamilyKeyence {
		t.Errorf("family: got %q", adapter.Family())
	}
	info, err := adapter.GetDeviceInfo()
	if err != nil || info.Vendor != "Keyence" {
		t.Errorf("device info: %+v, %v", info, err)
	}
}

func TestCreateRegistry(t *testing.T) {
	d, err := Create(&config.PLCConfig{Name: "x", Family: config.FamilyMitsubishi, Address: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := d.(*MelsecAdapter); !ok {
		t.Errorf("got %T", d)
	}

	if _, err := Create(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestMelsecAdapterNotConnected(t *testing.T) {
	adapter, err := NewMelsecAdapter(&config.PLCConfig{Name: "x", Address: "10.0.0.1"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if adapter.IsConnected() {
		t.Error("should not report connected before Connect")
	}
	if _, err := adapter.Read([]TagRequest{{Name: "D0"}}); err == nil {
		t.Error("expected error reading while disconnected")
	}
	if err := adapter.Write("D0", 1, "WORD"); err == nil {
		t.Error("expected error writing while disconnected")
	}
	if adapter.ConnectionMode() != "Not connected" {
		t.Errorf("mode: got %q", adapter.ConnectionMode())
	}
}
