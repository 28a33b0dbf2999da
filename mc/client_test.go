package mc

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"mclink/mctest"
)

func startTestPair(t *testing.T, opts ...Option) (*mctest.Server, *Client) {
	t.Helper()
	srv, err := mctest.NewServer()
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	client, err := Connect(srv.Addr(), append([]Option{WithTimeout(2 * time.Second)}, opts...)...)
	if err != nil {
		srv.Close()
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		srv.Close()
	})
	return srv, client
}

func TestClientReadWords(t *testing.T) {
	srv, client := startTestPair(t)
	srv.SetWord(0xA8, 1002, 42)
	srv.SetWord(0xA8, 1003, 1)

	words, err := client.ReadUint16s("D1002", 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(words, []uint16{42, 1}) {
		t.Errorf("got %v, want [42 1]", words)
	}
}

func TestClientWriteWords(t *testing.T) {
	srv, client := startTestPair(t)

	if err := client.WriteUint16s("D100", []uint16{10, 20, 30}); err != nil {
		t.Fatalf("write: %v", err)
	}
	for i, want := range []uint16{10, 20, 30} {
		if got := srv.Word(0xA8, uint32(100+i)); got != want {
			t.Errorf("D%d: got %d, want %d", 100+i, got, want)
		}
	}
}

func TestClientTypedRoundTrip(t *testing.T) {
	_, client := startTestPair(t)

	if err := client.WriteInt32s("D0", []int32{-5, 123456}); err != nil {
		t.Fatalf("write int32: %v", err)
	}
	i32, err := client.ReadInt32s("D0", 2)
	if err != nil {
		t.Fatalf("read int32: %v", err)
	}
	if !reflect.DeepEqual(i32, []int32{-5, 123456}) {
		t.Errorf("int32: got %v", i32)
	}

	if err := client.WriteFloat32s("D10", []float32{3.5}); err != nil {
		t.Fatalf("write float32: %v", err)
	}
	f32, err := client.ReadFloat32s("D10", 1)
	if err != nil {
		t.Fatalf("read float32: %v", err)
	}
	if f32[0] != 3.5 {
		t.Errorf("float32: got %v", f32[0])
	}

	if err := client.WriteFloat64s("D20", []float64{-2.25}); err != nil {
		t.Fatalf("write float64: %v", err)
	}
	f64, err := client.ReadFloat64s("D20", 1)
	if err != nil {
		t.Fatalf("read float64: %v", err)
	}
	if f64[0] != -2.25 {
		t.Errorf("float64: got %v", f64[0])
	}

	if err := client.WriteUint64s("D30", []uint64{0x0123456789ABCDEF}); err != nil {
		t.Fatalf("write uint64: %v", err)
	}
	u64, err := client.ReadUint64s("D30", 1)
	if err != nil {
		t.Fatalf("read uint64: %v", err)
	}
	if u64[0] != 0x0123456789ABCDEF {
		t.Errorf("uint64: got 0x%016X", u64[0])
	}

	if err := client.WriteString("D40", "HELLO"); err != nil {
		t.Fatalf("write string: %v", err)
	}
	s, err := client.ReadString("D40", 5)
	if err != nil {
		t.Fatalf("read string: %v", err)
	}
	if s != "HELLO" {
		t.Errorf("string: got %q", s)
	}
}

func TestClientUint8s(t *testing.T) {
	_, client := startTestPair(t)

	if err := client.WriteUint8s("D0", []uint8{1, 2, 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := client.ReadUint8s("D0", 3)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, []uint8{1, 2, 3}) {
		t.Errorf("got %v", got)
	}
}

func TestClientBits(t *testing.T) {
	srv, client := startTestPair(t)

	if err := client.WriteBools("M0", []bool{true, false, true}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !srv.Bit(0x90, 0) || srv.Bit(0x90, 1) || !srv.Bit(0x90, 2) {
		t.Error("server bits not written")
	}

	srv.SetBit(0x90, 3, true)
	got, err := client.ReadBools("M0", 4)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, []bool{true, false, true, true}) {
		t.Errorf("got %v", got)
	}
}

func TestClientBoolsFromWordDevice(t *testing.T) {
	srv, client := startTestPair(t)
	srv.SetWord(0xA8, 0, 0x0005)

	got, err := client.ReadBools("D0", 3)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, []bool{true, false, true}) {
		t.Errorf("got %v", got)
	}
}

func TestClientBitWriteToWordDeviceFails(t *testing.T) {
	_, client := startTestPair(t)
	if err := client.WriteBools("D0", []bool{true}); err == nil {
		t.Error("expected error writing bits to a word device")
	}
}

func TestClientSplitsLargeRequests(t *testing.T) {
	srv, client := startTestPair(t)
	// Spans three frames at 960 points each.
	srv.SetWord(0xA8, 0, 7)
	srv.SetWord(0xA8, 960, 8)
	srv.SetWord(0xA8, 1999, 9)

	words, err := client.ReadUint16s("D0", 2000)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(words) != 2000 {
		t.Fatalf("got %d words", len(words))
	}
	if words[0] != 7 || words[960] != 8 || words[1999] != 9 {
		t.Errorf("split read: got %d %d %d", words[0], words[960], words[1999])
	}

	// Large write splits the same way.
	out := make([]uint16, 2000)
	out[0], out[960], out[1999] = 17, 18, 19
	if err := client.WriteUint16s("D3000", out); err != nil {
		t.Fatalf("write: %v", err)
	}
	if srv.Word(0xA8, 3000) != 17 || srv.Word(0xA8, 3960) != 18 || srv.Word(0xA8, 4999) != 19 {
		t.Error("split write landed wrong")
	}
}

func TestClientSplitsLargeBitRequests(t *testing.T) {
	srv, client := startTestPair(t)
	srv.SetBit(0x90, 0, true)
	srv.SetBit(0x90, 1500, true)

	bits, err := client.ReadBools("M0", 2000)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bits[0] || !bits[1500] || bits[1999] {
		t.Error("split bit read wrong")
	}
}

func TestClientPLCError(t *testing.T) {
	srv, client := startTestPair(t)
	srv.FailWith(0x4031)

	_, err := client.ReadUint16s("D0", 1)
	var plcErr PLCError
	if !errors.As(err, &plcErr) {
		t.Fatalf("expected PLCError, got %v", err)
	}
	if plcErr.Code != 0x4031 {
		t.Errorf("code: got 0x%04X", plcErr.Code)
	}

	// A protocol-level error keeps the connection usable.
	if !client.IsConnected() {
		t.Error("client should remain connected after a completion code")
	}
	srv.FailWith(0)
	if _, err := client.ReadUint16s("D0", 1); err != nil {
		t.Errorf("recovery read: %v", err)
	}
}

func TestClientKeyenceAddresses(t *testing.T) {
	srv, client := startTestPair(t, WithProfile(Keyence))
	srv.SetWord(0xA8, 1002, 77)

	words, err := client.ReadUint16s("DM1002", 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if words[0] != 77 {
		t.Errorf("got %d, want 77", words[0])
	}

	// R100 maps to X10.
	srv.SetBit(0x9C, 0x10, true)
	bits, err := client.ReadBools("R100", 1)
	if err != nil {
		t.Fatalf("read bits: %v", err)
	}
	if !bits[0] {
		t.Error("R100 should map to X10")
	}
}

func TestClientInvalidAddress(t *testing.T) {
	_, client := startTestPair(t)
	_, err := client.ReadUint16s("Q100", 1)
	var addrErr InvalidAddressError
	if !errors.As(err, &addrErr) {
		t.Fatalf("expected InvalidAddressError, got %v", err)
	}
}

func TestClientReadTags(t *testing.T) {
	srv, client := startTestPair(t)
	srv.SetWord(0xA8, 0, 0xFFFB) // -5 as INT
	srv.SetWord(0xA8, 10, 0x2345)
	srv.SetWord(0xA8, 11, 0x0001)
	srv.SetBit(0x90, 5, true)

	values, err := client.ReadTags([]TagRequest{
		{Name: "D0", TypeHint: "INT"},
		{Name: "D10", TypeHint: "DINT"},
		{Name: "M5", TypeHint: "BOOL"},
		{Name: "bogus", TypeHint: "INT"},
	})
	if err != nil {
		t.Fatalf("ReadTags: %v", err)
	}
	if len(values) != 4 {
		t.Fatalf("got %d values", len(values))
	}

	if got := values[0].GoValue(); got != int16(-5) {
		t.Errorf("D0: got %v (%T)", got, got)
	}
	if got := values[1].GoValue(); got != int32(0x00012345) {
		t.Errorf("D10: got %v (%T)", got, got)
	}
	if got := values[2].GoValue(); got != true {
		t.Errorf("M5: got %v", got)
	}
	if values[3].Error == nil {
		t.Error("bogus address should carry a per-tag error")
	}
}

func TestClientWriteTag(t *testing.T) {
	srv, client := startTestPair(t)

	if err := client.WriteTag("D0", float64(-7), "INT"); err != nil {
		t.Fatalf("write INT: %v", err)
	}
	if got := srv.Word(0xA8, 0); got != 0xFFF9 {
		t.Errorf("D0: got 0x%04X", got)
	}

	if err := client.WriteTag("M0", true, "BOOL"); err != nil {
		t.Fatalf("write BOOL: %v", err)
	}
	if !srv.Bit(0x90, 0) {
		t.Error("M0 not set")
	}

	if err := client.WriteTag("D100", []interface{}{1.0, 2.0}, "DINT"); err != nil {
		t.Fatalf("write DINT array: %v", err)
	}
	if srv.Word(0xA8, 100) != 1 || srv.Word(0xA8, 102) != 2 {
		t.Error("DINT array landed wrong")
	}
}

func TestClientReconnect(t *testing.T) {
	srv, client := startTestPair(t)
	srv.SetWord(0xA8, 0, 5)

	client.SetDisconnected()
	if _, err := client.ReadUint16s("D0", 1); err == nil {
		t.Fatal("expected error while disconnected")
	}
	if err := client.Reconnect(); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	words, err := client.ReadUint16s("D0", 1)
	if err != nil {
		t.Fatalf("read after reconnect: %v", err)
	}
	if words[0] != 5 {
		t.Errorf("got %d, want 5", words[0])
	}
}

// scriptTransport feeds canned response bytes for codec error paths.
type scriptTransport struct {
	response []byte
	pos      int
}

func (t *scriptTransport) Send(p []byte) error { return nil }

func (t *scriptTransport) Receive(n int) ([]byte, error) {
	if t.pos+n > len(t.response) {
		return nil, errors.New("short read")
	}
	out := t.response[t.pos : t.pos+n]
	t.pos += n
	return out, nil
}

func (t *scriptTransport) SetDeadline(time.Time) error { return nil }
func (t *scriptTransport) Close() error                { return nil }

func TestClientRejectsBadSubheader(t *testing.T) {
	tr := &scriptTransport{response: []byte{
		0x51, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, 0x02, 0x00, 0x00, 0x00,
	}}
	client := NewClient(tr)

	_, err := client.ReadUint16s("D0", 1)
	var fe FrameError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FrameError, got %v", err)
	}
}

func TestClientRejectsTruncatedResponse(t *testing.T) {
	tr := &scriptTransport{response: []byte{
		0xD0, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00, 0x06, 0x00, 0x00, 0x00,
	}}
	client := NewClient(tr)

	if _, err := client.ReadUint16s("D0", 1); err == nil {
		t.Fatal("expected error for truncated body")
	}
	if client.IsConnected() {
		t.Error("transport failure should disconnect the client")
	}
}
