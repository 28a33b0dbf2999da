package mc

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"mclink/logging"
)

// Client talks the MC protocol to one PLC. All operations are
// serialized on an internal mutex, so a single Client is safe for
// concurrent use; the PLC itself answers one frame at a time.
type Client struct {
	mu        sync.Mutex
	tr        Transport
	address   string
	profile   *Profile
	timeout   time.Duration
	connected bool
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithTimeout sets the per-exchange deadline (default 2s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithProfile selects the PLC model profile (default MitsubishiQ).
func WithProfile(p *Profile) Option {
	return func(c *Client) {
		if p != nil {
			c.profile = p
		}
	}
}

// Connect dials a PLC over TCP. The address may omit the port, in
// which case DefaultPort is used.
func Connect(address string, opts ...Option) (*Client, error) {
	c := &Client{
		address: address,
		profile: MitsubishiQ,
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	logging.DebugConnect("mc", c.address)
	tr, resolved, err := dialTransport(c.address, c.timeout)
	if err != nil {
		logging.DebugConnectError("mc", c.address, err)
		return nil, err
	}
	c.address = resolved
	c.tr = tr
	c.connected = true
	logging.DebugConnectSuccess("mc", c.address, c.profile.Name())
	return c, nil
}

// NewClient wraps an existing transport. Used by tests and by callers
// that manage their own connections.
func NewClient(tr Transport, opts ...Option) *Client {
	c := &Client{
		tr:        tr,
		profile:   MitsubishiQ,
		timeout:   2 * time.Second,
		connected: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close shuts down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.tr == nil {
		return nil
	}
	return c.tr.Close()
}

// IsConnected reports whether the last exchange left the connection
// usable.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetDisconnected marks the client as disconnected, forcing the next
// Reconnect to dial fresh.
func (c *Client) SetDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

// Reconnect closes any existing connection and dials again.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tr != nil {
		c.tr.Close()
		c.tr = nil
	}
	c.connected = false

	if c.address == "" {
		return fmt.Errorf("no address to reconnect to")
	}
	tr, resolved, err := dialTransport(c.address, c.timeout)
	if err != nil {
		return err
	}
	c.address = resolved
	c.tr = tr
	c.connected = true
	return nil
}

// ConnectionMode describes the transport for display.
func (c *Client) ConnectionMode() string {
	return fmt.Sprintf("MC 3E binary/TCP (%s, %s)", c.profile.Name(), c.address)
}

// Profile returns the active model profile.
func (c *Client) Profile() *Profile {
	return c.profile
}

// resolve normalizes a textual address through the model profile and
// returns its wire parameters.
func (c *Client) resolve(addr string) (Address, byte, error) {
	canonical, err := c.profile.Normalize(addr)
	if err != nil {
		return Address{}, 0, err
	}
	parsed, err := ParseAddress(canonical)
	if err != nil {
		return Address{}, 0, err
	}
	code, err := c.profile.DeviceCode(parsed.Device)
	if err != nil {
		return Address{}, 0, err
	}
	return parsed, code, nil
}

// exchange performs one framed request/response under the client lock.
func (c *Client) exchange(req request) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tr == nil || !c.connected {
		return nil, fmt.Errorf("not connected")
	}

	if err := c.tr.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		c.connected = false
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	frame := buildRequest(req)
	logging.DebugTX("mc", frame)
	if err := c.tr.Send(frame); err != nil {
		c.connected = false
		return nil, fmt.Errorf("send: %w", err)
	}

	header, err := c.tr.Receive(respHeaderLen)
	if err != nil {
		c.connected = false
		return nil, fmt.Errorf("receive header: %w", err)
	}
	dataLen := int(binary.LittleEndian.Uint16(header[7:9]))
	if dataLen < 2 {
		c.connected = false
		return nil, FrameError{Reason: frameTooShort, Want: 2, Got: dataLen}
	}
	rest, err := c.tr.Receive(dataLen)
	if err != nil {
		c.connected = false
		return nil, fmt.Errorf("receive body: %w", err)
	}

	full := append(header, rest...)
	logging.DebugRX("mc", full)
	return parseResponse(full)
}

// readWords reads points consecutive device words, splitting requests
// that exceed the per-frame limit.
func (c *Client) readWords(addr string, points int) ([]uint16, error) {
	if points <= 0 {
		return nil, CountMismatchError{Want: 1, Got: points}
	}
	parsed, code, err := c.resolve(addr)
	if err != nil {
		return nil, err
	}

	words := make([]uint16, 0, points)
	offset := parsed.Offset
	for remaining := points; remaining > 0; {
		n := remaining
		if n > MaxPointsPerFrame {
			n = MaxPointsPerFrame
		}
		payload, err := c.exchange(request{
			command:    cmdBatchRead,
			subcommand: subcmdWord,
			deviceCode: code,
			offset:     offset,
			count:      uint16(n),
		})
		if err != nil {
			return nil, err
		}
		if len(payload) != n*2 {
			return nil, FrameError{Reason: frameLengthMismatch, Want: n * 2, Got: len(payload)}
		}
		words = append(words, BytesToWords(payload)...)
		offset += uint32(n)
		remaining -= n
	}
	return words, nil
}

// writeWords writes consecutive device words with the same splitting.
func (c *Client) writeWords(addr string, words []uint16) error {
	if len(words) == 0 {
		return CountMismatchError{Want: 1, Got: 0}
	}
	parsed, code, err := c.resolve(addr)
	if err != nil {
		return err
	}

	offset := parsed.Offset
	for len(words) > 0 {
		n := len(words)
		if n > MaxPointsPerFrame {
			n = MaxPointsPerFrame
		}
		_, err := c.exchange(request{
			command:    cmdBatchWrite,
			subcommand: subcmdWord,
			deviceCode: code,
			offset:     offset,
			count:      uint16(n),
			payload:    WordsToBytes(words[:n]),
		})
		if err != nil {
			return err
		}
		words = words[n:]
		offset += uint32(n)
	}
	return nil
}

// ReadBools reads points boolean values. Bit devices use bit access
// with nibble-packed payloads; word devices are read as words and
// expanded least significant bit first.
func (c *Client) ReadBools(addr string, points int) ([]bool, error) {
	if points <= 0 {
		return nil, CountMismatchError{Want: 1, Got: points}
	}
	parsed, code, err := c.resolve(addr)
	if err != nil {
		return nil, err
	}

	if parsed.Device.Mode() == ModeWord {
		words, err := c.readWords(addr, (points+15)/16)
		if err != nil {
			return nil, err
		}
		return DecodeWordBools(words, points)
	}

	bits := make([]bool, 0, points)
	offset := parsed.Offset
	for remaining := points; remaining > 0; {
		n := remaining
		if n > MaxPointsPerFrame {
			n = MaxPointsPerFrame
		}
		payload, err := c.exchange(request{
			command:    cmdBatchRead,
			subcommand: subcmdBit,
			deviceCode: code,
			offset:     offset,
			count:      uint16(n),
		})
		if err != nil {
			return nil, err
		}
		chunk, err := UnpackBits(payload, n)
		if err != nil {
			return nil, err
		}
		bits = append(bits, chunk...)
		offset += uint32(n)
		remaining -= n
	}
	return bits, nil
}

// WriteBools writes boolean values to a bit device.
func (c *Client) WriteBools(addr string, values []bool) error {
	if len(values) == 0 {
		return CountMismatchError{Want: 1, Got: 0}
	}
	parsed, code, err := c.resolve(addr)
	if err != nil {
		return err
	}
	if parsed.Device.Mode() != ModeBit {
		return InvalidAddressError{Address: addr, Reason: "bit write requires a bit device"}
	}

	offset := parsed.Offset
	for len(values) > 0 {
		n := len(values)
		if n > MaxPointsPerFrame {
			n = MaxPointsPerFrame
		}
		_, err := c.exchange(request{
			command:    cmdBatchWrite,
			subcommand: subcmdBit,
			deviceCode: code,
			offset:     offset,
			count:      uint16(n),
			payload:    PackBits(values[:n]),
		})
		if err != nil {
			return err
		}
		values = values[n:]
		offset += uint32(n)
	}
	return nil
}

// ReadWords reads points raw device words.
func (c *Client) ReadWords(addr string, points int) ([]uint16, error) {
	return c.readWords(addr, points)
}

// WriteWords writes raw device words.
func (c *Client) WriteWords(addr string, words []uint16) error {
	return c.writeWords(addr, words)
}

// ReadUint8s reads count bytes from the word stream.
func (c *Client) ReadUint8s(addr string, count int) ([]uint8, error) {
	words, err := c.readWords(addr, (count+1)/2)
	if err != nil {
		return nil, err
	}
	return DecodeUint8s(words, count)
}

// WriteUint8s writes bytes, padding an odd tail into a full word.
func (c *Client) WriteUint8s(addr string, values []uint8) error {
	return c.writeWords(addr, EncodeUint8s(values))
}

// ReadUint16s reads count unsigned words.
func (c *Client) ReadUint16s(addr string, count int) ([]uint16, error) {
	words, err := c.readWords(addr, count)
	if err != nil {
		return nil, err
	}
	return DecodeUint16s(words, count)
}

// WriteUint16s writes unsigned words.
func (c *Client) WriteUint16s(addr string, values []uint16) error {
	return c.writeWords(addr, EncodeUint16s(values))
}

// ReadInt16s reads count signed words.
func (c *Client) ReadInt16s(addr string, count int) ([]int16, error) {
	words, err := c.readWords(addr, count)
	if err != nil {
		return nil, err
	}
	return DecodeInt16s(words, count)
}

// WriteInt16s writes signed words.
func (c *Client) WriteInt16s(addr string, values []int16) error {
	return c.writeWords(addr, EncodeInt16s(values))
}

// ReadUint32s reads count 32-bit values, two words each.
func (c *Client) ReadUint32s(addr string, count int) ([]uint32, error) {
	words, err := c.readWords(addr, count*2)
	if err != nil {
		return nil, err
	}
	return DecodeUint32s(words, count)
}

// WriteUint32s writes 32-bit values low word first.
func (c *Client) WriteUint32s(addr string, values []uint32) error {
	return c.writeWords(addr, EncodeUint32s(values))
}

// ReadInt32s reads count signed 32-bit values.
func (c *Client) ReadInt32s(addr string, count int) ([]int32, error) {
	words, err := c.readWords(addr, count*2)
	if err != nil {
		return nil, err
	}
	return DecodeInt32s(words, count)
}

// WriteInt32s writes signed 32-bit values.
func (c *Client) WriteInt32s(addr string, values []int32) error {
	return c.writeWords(addr, EncodeInt32s(values))
}

// ReadFloat32s reads count IEEE 754 single floats.
func (c *Client) ReadFloat32s(addr string, count int) ([]float32, error) {
	words, err := c.readWords(addr, count*2)
	if err != nil {
		return nil, err
	}
	return DecodeFloat32s(words, count)
}

// WriteFloat32s writes IEEE 754 single floats.
func (c *Client) WriteFloat32s(addr string, values []float32) error {
	return c.writeWords(addr, EncodeFloat32s(values))
}

// ReadUint64s reads count 64-bit values, four words each.
func (c *Client) ReadUint64s(addr string, count int) ([]uint64, error) {
	words, err := c.readWords(addr, count*4)
	if err != nil {
		return nil, err
	}
	return DecodeUint64s(words, count)
}

// WriteUint64s writes 64-bit values low word first.
func (c *Client) WriteUint64s(addr string, values []uint64) error {
	return c.writeWords(addr, EncodeUint64s(values))
}

// ReadInt64s reads count signed 64-bit values.
func (c *Client) ReadInt64s(addr string, count int) ([]int64, error) {
	words, err := c.readWords(addr, count*4)
	if err != nil {
		return nil, err
	}
	return DecodeInt64s(words, count)
}

// WriteInt64s writes signed 64-bit values.
func (c *Client) WriteInt64s(addr string, values []int64) error {
	return c.writeWords(addr, EncodeInt64s(values))
}

// ReadFloat64s reads count IEEE 754 doubles.
func (c *Client) ReadFloat64s(addr string, count int) ([]float64, error) {
	words, err := c.readWords(addr, count*4)
	if err != nil {
		return nil, err
	}
	return DecodeFloat64s(words, count)
}

// WriteFloat64s writes IEEE 754 doubles.
func (c *Client) WriteFloat64s(addr string, values []float64) error {
	return c.writeWords(addr, EncodeFloat64s(values))
}

// ReadString reads wordLen words and recovers the text up to the first
// NUL or non-printable byte.
func (c *Client) ReadString(addr string, wordLen int) (string, error) {
	words, err := c.readWords(addr, wordLen)
	if err != nil {
		return "", err
	}
	return RecoverString(WordsToBytes(words)), nil
}

// WriteString writes a NUL-terminated string, two characters per word.
func (c *Client) WriteString(addr string, s string) error {
	return c.writeWords(addr, EncodeString(s))
}
