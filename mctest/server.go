// Package mctest provides an in-process MELSEC 3E frame server for
// exercising MC clients against real TCP sockets. It emulates batch
// read/write of word and bit devices with per-device memory and can be
// forced to answer with a completion code for error-path tests.
package mctest

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

const (
	cmdBatchRead  uint16 = 0x0401
	cmdBatchWrite uint16 = 0x1401
	subcmdBit     uint16 = 0x0001
)

// Server is a minimal MC protocol endpoint listening on a loopback
// TCP port.
type Server struct {
	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	words    map[byte]map[uint32]uint16
	bits     map[byte]map[uint32]bool
	failCode uint16
	closed   bool
}

// NewServer starts a server on an ephemeral loopback port.
func NewServer() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:    ln,
		conns: make(map[net.Conn]struct{}),
		words: make(map[byte]map[uint32]uint16),
		bits:  make(map[byte]map[uint32]bool),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listen address, suitable for a client dial.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops the listener and drops any open connections.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.ln.Close()
	s.wg.Wait()
}

// FailWith makes every subsequent request answer with the given
// completion code. Zero restores normal operation.
func (s *Server) FailWith(code uint16) {
	s.mu.Lock()
	s.failCode = code
	s.mu.Unlock()
}

// SetWord seeds one device word.
func (s *Server) SetWord(deviceCode byte, offset uint32, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wordDevice(deviceCode)[offset] = value
}

// Word returns one device word.
func (s *Server) Word(deviceCode byte, offset uint32) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wordDevice(deviceCode)[offset]
}

// SetBit seeds one device bit.
func (s *Server) SetBit(deviceCode byte, offset uint32, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bitDevice(deviceCode)[offset] = value
}

// Bit returns one device bit.
func (s *Server) Bit(deviceCode byte, offset uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitDevice(deviceCode)[offset]
}

func (s *Server) wordDevice(code byte) map[uint32]uint16 {
	m, ok := s.words[code]
	if !ok {
		m = make(map[uint32]uint16)
		s.words[code] = m
	}
	return m
}

func (s *Server) bitDevice(code byte) map[uint32]bool {
	m, ok := s.bits[code]
	if !ok {
		m = make(map[uint32]bool)
		s.bits[code] = m
	}
	return m
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conn.Close()
			}()
			s.serve(conn)
		}()
	}
}

func (s *Server) serve(conn net.Conn) {
	for {
		req, err := readFrame(conn)
		if err != nil {
			return
		}
		resp, err := s.handle(req)
		if err != nil {
			return
		}
		if _, err := conn.Write(resp); err != nil {
			return
		}
	}
}

// readFrame reads one request: 9-byte header then the counted body.
func readFrame(conn net.Conn) ([]byte, error) {
	header := make([]byte, 9)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	if header[0] != 0x50 || header[1] != 0x00 {
		return nil, fmt.Errorf("bad request subheader % X", header[:2])
	}
	dataLen := int(binary.LittleEndian.Uint16(header[7:9]))
	body := make([]byte, dataLen)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, err
	}
	return body, nil
}

// handle interprets a request body (monitoring timer onward) and
// produces a full response frame.
func (s *Server) handle(body []byte) ([]byte, error) {
	if len(body) < 12 {
		return nil, fmt.Errorf("request body too short: %d", len(body))
	}

	command := binary.LittleEndian.Uint16(body[2:4])
	subcommand := binary.LittleEndian.Uint16(body[4:6])
	offset := uint32(body[6]) | uint32(body[7])<<8 | uint32(body[8])<<16
	deviceCode := body[9]
	count := int(binary.LittleEndian.Uint16(body[10:12]))
	payload := body[12:]

	s.mu.Lock()
	failCode := s.failCode
	s.mu.Unlock()
	if failCode != 0 {
		return respond(failCode, nil), nil
	}

	switch command {
	case cmdBatchRead:
		if subcommand == subcmdBit {
			return respond(0, s.readBits(deviceCode, offset, count)), nil
		}
		return respond(0, s.readWords(deviceCode, offset, count)), nil

	case cmdBatchWrite:
		if subcommand == subcmdBit {
			s.writeBits(deviceCode, offset, count, payload)
		} else {
			if len(payload) < count*2 {
				return respond(0xC058, nil), nil
			}
			s.writeWords(deviceCode, offset, count, payload)
		}
		return respond(0, nil), nil

	default:
		return respond(0xC059, nil), nil
	}
}

func (s *Server) readWords(code byte, offset uint32, count int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev := s.wordDevice(code)
	out := make([]byte, count*2)
	for i := 0; i < count; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], dev[offset+uint32(i)])
	}
	return out
}

func (s *Server) writeWords(code byte, offset uint32, count int, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev := s.wordDevice(code)
	for i := 0; i < count; i++ {
		dev[offset+uint32(i)] = binary.LittleEndian.Uint16(payload[i*2:])
	}
}

// readBits packs two points per byte, first point in the high nibble.
func (s *Server) readBits(code byte, offset uint32, count int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev := s.bitDevice(code)
	out := make([]byte, (count+1)/2)
	for i := 0; i < count; i++ {
		if !dev[offset+uint32(i)] {
			continue
		}
		if i%2 == 0 {
			out[i/2] |= 0x10
		} else {
			out[i/2] |= 0x01
		}
	}
	return out
}

func (s *Server) writeBits(code byte, offset uint32, count int, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev := s.bitDevice(code)
	for i := 0; i < count && i/2 < len(payload); i++ {
		b := payload[i/2]
		if i%2 == 0 {
			dev[offset+uint32(i)] = b&0x10 != 0
		} else {
			dev[offset+uint32(i)] = b&0x01 != 0
		}
	}
}

// respond builds a complete 3E response frame.
func respond(completionCode uint16, payload []byte) []byte {
	frame := make([]byte, 0, 11+len(payload))
	frame = append(frame, 0xD0, 0x00, 0x00, 0xFF, 0xFF, 0x03, 0x00)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(2+len(payload)))
	frame = binary.LittleEndian.AppendUint16(frame, completionCode)
	frame = append(frame, payload...)
	return frame
}
