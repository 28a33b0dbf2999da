package mc

import "encoding/binary"

// request describes one 3E frame exchange before encoding.
type request struct {
	command    uint16
	subcommand uint16
	deviceCode byte
	offset     uint32 // 24-bit head device number
	count      uint16
	payload    []byte // write data, nil for reads
}

// buildRequest encodes a request into a complete 3E frame. The data
// length field counts everything after itself: monitoring timer,
// command, subcommand, device spec and payload.
func buildRequest(r request) []byte {
	dataLen := reqFixedDataLen + len(r.payload)
	frame := make([]byte, 0, headerLen+2+dataLen)

	frame = append(frame,
		subheaderReqLo, subheaderReqHi,
		networkNo, pcNo,
		moduleIOLo, moduleIOHi,
		stationNo,
	)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(dataLen))
	frame = binary.LittleEndian.AppendUint16(frame, monitorTimer)
	frame = binary.LittleEndian.AppendUint16(frame, r.command)
	frame = binary.LittleEndian.AppendUint16(frame, r.subcommand)

	// Head device number (3 bytes) followed by the device code.
	frame = append(frame,
		byte(r.offset),
		byte(r.offset>>8),
		byte(r.offset>>16),
		r.deviceCode,
	)
	frame = binary.LittleEndian.AppendUint16(frame, r.count)
	frame = append(frame, r.payload...)

	return frame
}

// parseResponse validates a complete 3E response frame and returns its
// data payload. A nonzero completion code becomes a PLCError and the
// payload is discarded.
func parseResponse(frame []byte) ([]byte, error) {
	if len(frame) < respHeaderLen+2 {
		return nil, FrameError{Reason: frameTooShort, Want: respHeaderLen + 2, Got: len(frame)}
	}
	if frame[0] != subheaderRespLo || frame[1] != subheaderRespHi {
		return nil, FrameError{Reason: frameBadSubheader}
	}

	// Length counts the completion code plus payload.
	dataLen := int(binary.LittleEndian.Uint16(frame[7:9]))
	if dataLen < 2 {
		return nil, FrameError{Reason: frameTooShort, Want: 2, Got: dataLen}
	}
	if len(frame) != respHeaderLen+dataLen {
		return nil, FrameError{Reason: frameLengthMismatch, Want: respHeaderLen + dataLen, Got: len(frame)}
	}

	code := binary.LittleEndian.Uint16(frame[9:11])
	if code != 0 {
		return nil, PLCError{Code: code}
	}

	payload := make([]byte, dataLen-2)
	copy(payload, frame[11:])
	return payload, nil
}
