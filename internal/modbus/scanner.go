// internal/modbus/scanner.go
package modbus

import "encoding/binary"

// Function codes
const (
	FuncReadCoils                 byte = 0x01
	FuncReadDiscreteInputs        byte = 0x02
	FuncReadHoldingRegisters      byte = 0x03
	FuncReadInputRegisters        byte = 0x04
	FuncWriteSingleCoil           byte = 0x05
	FuncWriteSingleRegister       byte = 0x06
	FuncWriteMultipleCoils        byte = 0x0F
	FuncWriteMultipleRegisters    byte = 0x10
	FuncReportServerID            byte = 0x11
	FuncReadDeviceIdentification  byte = 0x2B
	exceptionFlag                 byte = 0x80
	deviceIdentificationCountByte      = 7
)

const (
	exceptionLength  = 5
	minDataLength    = 6
	minRequestLength = 4
	maxBufferLength  = 256
	crcLength        = 2
)

// deviceIdRemap(0x51→0x81): one secondary device on the installation
// answers with unit id 0x51 while it is addressed as 0x81. Only this pair
// is rewritten.
const (
	remapAdvertisedID byte = 0x51
	remapExpectedID   byte = 0x81
)

// LengthRule selects how the response length is determined.
type LengthRule uint8

const (
	// LengthFixed uses Expectation.Length; zero means undetermined.
	LengthFixed LengthRule = iota
	// LengthServerID reads the content length from byte 2 (FC 17).
	LengthServerID
	// LengthDeviceID walks the object list (FC 43).
	LengthDeviceID
)

// Expectation describes the response awaited for an outstanding request.
type Expectation struct {
	UnitID       byte
	FunctionCode byte
	Rule         LengthRule
	Length       int
}

// ExpectationFor derives the expected response from a written request.
// Requests shorter than four bytes are not tracked.
func ExpectationFor(request []byte) (Expectation, bool) {
	if len(request) < minRequestLength {
		return Expectation{}, false
	}

	exp := Expectation{UnitID: request[0], FunctionCode: request[1]}
	switch exp.FunctionCode {
	case FuncReadCoils, FuncReadDiscreteInputs:
		exp.Length = 3 + (requestQuantity(request)+7)/8 + crcLength
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		exp.Length = 3 + 2*requestQuantity(request) + crcLength
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		exp.Length = 6 + crcLength
	case FuncReportServerID:
		exp.Rule = LengthServerID
	case FuncReadDeviceIdentification:
		exp.Rule = LengthDeviceID
	}
	return exp, true
}

func requestQuantity(request []byte) int {
	if len(request) < 6 {
		return 0
	}
	return int(binary.BigEndian.Uint16(request[4:6]))
}

// ScanResult is the outcome of one scan. Frame is nil when no complete
// response is present; Incomplete is set when a matching header was found
// but more bytes are required. Consumed counts the bytes up to and
// including the frame.
type ScanResult struct {
	Frame      []byte
	Consumed   int
	Incomplete bool
}

// Scan looks for a complete response to exp inside buf. It never blocks
// and never retains buf.
func Scan(buf []byte, exp Expectation) ScanResult {
	if (exp.Rule == LengthFixed && exp.Length < minDataLength) || len(buf) < exceptionLength {
		return ScanResult{}
	}

	for i := 0; i <= len(buf)-exceptionLength; i++ {
		unitID, fc := buf[i], buf[i+1]

		if unitID == remapAdvertisedID && exp.UnitID == remapExpectedID && fc == exp.FunctionCode {
			if exp.Rule != LengthFixed || i+exp.Length > len(buf) {
				return ScanResult{Incomplete: true}
			}
			return ScanResult{
				Frame:    remapUnitID(buf[i:i+exp.Length], exp.UnitID),
				Consumed: i + exp.Length,
			}
		}

		if unitID != exp.UnitID {
			continue
		}

		switch {
		case fc == exp.FunctionCode && exp.Rule == LengthDeviceID:
			if n, ok := deviceIdentificationLength(buf, i); ok {
				return emit(buf, i, n)
			}
		case fc == exp.FunctionCode && exp.Rule == LengthServerID:
			if n := int(buf[i+2]) + 5; i+n <= len(buf) {
				return emit(buf, i, n)
			}
		default:
			if fc == exp.FunctionCode && i+exp.Length <= len(buf) {
				return emit(buf, i, exp.Length)
			}
			if fc == exceptionFlag|exp.FunctionCode && i+exceptionLength <= len(buf) {
				return emit(buf, i, exceptionLength)
			}
		}

		// header matched, rest of the frame still in flight
		if fc == 0x7F&exp.FunctionCode {
			return ScanResult{Incomplete: true}
		}
	}

	return ScanResult{}
}

func emit(buf []byte, start, length int) ScanResult {
	frame := make([]byte, length)
	copy(frame, buf[start:start+length])
	return ScanResult{Frame: frame, Consumed: start + length}
}

func remapUnitID(src []byte, unitID byte) []byte {
	frame := make([]byte, len(src))
	copy(frame, src)
	frame[0] = unitID
	n := len(frame) - crcLength
	crc := CRC16(frame[:n])
	frame[n] = byte(crc)
	frame[n+1] = byte(crc >> 8)
	return frame
}

// deviceIdentificationLength walks the object id/length pairs of a FC 43
// response starting at byte 8 of the frame.
func deviceIdentificationLength(buf []byte, start int) (int, bool) {
	if len(buf) <= start+deviceIdentificationCountByte {
		return 0, false
	}

	objects := int(buf[start+deviceIdentificationCountByte])
	current := start + 8
	for j := 0; j < objects; j++ {
		if current+1 >= len(buf) {
			return 0, false
		}
		current += 2 + int(buf[current+1])
	}

	if current+crcLength > len(buf) {
		return 0, false
	}
	return current + crcLength - start, true
}

// FrameScanner accumulates received bytes and extracts the response to
// the most recently written request.
type FrameScanner struct {
	buf   []byte
	exp   Expectation
	armed bool
}

// Expect records the request that was just written.
func (s *FrameScanner) Expect(request []byte) bool {
	exp, ok := ExpectationFor(request)
	if !ok {
		return false
	}
	s.exp = exp
	s.armed = true
	return true
}

// Feed appends data and returns a complete frame if one is now available.
func (s *FrameScanner) Feed(data []byte) ([]byte, bool) {
	s.buf = append(s.buf, data...)
	if len(s.buf) > maxBufferLength {
		n := copy(s.buf, s.buf[len(s.buf)-maxBufferLength:])
		s.buf = s.buf[:n]
	}

	if !s.armed {
		return nil, false
	}

	res := Scan(s.buf, s.exp)
	if res.Frame == nil {
		return nil, false
	}

	n := copy(s.buf, s.buf[res.Consumed:])
	s.buf = s.buf[:n]
	return res.Frame, true
}

// Buffered returns the number of bytes held.
func (s *FrameScanner) Buffered() int {
	return len(s.buf)
}
