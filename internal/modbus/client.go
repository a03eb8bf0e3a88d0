// internal/modbus/client.go
package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"vehicle-gateway/internal/errs"
)

// DefaultTimeout bounds a single exchange.
const DefaultTimeout = time.Second

const (
	maxReadBits       = 2000
	maxReadRegisters  = 125
	maxWriteBits      = 1968
	maxWriteRegisters = 123
	coilOn            = 0xFF00
)

// Client issues Modbus RTU requests to one unit over a Transactor.
type Client struct {
	tx      Transactor
	unitID  byte
	timeout time.Duration
}

// NewClient creates a new client. A zero timeout selects DefaultTimeout.
func NewClient(tx Transactor, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{tx: tx, timeout: timeout}
}

// WithUnitID returns a copy of the client addressing unitID.
func (c *Client) WithUnitID(unitID byte) *Client {
	cp := *c
	cp.unitID = unitID
	return &cp
}

// UnitID returns the addressed unit
func (c *Client) UnitID() byte {
	return c.unitID
}

// ReadCoils reads quantity coils starting at address.
func (c *Client) ReadCoils(ctx context.Context, address, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, FuncReadCoils, address, quantity)
}

// ReadDiscreteInputs reads quantity discrete inputs starting at address.
func (c *Client) ReadDiscreteInputs(ctx context.Context, address, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, FuncReadDiscreteInputs, address, quantity)
}

// ReadHoldingRegisters reads quantity holding registers starting at address.
func (c *Client) ReadHoldingRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	return c.readRegisters(ctx, FuncReadHoldingRegisters, address, quantity)
}

// ReadInputRegisters reads quantity input registers starting at address.
func (c *Client) ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	return c.readRegisters(ctx, FuncReadInputRegisters, address, quantity)
}

// WriteSingleCoil switches one coil.
func (c *Client) WriteSingleCoil(ctx context.Context, address uint16, on bool) error {
	var value uint16
	if on {
		value = coilOn
	}
	payload := be16(address, value)
	data, err := c.exchange(ctx, FuncWriteSingleCoil, payload)
	if err != nil {
		return err
	}
	return expectEcho(data, payload)
}

// WriteSingleRegister writes one holding register.
func (c *Client) WriteSingleRegister(ctx context.Context, address, value uint16) error {
	payload := be16(address, value)
	data, err := c.exchange(ctx, FuncWriteSingleRegister, payload)
	if err != nil {
		return err
	}
	return expectEcho(data, payload)
}

// WriteMultipleCoils writes consecutive coils starting at address.
func (c *Client) WriteMultipleCoils(ctx context.Context, address uint16, values []bool) error {
	if len(values) == 0 || len(values) > maxWriteBits {
		return errs.Invalid("quantity", "must be between 1 and %d, got %d", maxWriteBits, len(values))
	}

	packed := packBits(values)
	payload := be16(address, uint16(len(values)))
	payload = append(payload, byte(len(packed)))
	payload = append(payload, packed...)

	data, err := c.exchange(ctx, FuncWriteMultipleCoils, payload)
	if err != nil {
		return err
	}
	return expectEcho(data, payload[:4])
}

// WriteMultipleRegisters writes consecutive holding registers.
func (c *Client) WriteMultipleRegisters(ctx context.Context, address uint16, values []uint16) error {
	if len(values) == 0 || len(values) > maxWriteRegisters {
		return errs.Invalid("quantity", "must be between 1 and %d, got %d", maxWriteRegisters, len(values))
	}

	payload := be16(address, uint16(len(values)))
	payload = append(payload, byte(2*len(values)))
	for _, v := range values {
		payload = binary.BigEndian.AppendUint16(payload, v)
	}

	data, err := c.exchange(ctx, FuncWriteMultipleRegisters, payload)
	if err != nil {
		return err
	}
	return expectEcho(data, payload[:4])
}

// ReportServerID returns the device specific server id content.
func (c *Client) ReportServerID(ctx context.Context) ([]byte, error) {
	data, err := c.exchange(ctx, FuncReportServerID, nil)
	if err != nil {
		return nil, err
	}
	if len(data) < 1 || int(data[0]) != len(data)-1 {
		return nil, errs.Invalid("byte_count", "response declares %d bytes, carries %d", firstByte(data), len(data)-1)
	}
	return data[1:], nil
}

// ReadDeviceIdentification reads identification objects (MEI type 0x0E).
func (c *Client) ReadDeviceIdentification(ctx context.Context, readCode, objectID byte) (map[byte][]byte, error) {
	data, err := c.exchange(ctx, FuncReadDeviceIdentification, []byte{0x0E, readCode, objectID})
	if err != nil {
		return nil, err
	}
	if len(data) < 6 || data[0] != 0x0E {
		return nil, errs.Invalid("mei_type", "unexpected device identification header")
	}

	count := int(data[5])
	objects := make(map[byte][]byte, count)
	pos := 6
	for i := 0; i < count; i++ {
		if pos+2 > len(data) {
			return nil, errs.Invalid("objects", "truncated object %d", i)
		}
		id, n := data[pos], int(data[pos+1])
		if pos+2+n > len(data) {
			return nil, errs.Invalid("objects", "object 0x%02X overruns frame", id)
		}
		objects[id] = append([]byte(nil), data[pos+2:pos+2+n]...)
		pos += 2 + n
	}
	return objects, nil
}

func (c *Client) readBits(ctx context.Context, fc byte, address, quantity uint16) ([]bool, error) {
	if quantity == 0 || quantity > maxReadBits {
		return nil, errs.Invalid("quantity", "must be between 1 and %d, got %d", maxReadBits, quantity)
	}

	data, err := c.exchange(ctx, fc, be16(address, quantity))
	if err != nil {
		return nil, err
	}

	want := (int(quantity) + 7) / 8
	if len(data) != want+1 || int(data[0]) != want {
		return nil, errs.Invalid("byte_count", "expected %d, got %d", want, firstByte(data))
	}

	bits := make([]bool, quantity)
	for i := range bits {
		bits[i] = data[1+i/8]&(1<<(i%8)) != 0
	}
	return bits, nil
}

func (c *Client) readRegisters(ctx context.Context, fc byte, address, quantity uint16) ([]uint16, error) {
	if quantity == 0 || quantity > maxReadRegisters {
		return nil, errs.Invalid("quantity", "must be between 1 and %d, got %d", maxReadRegisters, quantity)
	}

	data, err := c.exchange(ctx, fc, be16(address, quantity))
	if err != nil {
		return nil, err
	}

	want := 2 * int(quantity)
	if len(data) != want+1 || int(data[0]) != want {
		return nil, errs.Invalid("byte_count", "expected %d, got %d", want, firstByte(data))
	}

	regs := make([]uint16, quantity)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(data[1+2*i:])
	}
	return regs, nil
}

// exchange sends one request and returns the response bytes between the
// function code and the CRC.
func (c *Client) exchange(ctx context.Context, fc byte, payload []byte) ([]byte, error) {
	request := make([]byte, 0, len(payload)+4)
	request = append(request, c.unitID, fc)
	request = append(request, payload...)
	request = AppendCRC(request)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	response, err := c.tx.Transact(ctx, request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &errs.TimeoutError{
				Op:    fmt.Sprintf("modbus unit %d function %d", c.unitID, fc),
				After: c.timeout,
			}
		}
		return nil, err
	}
	return c.verify(fc, response)
}

func (c *Client) verify(fc byte, response []byte) ([]byte, error) {
	if len(response) < exceptionLength {
		return nil, errs.Invalid("response", "short frame of %d bytes", len(response))
	}
	if !CheckCRC(response) {
		return nil, errs.Invalid("crc", "checksum mismatch in % X", response)
	}
	if response[0] != c.unitID {
		return nil, errs.Invalid("unit_id", "expected %d, got %d", c.unitID, response[0])
	}
	if response[1] == exceptionFlag|fc {
		return nil, &errs.ModbusError{FunctionCode: response[1], ExceptionCode: response[2]}
	}
	if response[1] != fc {
		return nil, errs.Invalid("function_code", "expected %d, got %d", fc, response[1])
	}
	return response[2 : len(response)-crcLength], nil
}

func expectEcho(data, want []byte) error {
	if len(data) != len(want) {
		return errs.Invalid("response", "expected %d byte echo, got %d", len(want), len(data))
	}
	for i := range want {
		if data[i] != want[i] {
			return errs.Invalid("response", "echo mismatch: % X != % X", data, want)
		}
	}
	return nil
}

func be16(values ...uint16) []byte {
	out := make([]byte, 0, 2*len(values))
	for _, v := range values {
		out = binary.BigEndian.AppendUint16(out, v)
	}
	return out
}

func packBits(values []bool) []byte {
	out := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

func firstByte(data []byte) int {
	if len(data) == 0 {
		return -1
	}
	return int(data[0])
}
