package modbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"vehicle-gateway/internal/errs"
)

func TestClientReadWriteCoils(t *testing.T) {
	slave := newTestSlave(4)
	client := NewClient(newTestBus(slave), 100*time.Millisecond).WithUnitID(4)
	ctx := context.Background()

	if err := client.WriteSingleCoil(ctx, 3, true); err != nil {
		t.Fatalf("WriteSingleCoil: %v", err)
	}
	if err := client.WriteMultipleCoils(ctx, 8, []bool{true, false, true}); err != nil {
		t.Fatalf("WriteMultipleCoils: %v", err)
	}

	coils, err := client.ReadCoils(ctx, 0, 16)
	if err != nil {
		t.Fatalf("ReadCoils: %v", err)
	}
	if len(coils) != 16 {
		t.Fatalf("len(coils) = %d, want 16", len(coils))
	}
	for i, v := range coils {
		want := i == 3 || i == 8 || i == 10
		if v != want {
			t.Fatalf("coil %d = %v, want %v", i, v, want)
		}
	}

	slave.inputs[1] = true
	inputs, err := client.ReadDiscreteInputs(ctx, 0, 4)
	if err != nil {
		t.Fatalf("ReadDiscreteInputs: %v", err)
	}
	if !inputs[1] || inputs[0] || inputs[2] || inputs[3] {
		t.Fatalf("inputs = %v", inputs)
	}
}

func TestClientRegisters(t *testing.T) {
	slave := newTestSlave(9)
	client := NewClient(newTestBus(slave), 100*time.Millisecond).WithUnitID(9)
	ctx := context.Background()

	if err := client.WriteSingleRegister(ctx, 0, 0x1234); err != nil {
		t.Fatalf("WriteSingleRegister: %v", err)
	}
	if err := client.WriteMultipleRegisters(ctx, 1, []uint16{7, 8}); err != nil {
		t.Fatalf("WriteMultipleRegisters: %v", err)
	}

	regs, err := client.ReadHoldingRegisters(ctx, 0, 3)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if regs[0] != 0x1234 || regs[1] != 7 || regs[2] != 8 {
		t.Fatalf("regs = %v", regs)
	}
}

func TestClientExceptionResponse(t *testing.T) {
	slave := newTestSlave(2)
	slave.exception = errs.ExceptionIllegalDataAddress
	client := NewClient(newTestBus(slave), 100*time.Millisecond).WithUnitID(2)

	_, err := client.ReadHoldingRegisters(context.Background(), 0, 1)
	var mbErr *errs.ModbusError
	if !errors.As(err, &mbErr) {
		t.Fatalf("err = %v, want ModbusError", err)
	}
	if mbErr.FunctionCode != 0x83 || mbErr.ExceptionCode != errs.ExceptionIllegalDataAddress {
		t.Fatalf("exception = %+v", mbErr)
	}
}

func TestClientTimeout(t *testing.T) {
	client := NewClient(newTestBus(), 20*time.Millisecond).WithUnitID(1)

	start := time.Now()
	_, err := client.ReadCoils(context.Background(), 0, 1)
	if !errors.Is(err, errs.ErrRequestTimeout) {
		t.Fatalf("err = %v, want request timeout", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout took too long")
	}
}

func TestClientRejectsInvalidQuantity(t *testing.T) {
	client := NewClient(newTestBus(), 0).WithUnitID(1)
	ctx := context.Background()

	if _, err := client.ReadCoils(ctx, 0, 0); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("ReadCoils(0) err = %v", err)
	}
	if _, err := client.ReadHoldingRegisters(ctx, 0, 126); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("ReadHoldingRegisters(126) err = %v", err)
	}
	if err := client.WriteMultipleRegisters(ctx, 0, nil); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("WriteMultipleRegisters(nil) err = %v", err)
	}
}

type fixedTransactor []byte

func (f fixedTransactor) Transact(context.Context, []byte) ([]byte, error) {
	return f, nil
}

func TestClientVerifiesResponse(t *testing.T) {
	ctx := context.Background()

	badCRC := AppendCRC([]byte{1, 3, 2, 0, 1})
	badCRC[len(badCRC)-1] ^= 0xFF
	if _, err := NewClient(fixedTransactor(badCRC), 0).WithUnitID(1).ReadHoldingRegisters(ctx, 0, 1); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("bad crc err = %v", err)
	}

	wrongUnit := AppendCRC([]byte{2, 3, 2, 0, 1})
	if _, err := NewClient(fixedTransactor(wrongUnit), 0).WithUnitID(1).ReadHoldingRegisters(ctx, 0, 1); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("wrong unit err = %v", err)
	}

	serverID := AppendCRC([]byte{1, 0x11, 3, 0x42, 0xFF, 0x01})
	id, err := NewClient(fixedTransactor(serverID), 0).WithUnitID(1).ReportServerID(ctx)
	if err != nil || len(id) != 3 || id[0] != 0x42 {
		t.Fatalf("server id = % X err = %v", id, err)
	}
}

func TestClientReadDeviceIdentification(t *testing.T) {
	frame := AppendCRC([]byte{
		0x01, 0x2B, 0x0E, 0x01, 0x01, 0x00, 0x00, 0x02,
		0x00, 0x03, 'Z', 'Q', 'W',
		0x02, 0x02, '1', '0',
	})
	objects, err := NewClient(fixedTransactor(frame), 0).WithUnitID(1).ReadDeviceIdentification(context.Background(), 0x01, 0x00)
	if err != nil {
		t.Fatalf("ReadDeviceIdentification: %v", err)
	}
	if string(objects[0x00]) != "ZQW" || string(objects[0x02]) != "10" {
		t.Fatalf("objects = %q", objects)
	}
}
