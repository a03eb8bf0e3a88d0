// internal/service/interfaces.go
package service

import (
	"context"

	"vehicle-gateway/internal/can"
	"vehicle-gateway/internal/modbus"
)

// CANBus is the part of the CAN transport the services use.
type CANBus interface {
	Register(m can.Matcher, h can.Handler) func()
	Send(id can.LinkID, f can.Frame) error
	LinkStatus(id can.LinkID) (can.LinkStatus, error)
	Connect(id can.LinkID) error
	Disconnect(id can.LinkID) error
}

// SlowBus is the part of the slow-bus scheduler the services use.
type SlowBus interface {
	Register(name string, job modbus.Job)
	SendRequest(ctx context.Context, request string) ([]byte, error)
}

var (
	_ CANBus  = (*can.Transport)(nil)
	_ SlowBus = (*modbus.Scheduler)(nil)
)
