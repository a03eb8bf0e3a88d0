// internal/service/sensor_service.go
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vehicle-gateway/internal/errs"
	"vehicle-gateway/internal/utils"
	"vehicle-gateway/internal/vehicle"
)

const levelJobName = "level-sensor"

// SensorReadings groups every slow-bus sensor.
type SensorReadings struct {
	Level     *Reading[vehicle.Level] `json:"level"`
	Timestamp time.Time               `json:"timestamp"`
}

// SensorService polls the slow-bus sensors.
type SensorService struct {
	bus    SlowBus
	level  *snapshot[vehicle.Level]
	logger *utils.ServiceLogger
}

// NewSensorService creates the service.
func NewSensorService(bus SlowBus, freshWindow time.Duration, logger *zap.Logger) *SensorService {
	if freshWindow <= 0 {
		freshWindow = 30 * time.Second
	}
	return &SensorService{
		bus:    bus,
		level:  newSnapshot[vehicle.Level](freshWindow),
		logger: utils.NewServiceLogger(logger, "sensor-service"),
	}
}

// Start registers the level job on the slow bus.
func (s *SensorService) Start() {
	s.bus.Register(levelJobName, func(ctx context.Context) (any, error) {
		return s.readLevel(ctx)
	})
	s.logger.Info("Level sensor job registered")
}

func (s *SensorService) readLevel(ctx context.Context) (vehicle.Level, error) {
	data, err := s.bus.SendRequest(ctx, vehicle.LevelSensorRequest)
	if err != nil {
		s.level.fail(err)
		return vehicle.Level{}, err
	}
	level, err := vehicle.ParseLevel(data)
	if err != nil {
		s.level.fail(err)
		return vehicle.Level{}, fmt.Errorf("level sensor: %w", err)
	}
	s.level.store(level, time.Now())
	return level, nil
}

// Level returns the last level reading.
func (s *SensorService) Level() (Reading[vehicle.Level], error) {
	r, ok := s.level.load(time.Now())
	if !ok {
		return r, fmt.Errorf("no level sensor data: %w", errs.ErrNotFound)
	}
	return r, nil
}

// RefreshLevel reads the level sensor now. It fails with ErrBusy while the
// slow bus has a request in flight.
func (s *SensorService) RefreshLevel(ctx context.Context) (Reading[vehicle.Level], error) {
	level, err := s.readLevel(ctx)
	if err != nil {
		return Reading[vehicle.Level]{}, err
	}
	s.logger.Debug("Level refreshed", zap.Stringer("level", level.Level), zap.Int("percentage", level.Percentage))
	return Reading[vehicle.Level]{Data: level, UpdateTime: time.Now(), IsFresh: true}, nil
}

// All returns every sensor that has reported so far.
func (s *SensorService) All() SensorReadings {
	now := time.Now()
	out := SensorReadings{Timestamp: now}
	if r, ok := s.level.load(now); ok {
		out.Level = &r
	}
	return out
}
