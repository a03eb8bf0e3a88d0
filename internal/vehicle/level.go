// internal/vehicle/level.go
package vehicle

import (
	"encoding/binary"
	"math"

	"github.com/shopspring/decimal"

	"vehicle-gateway/internal/errs"
)

// LevelSensorRequest reads the fresh water level at unit 0x0C.
const LevelSensorRequest = "0c03000000018517"

// tankHeight is the level in cm that reads as a full tank.
const tankHeight = 190

// Level is a water level reading.
type Level struct {
	Level      decimal.Decimal `json:"level"`
	Percentage int             `json:"level_percentage"`
}

// ParseLevel decodes the register data of the level sensor. The first
// register is the level in tenths of a centimetre.
func ParseLevel(data []byte) (Level, error) {
	if len(data) < 2 {
		return Level{}, errs.Invalid("length", "level sensor needs 2 bytes, got %d", len(data))
	}
	raw := binary.BigEndian.Uint16(data)
	level := float64(raw) / 10
	return Level{
		Level:      decimal.New(int64(raw), -1),
		Percentage: int(math.Floor(math.Min(100, level/tankHeight*100))),
	}, nil
}
