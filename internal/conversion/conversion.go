// Package conversion turns raw Modbus holding registers into physical sensor values.
package conversion

import (
	"math"
	"time"

	"github.com/speedwagon-io/vmc/internal/config"
	"github.com/speedwagon-io/vmc/internal/model"
)

const (
	// FullScale is the register value that corresponds to 100% of a sensor's span.
	FullScale = 16709

	TemperatureMin = -35.0
	TemperatureMax = 35.0

	precision = 1e4
)

// ToSigned reinterprets a 16-bit register as two's complement.
func ToSigned(raw uint16) int16 {
	return int16(raw)
}

// Value converts one register for the given sensor.
//
// Temperature and ambient sensors map [0, FullScale] linearly onto
// [TemperatureMin, TemperatureMax] and are not clamped. Every other kind is
// expressed as a percentage of FullScale clamped to the sensor's [Min, Max].
// The result is rounded to 4 decimal places.
func Value(raw uint16, sensor config.SensorConfig) float64 {
	signed := float64(ToSigned(raw))

	var v float64
	if sensor.IsTemperature() {
		v = TemperatureMin + signed/FullScale*(TemperatureMax-TemperatureMin)
	} else {
		v = clamp(signed/FullScale*100, sensor.Min, sensor.Max)
	}

	return round(v)
}

// Convert converts raw[i] with sensors[i] and stamps every reading with at.
// Sensors without a matching raw value are skipped and surplus raw values
// are ignored.
func Convert(raw []uint16, sensors []config.SensorConfig, at time.Time) []model.Reading {
	n := min(len(raw), len(sensors))
	readings := make([]model.Reading, 0, n)

	for i := 0; i < n; i++ {
		s := sensors[i]
		readings = append(readings, model.Reading{
			CapteurID: s.CapteurID(),
			Name:      s.Name,
			Unit:      s.Unit,
			Kind:      s.Kind,
			Raw:       raw[i],
			Value:     Value(raw[i], s),
			Timestamp: at,
		})
	}

	return readings
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64) float64 {
	r := math.Round(v*precision) / precision
	if r == 0 {
		// normalize -0
		return 0
	}
	return r
}
