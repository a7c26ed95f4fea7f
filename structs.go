package main

import (
	"time"

	"BMEServer/bme280"
)

type SensorReading struct {
	Temperature  float64   `json:"temperature"`
	Pressure     *float64  `json:"pressure,omitempty"` // hPa
	PressureMmHg *float64  `json:"pressureMmHg,omitempty"`
	Humidity     *float64  `json:"humidity,omitempty"`
	CO2          uint16    `json:"co2,omitempty"`
	Raw          RawFixed  `json:"-"`
	Updated      time.Time `json:"-"`
	UpdatedStr   string    `json:"updated"`
}

// RawFixed is the reading as the driver returns it, before any floating
// point conversion. Quantities the device skipped are nil.
type RawFixed struct {
	Temperature int32   `json:"temperature"`        // 0.01 °C
	Pressure    *uint32 `json:"pressure,omitempty"` // Pa, Q24.8
	Humidity    *uint32 `json:"humidity,omitempty"` // %RH, Q22.10
	MmHg        *uint32 `json:"mmHg,omitempty"`     // 0.001 mmHg
	Updated     string  `json:"updated"`
}

func NewSensorReading(date time.Time) SensorReading {
	return SensorReading{
		Updated:    date,
		UpdatedStr: date.Format("2006-01-02 15:04:05"), // ISO 8601 without timezone
	}
}

// SetBME fills in the values of a BME280 reading.
func (s *SensorReading) SetBME(r bme280.Reading) {
	s.Temperature = float64(r.Temperature) / 100
	s.Raw = RawFixed{Temperature: r.Temperature, Updated: s.UpdatedStr}

	if r.HasPressure {
		mmHg := r.MmHg()
		s.Pressure = ptr(float64(r.Pressure) / 256 / 100)
		s.PressureMmHg = ptr(float64(mmHg) / 1000)
		s.Raw.Pressure = ptr(r.Pressure)
		s.Raw.MmHg = ptr(mmHg)
	}

	if r.HasHumidity {
		s.SetHumidity(float64(r.Humidity) / 1024)
		s.Raw.Humidity = ptr(r.Humidity)
	}
}

// SetHumidity overrides the relative humidity in %.
func (s *SensorReading) SetHumidity(rh float64) {
	s.Humidity = ptr(rh)
}

func ptr[T any](v T) *T {
	return &v
}
