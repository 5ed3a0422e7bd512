package drive

import (
	"math"
	"sync/atomic"
)

// Speed bounds in km/h, matching the speed dial of the UI
const (
	MinSpeedKmH     = 10.0
	MaxSpeedKmH     = 100.0
	DefaultSpeedKmH = 50.0
)

// ClampSpeed limits a km/h value to [MinSpeedKmH, MaxSpeedKmH]
func ClampSpeed(kmh float64) float64 {
	return math.Min(MaxSpeedKmH, math.Max(MinSpeedKmH, kmh))
}

// Speed is the live speed setting. It is written by the host and read by the
// simulator on every tick, so it is stored as atomic float64 bits.
type Speed struct {
	bits atomic.Uint64
}

// NewSpeed creates a speed setting initialised to kmh (clamped)
func NewSpeed(kmh float64) *Speed {
	s := &Speed{}
	if math.IsNaN(kmh) {
		kmh = DefaultSpeedKmH
	}
	s.bits.Store(math.Float64bits(ClampSpeed(kmh)))
	return s
}

// Set stores kmh clamped to the allowed range and returns the stored value.
// NaN leaves the setting unchanged.
func (s *Speed) Set(kmh float64) float64 {
	if math.IsNaN(kmh) {
		return s.KmH()
	}
	v := ClampSpeed(kmh)
	s.bits.Store(math.Float64bits(v))
	return v
}

// KmH returns the current setting in km/h
func (s *Speed) KmH() float64 {
	return math.Float64frombits(s.bits.Load())
}

// MetersPerSecond returns the current setting in m/s
func (s *Speed) MetersPerSecond() float64 {
	return s.KmH() * 1000 / 3600
}
