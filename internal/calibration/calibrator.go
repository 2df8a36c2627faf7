// Package calibration fits and applies the linear RSSI-to-distance model.
//
// Measured signal strength is modelled as strength = Slope*distance + Intercept,
// so a live reading converts back with distance = (strength - Intercept) / Slope.
package calibration

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

var (
	ErrDegenerateInput = errors.New("calibration: need at least two distinct reference distances")
	ErrDivisionByZero  = errors.New("calibration: model slope is zero")
	ErrNoReadings      = errors.New("calibration: no readings collected at reference point")
)

// Sample pairs a known distance with the signal strength measured there.
type Sample struct {
	Distance float64
	Strength float64
}

// Model is a fitted calibration line. It is a value and never mutated.
type Model struct {
	Slope     float64 `yaml:"slope"`
	Intercept float64 `yaml:"intercept"`
}

// Fit runs an ordinary least-squares fit of strength on distance.
// No outliers are rejected; callers pre-filter.
func Fit(samples []Sample) (Model, error) {
	if len(samples) < 2 {
		return Model{}, fmt.Errorf("%w: got %d samples", ErrDegenerateInput, len(samples))
	}

	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	distinct := make(map[float64]struct{}, len(samples))
	for i, s := range samples {
		xs[i] = s.Distance
		ys[i] = s.Strength
		distinct[s.Distance] = struct{}{}
	}
	if len(distinct) < 2 {
		return Model{}, fmt.Errorf("%w: all samples at distance %v", ErrDegenerateInput, samples[0].Distance)
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(slope) || math.IsNaN(intercept) {
		return Model{}, fmt.Errorf("%w: fit produced NaN", ErrDegenerateInput)
	}
	return Model{Slope: slope, Intercept: intercept}, nil
}

// EstimateDistance converts a live RSSI reading to a distance in the units
// the model was calibrated with.
func (m Model) EstimateDistance(strength int) (float64, error) {
	if m.Slope == 0 {
		return 0, ErrDivisionByZero
	}
	return (float64(strength) - m.Intercept) / m.Slope, nil
}

// Predict returns the strength the model expects at distance d.
func (m Model) Predict(d float64) float64 {
	return m.Slope*d + m.Intercept
}

// MaxResidual returns the largest absolute strength residual over samples.
func (m Model) MaxResidual(samples []Sample) float64 {
	worst := 0.0
	for _, s := range samples {
		if r := math.Abs(s.Strength - m.Predict(s.Distance)); r > worst {
			worst = r
		}
	}
	return worst
}

// IsZero reports whether the model carries no coefficients.
func (m Model) IsZero() bool {
	return m.Slope == 0 && m.Intercept == 0
}

func (m Model) String() string {
	return fmt.Sprintf("slope=%.4f intercept=%.4f", m.Slope, m.Intercept)
}
