// Package normalize applies the per-feature standardisation learned at
// training time to raw sensor windows.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrFeatureMismatch is returned when a window row and the scaler
	// disagree on feature count.
	ErrFeatureMismatch = errors.New("feature count mismatch")

	// ErrInvalidScale is returned for malformed scaling parameters.
	ErrInvalidScale = errors.New("invalid scaling parameters")
)

const maxArtifactSize = 1 * 1024 * 1024 // 1MB

// Scaler holds per-feature (mean, scale) pairs. Each value at feature f is
// mapped to (raw - Mean[f]) / Scale[f]. The JSON layout matches the
// mean_/scale_ attributes exported from a fitted StandardScaler.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Identity returns a scaler that leaves values untouched.
func Identity(features int) *Scaler {
	s := &Scaler{Mean: make([]float64, features), Scale: make([]float64, features)}
	for i := range s.Scale {
		s.Scale[i] = 1
	}
	return s
}

// LoadScaler reads and validates a scaling artifact from a JSON file.
func LoadScaler(path string) (*Scaler, error) {
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scaler file: %w", err)
	}
	if info.Size() > maxArtifactSize {
		return nil, fmt.Errorf("scaler file too large: %d bytes (max %d)", info.Size(), maxArtifactSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scaler file: %w", err)
	}

	var s Scaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scaler JSON: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the parameters are usable: finite means and positive
// finite scales.
func (s *Scaler) Validate() error {
	if len(s.Mean) == 0 {
		return fmt.Errorf("%w: no features", ErrInvalidScale)
	}
	if len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("%w: %d means but %d scales", ErrInvalidScale, len(s.Mean), len(s.Scale))
	}
	for i := range s.Mean {
		if math.IsNaN(s.Mean[i]) || math.IsInf(s.Mean[i], 0) {
			return fmt.Errorf("%w: mean[%d] is not finite", ErrInvalidScale, i)
		}
		if !(s.Scale[i] > 0) || math.IsInf(s.Scale[i], 0) {
			return fmt.Errorf("%w: scale[%d] = %v", ErrInvalidScale, i, s.Scale[i])
		}
	}
	return nil
}

// Features returns the number of features the scaler was fitted on.
func (s *Scaler) Features() int { return len(s.Mean) }

// CheckFeatures fails when the scaler does not match the configured
// feature count. Called once at startup.
func (s *Scaler) CheckFeatures(features int) error {
	if s.Features() != features {
		return fmt.Errorf("%w: scaler has %d features, pipeline expects %d", ErrFeatureMismatch, s.Features(), features)
	}
	return nil
}

// Transform returns a normalised copy of window. The input is not
// modified. Any row whose width differs from the scaler is rejected.
func (s *Scaler) Transform(window [][]float64) ([][]float64, error) {
	n := s.Features()
	out := make([][]float64, len(window))
	flat := make([]float64, len(window)*n)
	for i, row := range window {
		if len(row) != n {
			return nil, fmt.Errorf("%w: row %d has %d features, scaler has %d", ErrFeatureMismatch, i, len(row), n)
		}
		dst := flat[i*n : (i+1)*n]
		floats.SubTo(dst, row, s.Mean)
		floats.Div(dst, s.Scale)
		out[i] = dst
	}
	return out, nil
}
