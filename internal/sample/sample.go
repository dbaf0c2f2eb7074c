// Package sample turns raw transport lines into fixed-width sensor vectors.
package sample

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultFeatures is the number of values in one IMU line:
// accel_x, accel_y, accel_z, gyro_x, gyro_y, gyro_z.
const DefaultFeatures = 6

// DefaultDelimiter separates values on the wire.
const DefaultDelimiter = ","

// FeatureNames lists the IMU columns in wire order. It doubles as the
// recording file header (followed by "label").
var FeatureNames = []string{"accel_x", "accel_y", "accel_z", "gyro_x", "gyro_y", "gyro_z"}

// ErrMalformed is matched by every MalformedSampleError via errors.Is.
var ErrMalformed = errors.New("malformed sample")

// Sample is one parsed line. Callers must treat it as read-only; the
// window copies values on push.
type Sample []float64

// MalformedSampleError reports a line that could not be turned into a
// Sample. The acquisition loop skips such lines and keeps reading.
type MalformedSampleError struct {
	Line   string
	Reason string
}

func (e *MalformedSampleError) Error() string {
	return fmt.Sprintf("malformed sample %q: %s", e.Line, e.Reason)
}

// Is lets errors.Is(err, ErrMalformed) match.
func (e *MalformedSampleError) Is(target error) bool {
	return target == ErrMalformed
}

// Parser splits delimited lines into Samples of exactly Features values.
// The zero value parses DefaultFeatures comma separated values.
type Parser struct {
	Features  int
	Delimiter string
}

// NewParser returns a Parser expecting the given number of features.
func NewParser(features int) Parser {
	return Parser{Features: features, Delimiter: DefaultDelimiter}
}

func (p Parser) features() int {
	if p.Features <= 0 {
		return DefaultFeatures
	}
	return p.Features
}

func (p Parser) delimiter() string {
	if p.Delimiter == "" {
		return DefaultDelimiter
	}
	return p.Delimiter
}

// Parse converts one line into a Sample. Integer and decimal encodings are
// both accepted. Any other input yields a *MalformedSampleError.
func (p Parser) Parse(line string) (Sample, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, &MalformedSampleError{Line: line, Reason: "empty line"}
	}

	fields := strings.Split(trimmed, p.delimiter())
	want := p.features()
	if len(fields) != want {
		return nil, &MalformedSampleError{
			Line:   line,
			Reason: fmt.Sprintf("expected %d fields, got %d", want, len(fields)),
		}
	}

	values := make(Sample, want)
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, &MalformedSampleError{
				Line:   line,
				Reason: fmt.Sprintf("field %d %q is not numeric", i, field),
			}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &MalformedSampleError{
				Line:   line,
				Reason: fmt.Sprintf("field %d is not finite", i),
			}
		}
		values[i] = v
	}
	return values, nil
}

// Format renders a Sample back into wire form.
func (p Parser) Format(s Sample) string {
	parts := make([]string, len(s))
	for i, v := range s {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, p.delimiter())
}
