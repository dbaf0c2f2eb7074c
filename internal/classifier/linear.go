package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const maxArtifactSize = 32 * 1024 * 1024 // 32MB

// Artifact is the on-disk JSON form of a dense linear model.
type Artifact struct {
	Labels     []string    `json:"labels"`
	InputShape []int       `json:"input_shape"`
	OutputSize int         `json:"output_size,omitempty"`
	Output     Output      `json:"output"`
	Weights    [][]float64 `json:"weights"` // one row per label
	Bias       []float64   `json:"bias"`
}

// Model returns the metadata part of the artifact.
func (a Artifact) Model() Model {
	out := a.Output
	if out == "" {
		out = OutputSoftmax
	}
	return Model{Labels: a.Labels, InputShape: a.InputShape, OutputSize: a.OutputSize, Output: out}
}

// Linear is a single dense layer followed by softmax (distribution) or a
// logistic sigmoid per class (independent scores). Temporal models see the
// flattened window; non-temporal models see the per-feature window mean.
type Linear struct {
	weights  *mat.Dense
	bias     *mat.VecDense
	output   Output
	temporal bool
	inputLen int
	features int
}

// NewLinear builds a Linear model from an artifact.
func NewLinear(a Artifact) (*Linear, error) {
	m := a.Model()
	var inputLen, features int
	switch len(a.InputShape) {
	case 2:
		inputLen = a.InputShape[0] * a.InputShape[1]
		features = a.InputShape[1]
	case 1:
		inputLen = a.InputShape[0]
		features = a.InputShape[0]
	default:
		return nil, fmt.Errorf("%w: unsupported input shape %v", ErrInvalidArtifact, a.InputShape)
	}
	if inputLen <= 0 {
		return nil, fmt.Errorf("%w: input shape %v", ErrInvalidArtifact, a.InputShape)
	}

	classes := len(a.Labels)
	if len(a.Weights) != classes {
		return nil, fmt.Errorf("%w: %d weight rows for %d labels", ErrInvalidArtifact, len(a.Weights), classes)
	}
	if len(a.Bias) != classes {
		return nil, fmt.Errorf("%w: %d bias values for %d labels", ErrInvalidArtifact, len(a.Bias), classes)
	}

	data := make([]float64, 0, classes*inputLen)
	for i, row := range a.Weights {
		if len(row) != inputLen {
			return nil, fmt.Errorf("%w: weight row %d has %d values, want %d", ErrInvalidArtifact, i, len(row), inputLen)
		}
		data = append(data, row...)
	}

	return &Linear{
		weights:  mat.NewDense(classes, inputLen, data),
		bias:     mat.NewVecDense(classes, append([]float64(nil), a.Bias...)),
		output:   m.Output,
		temporal: m.Temporal(),
		inputLen: inputLen,
		features: features,
	}, nil
}

// Infer implements Classifier.
func (l *Linear) Infer(window [][]float64) ([]float64, error) {
	x, err := l.input(window)
	if err != nil {
		return nil, err
	}

	var z mat.VecDense
	z.MulVec(l.weights, x)
	z.AddVec(&z, l.bias)

	out := append([]float64(nil), z.RawVector().Data...)
	if l.output == OutputScores {
		for i, v := range out {
			out[i] = 1 / (1 + math.Exp(-v))
		}
		return out, nil
	}
	softmax(out)
	return out, nil
}

func (l *Linear) input(window [][]float64) (*mat.VecDense, error) {
	if len(window) == 0 {
		return nil, fmt.Errorf("%w: empty window", ErrShapeMismatch)
	}
	for i, row := range window {
		if len(row) != l.features {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrShapeMismatch, i, len(row), l.features)
		}
	}

	if l.temporal {
		if len(window)*l.features != l.inputLen {
			return nil, fmt.Errorf("%w: window has %d rows, want %d", ErrShapeMismatch, len(window), l.inputLen/l.features)
		}
		flat := make([]float64, 0, l.inputLen)
		for _, row := range window {
			flat = append(flat, row...)
		}
		return mat.NewVecDense(l.inputLen, flat), nil
	}

	mean := make([]float64, l.features)
	for _, row := range window {
		floats.Add(mean, row)
	}
	floats.Scale(1/float64(len(window)), mean)
	return mat.NewVecDense(l.features, mean), nil
}

// softmax normalises v in place into a probability distribution.
func softmax(v []float64) {
	m := floats.Max(v)
	for i := range v {
		v[i] = math.Exp(v[i] - m)
	}
	floats.Scale(1/floats.Sum(v), v)
}

// Load reads a linear model artifact and returns its metadata together with
// the ready-to-use classifier.
func Load(path string) (Model, *Linear, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return Model{}, nil, fmt.Errorf("model file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return Model{}, nil, fmt.Errorf("failed to stat model file: %w", err)
	}
	if info.Size() > maxArtifactSize {
		return Model{}, nil, fmt.Errorf("model file too large: %d bytes (max %d)", info.Size(), maxArtifactSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return Model{}, nil, fmt.Errorf("failed to read model file: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return Model{}, nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	lin, err := NewLinear(a)
	if err != nil {
		return Model{}, nil, err
	}
	return a.Model(), lin, nil
}
