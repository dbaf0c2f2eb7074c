// Package classifier defines the inference capability used by the live
// pipeline and the metadata that pins a trained model to the window shape
// it was trained on.
package classifier

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch is a configuration error: the model's declared
	// input or output shape does not match the pipeline.
	ErrShapeMismatch = errors.New("model shape mismatch")

	// ErrInvalidArtifact is returned for unreadable or inconsistent model
	// artifacts.
	ErrInvalidArtifact = errors.New("invalid model artifact")
)

// Classifier maps a normalised window (rows oldest first, one column per
// feature) to one value per label. Any model family can back it.
type Classifier interface {
	Infer(window [][]float64) ([]float64, error)
}

// Func adapts an ordinary function to the Classifier interface.
type Func func(window [][]float64) ([]float64, error)

// Infer calls f(window).
func (f Func) Infer(window [][]float64) ([]float64, error) { return f(window) }

// Output describes how a model's output vector should be read.
type Output string

const (
	// OutputSoftmax marks a probability distribution summing to 1.
	OutputSoftmax Output = "softmax"
	// OutputScores marks independent per-class scores in [0,1]; they need
	// not sum to 1.
	OutputScores Output = "scores"
)

// Model is the metadata shipped with a trained artifact.
type Model struct {
	// Labels are the class names in output order.
	Labels []string
	// InputShape is [W, F] for sequence models or [F] for models that see
	// one aggregated feature vector per window.
	InputShape []int
	// OutputSize is the declared class count; zero means len(Labels).
	OutputSize int
	Output     Output
}

// Temporal reports whether the model consumes the whole window.
func (m Model) Temporal() bool { return len(m.InputShape) == 2 }

// Validate checks the model against the pipeline's window size and feature
// count. It is run once at startup; any error is fatal.
func (m Model) Validate(windowSize, features int) error {
	if len(m.Labels) == 0 {
		return fmt.Errorf("%w: no labels", ErrInvalidArtifact)
	}
	seen := make(map[string]bool, len(m.Labels))
	for _, l := range m.Labels {
		if l == "" {
			return fmt.Errorf("%w: empty label", ErrInvalidArtifact)
		}
		if seen[l] {
			return fmt.Errorf("%w: duplicate label %q", ErrInvalidArtifact, l)
		}
		seen[l] = true
	}
	if m.OutputSize != 0 && m.OutputSize != len(m.Labels) {
		return fmt.Errorf("%w: output size %d but %d labels", ErrShapeMismatch, m.OutputSize, len(m.Labels))
	}
	switch m.Output {
	case OutputSoftmax, OutputScores, "":
	default:
		return fmt.Errorf("%w: unknown output convention %q", ErrInvalidArtifact, m.Output)
	}

	switch len(m.InputShape) {
	case 2:
		if m.InputShape[0] != windowSize || m.InputShape[1] != features {
			return fmt.Errorf("%w: model expects (%d, %d), pipeline produces (%d, %d)",
				ErrShapeMismatch, m.InputShape[0], m.InputShape[1], windowSize, features)
		}
	case 1:
		if m.InputShape[0] != features {
			return fmt.Errorf("%w: model expects (%d,), pipeline has %d features",
				ErrShapeMismatch, m.InputShape[0], features)
		}
	default:
		return fmt.Errorf("%w: unsupported input shape %v", ErrShapeMismatch, m.InputShape)
	}
	return nil
}

// Adapter binds a Classifier to its Model metadata. The first call to
// Infer verifies the live input and output shapes; later calls trust them.
type Adapter struct {
	model      Model
	impl       Classifier
	windowSize int
	features   int
	verified   bool
}

// NewAdapter validates model against the pipeline dimensions and wraps impl.
func NewAdapter(model Model, impl Classifier, windowSize, features int) (*Adapter, error) {
	if impl == nil {
		return nil, fmt.Errorf("%w: nil classifier", ErrInvalidArtifact)
	}
	if err := model.Validate(windowSize, features); err != nil {
		return nil, err
	}
	return &Adapter{model: model, impl: impl, windowSize: windowSize, features: features}, nil
}

// Labels returns the class names in output order.
func (a *Adapter) Labels() []string { return a.model.Labels }

// Model returns the bound metadata.
func (a *Adapter) Model() Model { return a.model }

// Infer runs the classifier. Errors from the underlying model are returned
// unchanged (wrapped).
func (a *Adapter) Infer(window [][]float64) ([]float64, error) {
	if !a.verified {
		if len(window) != a.windowSize {
			return nil, fmt.Errorf("%w: window has %d rows, want %d", ErrShapeMismatch, len(window), a.windowSize)
		}
		for i, row := range window {
			if len(row) != a.features {
				return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrShapeMismatch, i, len(row), a.features)
			}
		}
	}

	out, err := a.impl.Infer(window)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	if !a.verified {
		if len(out) != len(a.model.Labels) {
			return nil, fmt.Errorf("%w: model returned %d values for %d labels", ErrShapeMismatch, len(out), len(a.model.Labels))
		}
		a.verified = true
	}
	return out, nil
}
