// Package decision turns per-window class distributions into debounced
// gesture events.
package decision

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/gesture/internal/timeutil"
)

// DefaultUnknownLabel is reported when the best class is below threshold.
const DefaultUnknownLabel = "unknown"

// DefaultThreshold is the confidence floor used when none is configured.
const DefaultThreshold = 0.85

var (
	// ErrDistributionSize is returned when the distribution length differs
	// from the label count.
	ErrDistributionSize = errors.New("distribution size does not match labels")

	// ErrInvalidDistribution is returned for empty output or values outside
	// [0, 1].
	ErrInvalidDistribution = errors.New("invalid distribution")
)

// Policy selects how repeated labels are suppressed.
type Policy int

const (
	// PolicyChangeOnly emits only when the resolved label differs from
	// the previous one. "unknown" takes part in change detection.
	PolicyChangeOnly Policy = iota
	// PolicyChangeOrCooldown also re-emits an unchanged label once
	// MinInterval has passed since the last emission.
	PolicyChangeOrCooldown
)

func (p Policy) String() string {
	switch p {
	case PolicyChangeOnly:
		return "change-only"
	case PolicyChangeOrCooldown:
		return "change-or-cooldown"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "change-only", "change_only", "change":
		return PolicyChangeOnly, nil
	case "change-or-cooldown", "change_or_cooldown", "cooldown":
		return PolicyChangeOrCooldown, nil
	default:
		return 0, fmt.Errorf("unknown debounce policy %q: expected change-only or change-or-cooldown", s)
	}
}

// Config configures an Engine.
type Config struct {
	Labels       []string
	Threshold    float64
	Policy       Policy
	MinInterval  time.Duration
	UnknownLabel string
}

// Prediction is the gated outcome of one inference.
type Prediction struct {
	Label      string
	Confidence float64
}

// Event is an emitted gesture decision.
type Event struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Engine applies the confidence gate and the repetition policy. Decide must
// be called from a single goroutine; LastEvent may be read concurrently.
type Engine struct {
	cfg   Config
	clock timeutil.Clock

	mu           sync.Mutex
	lastLabel    string
	hasLabel     bool
	lastEmission time.Time
	hasEmitted   bool
	lastEvent    *Event
}

// NewEngine validates cfg and returns an Engine in its initial state: no
// previous label and no previous emission, so the first decision is always
// emitted.
func NewEngine(cfg Config, clock timeutil.Clock) (*Engine, error) {
	if len(cfg.Labels) == 0 {
		return nil, errors.New("decision engine needs at least one label")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 || math.IsNaN(cfg.Threshold) {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %v", cfg.Threshold)
	}
	if cfg.Policy == PolicyChangeOrCooldown && cfg.MinInterval <= 0 {
		return nil, fmt.Errorf("change-or-cooldown policy needs a positive min interval, got %v", cfg.MinInterval)
	}
	if cfg.UnknownLabel == "" {
		cfg.UnknownLabel = DefaultUnknownLabel
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	cfg.Labels = append([]string(nil), cfg.Labels...)
	return &Engine{cfg: cfg, clock: clock}, nil
}

// Resolve applies the confidence gate. Ties go to the lowest index. A
// confidence equal to the threshold passes.
func (e *Engine) Resolve(dist []float64) (Prediction, error) {
	if len(dist) == 0 {
		return Prediction{}, fmt.Errorf("%w: empty", ErrInvalidDistribution)
	}
	if len(dist) != len(e.cfg.Labels) {
		return Prediction{}, fmt.Errorf("%w: got %d values for %d labels", ErrDistributionSize, len(dist), len(e.cfg.Labels))
	}

	idx := 0
	for i, v := range dist {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return Prediction{}, fmt.Errorf("%w: value %d is %v", ErrInvalidDistribution, i, v)
		}
		if v > dist[idx] {
			idx = i
		}
	}

	conf := dist[idx]
	if conf < e.cfg.Threshold {
		return Prediction{Label: e.cfg.UnknownLabel, Confidence: conf}, nil
	}
	return Prediction{Label: e.cfg.Labels[idx], Confidence: conf}, nil
}

// Decide resolves dist and reports whether an event should be surfaced.
// At most one event is produced per call.
func (e *Engine) Decide(dist []float64) (Event, bool, error) {
	p, err := e.Resolve(dist)
	if err != nil {
		return Event{}, false, err
	}
	return e.Observe(p)
}

// Observe runs the repetition policy for an already resolved prediction.
func (e *Engine) Observe(p Prediction) (Event, bool, error) {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	changed := !e.hasLabel || p.Label != e.lastLabel
	emit := changed
	if !emit && e.cfg.Policy == PolicyChangeOrCooldown {
		emit = !e.hasEmitted || now.Sub(e.lastEmission) >= e.cfg.MinInterval
	}

	e.lastLabel = p.Label
	e.hasLabel = true
	if !emit {
		return Event{}, false, nil
	}

	ev := Event{
		ID:         uuid.NewString(),
		Label:      p.Label,
		Confidence: p.Confidence,
		Timestamp:  now,
	}
	e.lastEmission = now
	e.hasEmitted = true
	e.lastEvent = &ev
	return ev, true, nil
}

// LastEvent returns the most recently emitted event, if any.
func (e *Engine) LastEvent() (Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastEvent == nil {
		return Event{}, false
	}
	return *e.lastEvent, true
}

// Labels returns the configured label set.
func (e *Engine) Labels() []string { return e.cfg.Labels }
