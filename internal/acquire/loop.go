// Package acquire drives the live pipeline: it drains transport lines into
// the sliding window and, at a bounded cadence, normalises the window,
// classifies it and hands any resulting gesture event to the sinks.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/gesture/internal/classifier"
	"github.com/banshee-data/gesture/internal/decision"
	"github.com/banshee-data/gesture/internal/metrics"
	"github.com/banshee-data/gesture/internal/monitoring"
	"github.com/banshee-data/gesture/internal/normalize"
	"github.com/banshee-data/gesture/internal/sample"
	"github.com/banshee-data/gesture/internal/sink"
	"github.com/banshee-data/gesture/internal/timeutil"
	"github.com/banshee-data/gesture/internal/window"
)

// ErrSourceClosed is returned by Run when the transport stops delivering
// lines. Reconnecting is up to the caller.
var ErrSourceClosed = errors.New("transport closed")

const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultMaxDrain     = 512
)

// Config holds the loop's timing knobs.
type Config struct {
	// InferenceInterval is the minimum time between inference attempts once
	// the window is full. Zero allows one attempt per iteration.
	InferenceInterval time.Duration
	// PollInterval is the sleep between iterations.
	PollInterval time.Duration
	// MaxDrain caps the lines consumed per iteration so a burst cannot
	// starve inference.
	MaxDrain int
}

// Options wires the loop to its collaborators. Lines, Window, Scaler,
// Classifier and Engine are required.
type Options struct {
	Config     Config
	Lines      <-chan string
	Parser     sample.Parser
	Window     *window.Buffer
	Scaler     *normalize.Scaler
	Classifier classifier.Classifier
	Engine     *decision.Engine
	Sink       sink.Sink
	Clock      timeutil.Clock
	Metrics    *metrics.Pipeline
}

// Loop is the acquisition loop. Run must be called from a single goroutine;
// Status may be called from anywhere.
type Loop struct {
	cfg        Config
	lines      <-chan string
	parser     sample.Parser
	window     *window.Buffer
	scaler     *normalize.Scaler
	classifier classifier.Classifier
	engine     *decision.Engine
	sink       sink.Sink
	clock      timeutil.Clock
	metrics    *metrics.Pipeline

	received   atomic.Uint64
	malformed  atomic.Uint64
	inferences atomic.Uint64
	events     atomic.Uint64
	running    atomic.Bool

	mu            sync.Mutex
	lastInference time.Time

	// pushed is set when a sample entered the window since the last
	// inference. Only Run's goroutine touches it.
	pushed bool
}

// New validates the wiring and returns a loop ready to Run. A feature count
// disagreement between parser, window and scaler is a configuration error.
func New(opts Options) (*Loop, error) {
	switch {
	case opts.Lines == nil:
		return nil, errors.New("acquire: no line source")
	case opts.Window == nil:
		return nil, errors.New("acquire: no window")
	case opts.Scaler == nil:
		return nil, errors.New("acquire: no scaler")
	case opts.Classifier == nil:
		return nil, errors.New("acquire: no classifier")
	case opts.Engine == nil:
		return nil, errors.New("acquire: no decision engine")
	}

	features := opts.Window.Features()
	if opts.Parser.Features == 0 {
		opts.Parser = sample.NewParser(features)
	}
	if opts.Parser.Features != features {
		return nil, fmt.Errorf("acquire: parser expects %d features, window holds %d: %w",
			opts.Parser.Features, features, window.ErrFeatureCount)
	}
	if err := opts.Scaler.CheckFeatures(features); err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}

	cfg := opts.Config
	if cfg.InferenceInterval < 0 {
		return nil, fmt.Errorf("acquire: negative inference interval %s", cfg.InferenceInterval)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxDrain <= 0 {
		cfg.MaxDrain = DefaultMaxDrain
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Sink == nil {
		opts.Sink = sink.Discard
	}

	return &Loop{
		cfg:        cfg,
		lines:      opts.Lines,
		parser:     opts.Parser,
		window:     opts.Window,
		scaler:     opts.Scaler,
		classifier: opts.Classifier,
		engine:     opts.Engine,
		sink:       opts.Sink,
		clock:      opts.Clock,
		metrics:    opts.Metrics,
	}, nil
}

// Run loops until ctx is cancelled, the line source closes or the
// inference path fails. It returns ctx.Err(), ErrSourceClosed or the
// inference error respectively. Lines still queued at that point are
// discarded. A window that has not changed since the last inference is not
// classified again.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	defer l.running.Store(false)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		closed, err := l.drain()
		if err != nil {
			return err
		}

		if l.pushed && l.window.IsFull() && l.due() {
			if err := l.infer(ctx); err != nil {
				return err
			}
		}

		if closed {
			return ErrSourceClosed
		}
		l.clock.Sleep(l.cfg.PollInterval)
	}
}

// drain consumes whatever lines are already queued, up to MaxDrain, and
// reports whether the source has closed.
func (l *Loop) drain() (bool, error) {
	defer func() { l.metrics.WindowFill(l.window.Len()) }()

	for i := 0; i < l.cfg.MaxDrain; i++ {
		select {
		case line, ok := <-l.lines:
			if !ok {
				return true, nil
			}
			if err := l.handle(line); err != nil {
				return false, err
			}
		default:
			return false, nil
		}
	}
	return false, nil
}

// handle parses and pushes one line. Only malformed input is tolerated.
func (l *Loop) handle(line string) error {
	l.received.Add(1)
	s, err := l.parser.Parse(line)
	if err != nil {
		var malformed *sample.MalformedSampleError
		if errors.As(err, &malformed) {
			l.malformed.Add(1)
			l.metrics.LineMalformed()
			monitoring.Debugf("acquire: skipping line: %v", err)
			return nil
		}
		return fmt.Errorf("parse line: %w", err)
	}
	if err := l.window.Push(s); err != nil {
		return fmt.Errorf("push sample: %w", err)
	}
	l.pushed = true
	return nil
}

func (l *Loop) due() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inferences.Load() == 0 || l.cfg.InferenceInterval == 0 {
		return true
	}
	return l.clock.Since(l.lastInference) >= l.cfg.InferenceInterval
}

// infer runs normalize -> classify -> decide once on the current window.
func (l *Loop) infer(ctx context.Context) error {
	start := l.clock.Now()
	l.mu.Lock()
	l.lastInference = start
	l.mu.Unlock()
	l.inferences.Add(1)
	l.pushed = false

	ev, emitted, err := l.evaluate(l.window.Snapshot())
	l.metrics.Inference(l.clock.Since(start), err)
	if err != nil {
		return err
	}
	if !emitted {
		return nil
	}

	l.events.Add(1)
	l.metrics.Event(ev.Label)
	if err := l.sink.Publish(ctx, ev); err != nil {
		monitoring.Warnf("acquire: publishing %s event: %v", ev.Label, err)
	}
	return nil
}

func (l *Loop) evaluate(win [][]float64) (decision.Event, bool, error) {
	normalized, err := l.scaler.Transform(win)
	if err != nil {
		return decision.Event{}, false, fmt.Errorf("normalize window: %w", err)
	}
	dist, err := l.classifier.Infer(normalized)
	if err != nil {
		return decision.Event{}, false, fmt.Errorf("classify window: %w", err)
	}
	ev, ok, err := l.engine.Decide(dist)
	if err != nil {
		return decision.Event{}, false, fmt.Errorf("decide: %w", err)
	}
	return ev, ok, nil
}

// Status is a point-in-time view of the loop for the status endpoint.
type Status struct {
	Running        bool            `json:"running"`
	WindowFill     int             `json:"window_fill"`
	WindowCapacity int             `json:"window_capacity"`
	Lines          uint64          `json:"lines"`
	MalformedLines uint64          `json:"malformed_lines"`
	Inferences     uint64          `json:"inferences"`
	Events         uint64          `json:"events"`
	LastInference  *time.Time      `json:"last_inference,omitempty"`
	LastEvent      *decision.Event `json:"last_event,omitempty"`
}

// Status reports counters and the last emitted event.
func (l *Loop) Status() Status {
	st := Status{
		Running:        l.running.Load(),
		WindowFill:     l.window.Len(),
		WindowCapacity: l.window.Cap(),
		Lines:          l.received.Load(),
		MalformedLines: l.malformed.Load(),
		Inferences:     l.inferences.Load(),
		Events:         l.events.Load(),
	}
	l.mu.Lock()
	if st.Inferences > 0 {
		t := l.lastInference
		st.LastInference = &t
	}
	l.mu.Unlock()
	if ev, ok := l.engine.LastEvent(); ok {
		st.LastEvent = &ev
	}
	return st
}
