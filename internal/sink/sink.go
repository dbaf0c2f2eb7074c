// Package sink delivers emitted gesture events to their consumers.
package sink

import (
	"context"
	"errors"

	"github.com/banshee-data/gesture/internal/decision"
)

// Sink receives every event the decision engine emits. Publish errors are
// reported to the caller, which logs them; they never stop the pipeline.
type Sink interface {
	Publish(ctx context.Context, ev decision.Event) error
}

// Func adapts a function to the Sink interface.
type Func func(ctx context.Context, ev decision.Event) error

func (f Func) Publish(ctx context.Context, ev decision.Event) error { return f(ctx, ev) }

// Discard drops every event.
var Discard Sink = Func(func(context.Context, decision.Event) error { return nil })

// Multi fans an event out to every sink in order. All sinks are attempted;
// their errors are joined.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev decision.Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
