package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/gesture/internal/decision"
)

// Console prints one line per event, e.g. "Gesture: shake (0.97)".
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Publish(_ context.Context, ev decision.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "Gesture: %s (%.2f)\n", ev.Label, ev.Confidence)
	return err
}
