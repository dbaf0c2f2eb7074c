package acquire

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func init() {
	monitoring.SetLogger(nil)
}

// feed returns a closed, pre-filled line channel.
func feed(lines ...string) <-chan string {
	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return ch
}

// recorder captures the windows a classifier is asked about.
type recorder struct {
	mu      sync.Mutex
	windows [][][]float64
	dist    func(win [][]float64) ([]float64, error)
}

func (r *recorder) Infer(win [][]float64) ([]float64, error) {
	r.mu.Lock()
	r.windows = append(r.windows, win)
	r.mu.Unlock()
	return r.dist(win)
}

func constant(dist ...float64) *recorder {
	return &recorder{dist: func([][]float64) ([]float64, error) { return dist, nil }}
}

type harness struct {
	clock  *timeutil.MockClock
	window *window.Buffer
	engine *decision.Engine
	events []decision.Event
}

func newHarness(t *testing.T, capacity int, labels ...string) *harness {
	t.Helper()
	if len(labels) == 0 {
		labels = []string{"idle", "shake"}
	}
	h := &harness{clock: timeutil.NewAutoClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))}
	var err error
	h.window, err = window.New(capacity, 2)
	require.NoError(t, err)
	h.engine, err = decision.NewEngine(decision.Config{Labels: labels, Threshold: 0.85}, h.clock)
	require.NoError(t, err)
	return h
}

func (h *harness) loop(t *testing.T, cfg Config, lines <-chan string, c classifier.Classifier) *Loop {
	t.Helper()
	l, err := New(Options{
		Config:     cfg,
		Lines:      lines,
		Window:     h.window,
		Scaler:     normalize.Identity(2),
		Classifier: c,
		Engine:     h.engine,
		Clock:      h.clock,
		Sink: sink.Func(func(_ context.Context, ev decision.Event) error {
			h.events = append(h.events, ev)
			return nil
		}),
	})
	require.NoError(t, err)
	return l
}

func TestRun_WindowScenarioAndMalformedLine(t *testing.T) {
	h := newHarness(t, 3)
	c := constant(0.9, 0.1)

	l, err := New(Options{
		Lines:      feed("1,1", "2,2", "1,2,abc,4,5", "3,3", "4,4"),
		Window:     h.window,
		Scaler:     &normalize.Scaler{Mean: []float64{1, 1}, Scale: []float64{2, 2}},
		Classifier: c,
		Engine:     h.engine,
		Clock:      h.clock,
	})
	require.NoError(t, err)

	err = l.Run(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)

	if diff := cmp.Diff([][]float64{{2, 2}, {3, 3}, {4, 4}}, h.window.Snapshot()); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, c.windows, 1)
	want := [][]float64{{0.5, 0.5}, {1, 1}, {1.5, 1.5}}
	if diff := cmp.Diff(want, c.windows[0], cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("classifier input mismatch (-want +got):\n%s", diff)
	}

	st := l.Status()
	assert.Equal(t, uint64(5), st.Lines)
	assert.Equal(t, uint64(1), st.MalformedLines)
	assert.Equal(t, uint64(1), st.Inferences)
	assert.Equal(t, uint64(1), st.Events)
	assert.Equal(t, 3, st.WindowFill)
	assert.Equal(t, 3, st.WindowCapacity)
	assert.False(t, st.Running)
	require.NotNil(t, st.LastEvent)
	assert.Equal(t, "idle", st.LastEvent.Label)
	require.NotNil(t, st.LastInference)
}

func TestRun_NoInferenceBeforeWindowFull(t *testing.T) {
	h := newHarness(t, 5)
	c := constant(0.9, 0.1)
	l := h.loop(t, Config{}, feed("1,1", "2,2", "3,3", "4,4"), c)

	assert.ErrorIs(t, l.Run(context.Background()), ErrSourceClosed)
	assert.Empty(t, c.windows)
	assert.Empty(t, h.events)
}

func lines(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "1,1"
	}
	return out
}

func TestRun_InferenceCadence(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		want     int
	}{
		// one line per 10ms iteration; window full at t=20ms, last line at
		// t=190ms, source closed at t=200ms
		{"every iteration", 0, 18},
		{"every 30ms", 30 * time.Millisecond, 6},
		{"slower than the stream", time.Second, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 3)
			c := constant(0.9, 0.1)
			l := h.loop(t, Config{
				InferenceInterval: tt.interval,
				PollInterval:      10 * time.Millisecond,
				MaxDrain:          1,
			}, feed(lines(20)...), c)

			assert.ErrorIs(t, l.Run(context.Background()), ErrSourceClosed)
			assert.Len(t, c.windows, tt.want)
			assert.Len(t, h.events, 1, "change-only: a constant label is emitted once")
		})
	}
}

func TestRun_BoundedDrain(t *testing.T) {
	h := newHarness(t, 3)
	c := constant(0.9, 0.1)
	l := h.loop(t, Config{PollInterval: 10 * time.Millisecond, MaxDrain: 4}, feed(lines(10)...), c)

	assert.ErrorIs(t, l.Run(context.Background()), ErrSourceClosed)
	// 4 + 4 + 2 lines then the close is seen on the third iteration
	assert.Len(t, c.windows, 3)
	assert.Len(t, h.clock.Sleeps(), 2)
}

func TestRun_EmitsOnLabelChange(t *testing.T) {
	h := newHarness(t, 2)
	c := &recorder{dist: func(win [][]float64) ([]float64, error) {
		if win[len(win)-1][0] < 10 {
			return []float64{0.9, 0.1}, nil
		}
		return []float64{0.1, 0.9}, nil
	}}
	l := h.loop(t, Config{MaxDrain: 1},
		feed("1,1", "2,2", "3,3", "20,20", "21,21", "22,22", "4,4"), c)

	assert.ErrorIs(t, l.Run(context.Background()), ErrSourceClosed)

	var got []string
	for _, ev := range h.events {
		got = append(got, ev.Label)
		assert.NotEmpty(t, ev.ID)
	}
	assert.Equal(t, []string{"idle", "shake", "idle"}, got)
	// one inference per full window; the close adds nothing new
	assert.Len(t, c.windows, 6)
}

func TestRun_UnchangedWindowIsNotReclassified(t *testing.T) {
	h := newHarness(t, 2)
	var err error
	h.engine, err = decision.NewEngine(decision.Config{
		Labels:      []string{"idle", "shake"},
		Threshold:   0.85,
		Policy:      decision.PolicyChangeOrCooldown,
		MinInterval: time.Second,
	}, h.clock)
	require.NoError(t, err)

	// the source stays open but goes quiet once the window is full
	src := make(chan string, 2)
	src <- "1,1"
	src <- "2,2"
	c := constant(0.9, 0.1)
	l := h.loop(t, Config{PollInterval: 10 * time.Millisecond}, src, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// the auto clock advances on every poll, so simulated minutes pass
	require.Eventually(t, func() bool {
		return h.clock.Since(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) > time.Minute
	}, 5*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Len(t, c.windows, 1)
	assert.Len(t, h.events, 1, "a silent sensor must not re-emit the last gesture")
	assert.Equal(t, uint64(1), l.Status().Inferences)
}

func TestRun_InferenceErrorIsFatal(t *testing.T) {
	h := newHarness(t, 2)
	boom := errors.New("corrupt artifact")
	c := &recorder{dist: func([][]float64) ([]float64, error) { return nil, boom }}
	l := h.loop(t, Config{}, feed("1,1", "2,2", "3,3"), c)

	err := l.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, h.events, "a failed inference must not be turned into an unknown event")
}

func TestRun_ShapeMismatchDetectedOnFirstFullWindow(t *testing.T) {
	h := newHarness(t, 2)
	model := classifier.Model{Labels: []string{"idle", "shake"}, InputShape: []int{2, 2}}
	adapter, err := classifier.NewAdapter(model, constant(0.5, 0.3, 0.2), 2, 2)
	require.NoError(t, err)
	l := h.loop(t, Config{}, feed("1,1", "2,2"), adapter)

	err = l.Run(context.Background())
	assert.ErrorIs(t, err, classifier.ErrShapeMismatch)
}

func TestRun_DistributionSizeMismatch(t *testing.T) {
	h := newHarness(t, 2)
	l := h.loop(t, Config{}, feed("1,1", "2,2"), constant(1))

	assert.ErrorIs(t, l.Run(context.Background()), decision.ErrDistributionSize)
}

func TestRun_SinkErrorsAreNotFatal(t *testing.T) {
	h := newHarness(t, 1)
	published := 0
	c := &recorder{dist: func(win [][]float64) ([]float64, error) {
		if win[0][0] > 1 {
			return []float64{0.1, 0.9}, nil
		}
		return []float64{0.9, 0.1}, nil
	}}
	l, err := New(Options{
		Config:     Config{MaxDrain: 1},
		Lines:      feed("1,1", "2,2", "1,1"),
		Window:     h.window,
		Scaler:     normalize.Identity(2),
		Classifier: c,
		Engine:     h.engine,
		Clock:      h.clock,
		Sink: sink.Func(func(context.Context, decision.Event) error {
			published++
			return errors.New("broker down")
		}),
	})
	require.NoError(t, err)

	assert.ErrorIs(t, l.Run(context.Background()), ErrSourceClosed)
	assert.Equal(t, 3, published)
	assert.Equal(t, uint64(3), l.Status().Events)
}

func TestRun_Cancellation(t *testing.T) {
	h := newHarness(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := h.loop(t, Config{}, make(chan string), constant(0.9, 0.1))
	assert.ErrorIs(t, l.Run(ctx), context.Canceled)

	// cancelling from inside the pipeline stops the loop on the next iteration
	src := make(chan string, 10)
	for _, line := range lines(10) {
		src <- line
	}
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	count := 0
	l, err := New(Options{
		Config:     Config{MaxDrain: 1},
		Lines:      src,
		Window:     h.window,
		Scaler:     normalize.Identity(2),
		Classifier: constant(0.9, 0.1),
		Engine:     h.engine,
		Clock:      h.clock,
		Sink: sink.Func(func(context.Context, decision.Event) error {
			count++
			cancel()
			return nil
		}),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, l.Run(ctx), context.Canceled)
	assert.Equal(t, 1, count)
	assert.NotEmpty(t, src, "queued lines are discarded on cancellation")
}

func TestRun_Metrics(t *testing.T) {
	h := newHarness(t, 2)
	reg := prometheus.NewRegistry()
	l, err := New(Options{
		Lines:      feed("1,1", "oops", "2,2"),
		Window:     h.window,
		Scaler:     normalize.Identity(2),
		Classifier: constant(0.9, 0.1),
		Engine:     h.engine,
		Clock:      h.clock,
		Metrics:    metrics.NewPipeline(reg),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, l.Run(context.Background()), ErrSourceClosed)

	for name, want := range map[string]int{
		"gesture_transport_malformed_lines_total": 1,
		"gesture_pipeline_inferences_total":       1,
		"gesture_pipeline_events_total":           1,
	} {
		n, err := testutil.GatherAndCount(reg, name)
		require.NoError(t, err)
		assert.Equal(t, want, n, name)
	}
}

func TestNew_Validation(t *testing.T) {
	h := newHarness(t, 2)
	base := func() Options {
		return Options{
			Lines:      feed(),
			Window:     h.window,
			Scaler:     normalize.Identity(2),
			Classifier: constant(0.9, 0.1),
			Engine:     h.engine,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr error
	}{
		{"no lines", func(o *Options) { o.Lines = nil }, nil},
		{"no window", func(o *Options) { o.Window = nil }, nil},
		{"no scaler", func(o *Options) { o.Scaler = nil }, nil},
		{"no classifier", func(o *Options) { o.Classifier = nil }, nil},
		{"no engine", func(o *Options) { o.Engine = nil }, nil},
		{"scaler width", func(o *Options) { o.Scaler = normalize.Identity(6) }, normalize.ErrFeatureMismatch},
		{"parser width", func(o *Options) { o.Parser = sample.NewParser(6) }, window.ErrFeatureCount},
		{"negative interval", func(o *Options) { o.Config.InferenceInterval = -time.Second }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base()
			tt.mutate(&opts)
			_, err := New(opts)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}

	l, err := New(base())
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, l.cfg.PollInterval)
	assert.Equal(t, DefaultMaxDrain, l.cfg.MaxDrain)
}
