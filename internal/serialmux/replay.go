package serialmux

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/gesture/internal/monitoring"
	"github.com/banshee-data/gesture/internal/sample"
	"github.com/banshee-data/gesture/internal/timeutil"
)

// ReplayOptions configures a ReplayPort.
type ReplayOptions struct {
	// Path to a recording CSV (values followed by an optional label column).
	Path string
	// RateHz paces emitted lines; zero or less replays as fast as the
	// reader consumes them.
	RateHz float64
	// Loop restarts from the top of the file at EOF.
	Loop bool
	// Features is the number of leading columns forwarded per row.
	Features int
	Clock    timeutil.Clock
}

// ReplayPort is a SerialPorter that streams a recorded CSV as if it were
// the IMU. The header row is skipped and any columns past Features (the
// label) are dropped. Commands written to it are kept for inspection.
type ReplayPort struct {
	opts ReplayOptions

	r *io.PipeReader
	w *io.PipeWriter

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written bytes.Buffer
}

// OpenReplay checks that the recording exists and starts streaming it.
func OpenReplay(opts ReplayOptions) (*ReplayPort, error) {
	if opts.Path == "" {
		return nil, errors.New("replay path is empty")
	}
	if _, err := os.Stat(opts.Path); err != nil {
		return nil, fmt.Errorf("replay file: %w", err)
	}
	if opts.Features <= 0 {
		opts.Features = sample.DefaultFeatures
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}

	r, w := io.Pipe()
	p := &ReplayPort{opts: opts, r: r, w: w, done: make(chan struct{})}
	go p.stream()
	return p, nil
}

// NewReplaySerialMux creates a SerialMux fed from a recording.
func NewReplaySerialMux(opts ReplayOptions) (*SerialMux[*ReplayPort], error) {
	port, err := OpenReplay(opts)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port), nil
}

func (p *ReplayPort) stream() {
	var interval time.Duration
	if p.opts.RateHz > 0 {
		interval = time.Duration(float64(time.Second) / p.opts.RateHz)
	}

	for pass := 0; ; pass++ {
		n, err := p.replayOnce(interval)
		if err != nil {
			p.w.CloseWithError(err)
			return
		}
		monitoring.Debugf("replay: pass %d sent %d rows from %s", pass, n, p.opts.Path)
		if !p.opts.Loop || n == 0 {
			p.w.Close()
			return
		}
	}
}

// replayOnce streams the file a single time and returns the rows sent.
func (p *ReplayPort) replayOnce(interval time.Duration) (int, error) {
	f, err := os.Open(p.opts.Path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	parser := sample.NewParser(p.opts.Features)
	scan := bufio.NewScanner(f)
	sent := 0
	first := true
	for scan.Scan() {
		line := p.trimColumns(scan.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if _, err := parser.Parse(line); err != nil {
				continue // header
			}
		}

		select {
		case <-p.done:
			return sent, io.ErrClosedPipe
		default:
		}
		if _, err := io.WriteString(p.w, line+"\n"); err != nil {
			return sent, err
		}
		sent++
		if interval > 0 {
			p.opts.Clock.Sleep(interval)
		}
	}
	return sent, scan.Err()
}

func (p *ReplayPort) trimColumns(line string) string {
	line = strings.TrimSpace(line)
	fields := strings.Split(line, sample.DefaultDelimiter)
	if len(fields) > p.opts.Features {
		fields = fields[:p.opts.Features]
	}
	return strings.Join(fields, sample.DefaultDelimiter)
}

func (p *ReplayPort) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// Write records commands; there is no device to receive them.
func (p *ReplayPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return 0, io.ErrClosedPipe
	default:
	}
	return p.written.Write(b)
}

// Written returns everything written to the port so far.
func (p *ReplayPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// Close stops the replay and unblocks readers.
func (p *ReplayPort) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.r.Close()
	})
	return nil
}
