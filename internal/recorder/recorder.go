// Package recorder captures labelled training data from the sensor stream
// into a CSV file, one interactive session per gesture.
package recorder

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/gesture/internal/db"
	"github.com/banshee-data/gesture/internal/monitoring"
	"github.com/banshee-data/gesture/internal/sample"
	"github.com/banshee-data/gesture/internal/timeutil"
)

var (
	// ErrTransportUnavailable means no sensor stream was opened; sessions
	// are skipped.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrTransportClosed means the stream ended before a session collected
	// all of its samples. Nothing is written for that session.
	ErrTransportClosed = errors.New("transport closed during recording")
	ErrInvalidSession  = errors.New("invalid session")
)

// DefaultCountdown is the pause between accepting a session and collecting
// its first sample.
const DefaultCountdown = 1500 * time.Millisecond

// Catalog stores a summary of each completed session.
type Catalog interface {
	InsertRecording(ctx context.Context, r db.Recording) (string, error)
}

type Options struct {
	// In and Out carry the interactive prompts.
	In  io.Reader
	Out io.Writer
	// Lines is the sensor stream. Nil means the transport could not be
	// opened.
	Lines   <-chan string
	Parser  sample.Parser
	CSVPath string
	// Catalog is optional.
	Catalog   Catalog
	Countdown time.Duration
	// DiscardQueued drops the lines already queued when the countdown
	// ends, so a session starts with fresh motion.
	DiscardQueued bool
	Clock         timeutil.Clock
}

type Recorder struct {
	in        io.Reader
	out       io.Writer
	lines     <-chan string
	parser    sample.Parser
	csvPath   string
	catalog   Catalog
	countdown time.Duration
	discard   bool
	clock     timeutil.Clock
}

func New(opts Options) (*Recorder, error) {
	if opts.CSVPath == "" {
		return nil, errors.New("recorder: csv path is required")
	}
	if opts.Countdown < 0 {
		return nil, errors.New("recorder: countdown must not be negative")
	}
	r := &Recorder{
		in:        opts.In,
		out:       opts.Out,
		lines:     opts.Lines,
		parser:    opts.Parser,
		csvPath:   opts.CSVPath,
		catalog:   opts.Catalog,
		countdown: opts.Countdown,
		discard:   opts.DiscardQueued,
		clock:     opts.Clock,
	}
	if r.in == nil {
		r.in = os.Stdin
	}
	if r.out == nil {
		r.out = os.Stdout
	}
	if r.clock == nil {
		r.clock = timeutil.RealClock{}
	}
	return r, nil
}

// Session waits for the countdown, collects exactly count valid samples
// paced at rateHz, appends them to the CSV and catalogues the session.
// Lines that fail to parse are reported and do not count.
func (r *Recorder) Session(ctx context.Context, label string, count int, rateHz float64) (db.Recording, error) {
	label = strings.TrimSpace(label)
	switch {
	case label == "":
		return db.Recording{}, fmt.Errorf("%w: label is required", ErrInvalidSession)
	case count < 1:
		return db.Recording{}, fmt.Errorf("%w: sample count must be positive, got %d", ErrInvalidSession, count)
	case !(rateHz > 0):
		return db.Recording{}, fmt.Errorf("%w: sampling rate must be positive, got %v", ErrInvalidSession, rateHz)
	}

	fmt.Fprintf(r.out, "\nRecording '%s' for %d samples at %g Hz...\n", label, count, rateHz)
	r.clock.Sleep(r.countdown)

	if r.lines == nil {
		return db.Recording{}, ErrTransportUnavailable
	}
	if r.discard {
		r.discardQueued()
	}

	interval := time.Duration(float64(time.Second) / rateHz)
	started := r.clock.Now()
	rows := make([][]float64, 0, count)
	for len(rows) < count {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return db.Recording{}, ctx.Err()
		case line, ok = <-r.lines:
		}
		if !ok {
			return db.Recording{}, fmt.Errorf("%w after %d of %d samples", ErrTransportClosed, len(rows), count)
		}

		s, err := r.parser.Parse(line)
		if err != nil {
			var mal *sample.MalformedSampleError
			if errors.As(err, &mal) {
				fmt.Fprintf(r.out, "Invalid data (%s): %q\n", mal.Reason, strings.TrimSpace(line))
				continue
			}
			return db.Recording{}, err
		}
		rows = append(rows, s)
		fmt.Fprintf(r.out, "[%d] %s,%s\n", len(rows), r.parser.Format(s), label)
		r.clock.Sleep(interval)
	}

	if err := appendCSV(r.csvPath, label, rows); err != nil {
		return db.Recording{}, err
	}
	rec := db.Recording{
		Label:      label,
		Samples:    len(rows),
		RateHz:     rateHz,
		CSVPath:    r.csvPath,
		StartedAt:  started,
		FinishedAt: r.clock.Now(),
	}
	if r.catalog != nil {
		id, err := r.catalog.InsertRecording(ctx, rec)
		if err != nil {
			monitoring.Warnf("failed to catalogue recording of %q: %v", label, err)
		} else {
			rec.ID = id
		}
	}
	fmt.Fprintf(r.out, "%d samples of '%s' recorded.\n", len(rows), label)
	return rec, nil
}

// discardQueued drops the lines queued at the time of the call. Lines that
// arrive while it runs are kept.
func (r *Recorder) discardQueued() {
	n := len(r.lines)
	for i := 0; i < n; i++ {
		if _, ok := <-r.lines; !ok {
			return
		}
	}
	if n > 0 {
		monitoring.Debugf("discarded %d queued lines before recording", n)
	}
}

// Run prompts for sessions until the user enters q, input ends or ctx is
// cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	answers := make(chan string)
	go func() {
		defer close(answers)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case answers <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	ask := func(prompt string) (string, bool) {
		fmt.Fprint(r.out, prompt)
		select {
		case <-ctx.Done():
			return "", false
		case s, ok := <-answers:
			return strings.TrimSpace(s), ok
		}
	}

	defer fmt.Fprintf(r.out, "Done recording. CSV saved to: %s\n", r.csvPath)
	for {
		fmt.Fprintln(r.out, "\n=== Record New Gesture ===")
		label, ok := ask("Enter gesture name (or 'q' to quit): ")
		if !ok {
			return ctx.Err()
		}
		if strings.EqualFold(label, "q") {
			return nil
		}
		if label == "" {
			fmt.Fprintln(r.out, "Gesture name must not be empty.")
			continue
		}

		countText, ok := ask("Enter number of samples to record: ")
		if !ok {
			return ctx.Err()
		}
		count, err := strconv.Atoi(countText)
		if err != nil || count < 1 {
			fmt.Fprintln(r.out, "Invalid input. Try again.")
			continue
		}
		rateText, ok := ask("Enter sampling rate (Hz): ")
		if !ok {
			return ctx.Err()
		}
		rate, err := strconv.ParseFloat(rateText, 64)
		if err != nil || !(rate > 0) || rate > 1e6 {
			fmt.Fprintln(r.out, "Invalid input. Try again.")
			continue
		}

		_, err = r.Session(ctx, label, count, rate)
		switch {
		case err == nil:
		case errors.Is(err, ErrTransportUnavailable):
			fmt.Fprintln(r.out, "Serial not available. Skipping.")
		default:
			return err
		}
	}
}

// CSVHeader is the first row of a new recordings file.
func CSVHeader(features int) []string {
	header := make([]string, 0, features+1)
	for i := 0; i < features; i++ {
		if i < len(sample.FeatureNames) {
			header = append(header, sample.FeatureNames[i])
		} else {
			header = append(header, fmt.Sprintf("f%d", i))
		}
	}
	return append(header, "label")
}

// appendCSV appends rows to path, writing the header only when the file
// is new or empty.
func appendCSV(path, label string, rows [][]float64) error {
	writeHeader := true
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		writeHeader = false
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader && len(rows) > 0 {
		if err := w.Write(CSVHeader(len(rows[0]))); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	record := make([]string, 0, 8)
	for _, row := range rows {
		record = record[:0]
		for _, v := range row {
			record = append(record, strconv.FormatFloat(v, 'f', -1, 64))
		}
		record = append(record, label)
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return f.Close()
}
