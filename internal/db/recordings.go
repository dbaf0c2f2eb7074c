package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidRecording is returned when a recording is missing required
// fields.
var ErrInvalidRecording = errors.New("invalid recording")

// timeFormat stores timestamps as fixed-width UTC text so they sort
// lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Recording is one completed capture session.
type Recording struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Samples    int       `json:"samples"`
	RateHz     float64   `json:"rate_hz"`
	CSVPath    string    `json:"csv_path"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// LabelSummary aggregates the sessions captured for one label.
type LabelSummary struct {
	Label      string `json:"label"`
	Recordings int    `json:"recordings"`
	Samples    int    `json:"samples"`
}

// InsertRecording stores r, assigning a new ID when r.ID is empty, and
// returns the stored ID.
func (db *DB) InsertRecording(ctx context.Context, r Recording) (string, error) {
	if strings.TrimSpace(r.Label) == "" {
		return "", fmt.Errorf("%w: label is required", ErrInvalidRecording)
	}
	if r.Samples < 0 {
		return "", fmt.Errorf("%w: negative sample count %d", ErrInvalidRecording, r.Samples)
	}
	if r.FinishedAt.Before(r.StartedAt) {
		return "", fmt.Errorf("%w: finished before it started", ErrInvalidRecording)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO recordings (
			recording_id, label, samples, rate_hz, csv_path, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Label, r.Samples, r.RateHz, r.CSVPath,
		r.StartedAt.UTC().Format(timeFormat), r.FinishedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert recording: %w", err)
	}
	return r.ID, nil
}

// ListRecordings returns recordings oldest first, restricted to label when
// it is non-empty.
func (db *DB) ListRecordings(ctx context.Context, label string) ([]Recording, error) {
	query := `SELECT recording_id, label, samples, rate_hz, csv_path, started_at, finished_at
		FROM recordings`
	var args []any
	if label != "" {
		query += ` WHERE label = ?`
		args = append(args, label)
	}
	query += ` ORDER BY started_at, recording_id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recordings: %w", err)
	}
	defer rows.Close()

	recs := []Recording{}
	for rows.Next() {
		var r Recording
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Label, &r.Samples, &r.RateHz, &r.CSVPath, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("recording %s: bad started_at: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("recording %s: bad finished_at: %w", r.ID, err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// SummarizeLabels counts sessions and samples per label, alphabetically.
func (db *DB) SummarizeLabels(ctx context.Context) ([]LabelSummary, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT label, COUNT(*), COALESCE(SUM(samples), 0)
		FROM recordings GROUP BY label ORDER BY label`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize recordings: %w", err)
	}
	defer rows.Close()

	out := []LabelSummary{}
	for rows.Next() {
		var s LabelSummary
		if err := rows.Scan(&s.Label, &s.Recordings, &s.Samples); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
