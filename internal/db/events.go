package db

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/gesture/internal/decision"
)

// Publish stores an emitted gesture, making *DB usable as an event sink.
func (db *DB) Publish(ctx context.Context, ev decision.Event) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO gesture_events (event_id, label, confidence, emitted_at) VALUES (?, ?, ?, ?)`,
		ev.ID, ev.Label, ev.Confidence, ev.Timestamp.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to store event %s: %w", ev.ID, err)
	}
	return nil
}

// RecentEvents returns up to limit stored events, newest first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]decision.Event, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT event_id, label, confidence, emitted_at
		FROM gesture_events ORDER BY emitted_at DESC, event_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []decision.Event{}
	for rows.Next() {
		var ev decision.Event
		var ts string
		if err := rows.Scan(&ev.ID, &ev.Label, &ev.Confidence, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("event %s: bad emitted_at: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
