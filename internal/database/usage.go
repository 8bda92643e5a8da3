package database

import (
	"context"
	"fmt"
	"time"
)

// SourceVideo is the source kind recorded for video transcriptions.
const SourceVideo = "video"

// UsageEvent is one completed transcription.
type UsageEvent struct {
	ID           int64     `json:"id"`
	Filename     string    `json:"filename"`
	SourceKind   string    `json:"source_kind"`
	CompletionMs int64     `json:"completion_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecordUsage inserts a usage event and returns its id.
func (db *DB) RecordUsage(ctx context.Context, e UsageEvent) (int64, error) {
	if e.SourceKind == "" {
		e.SourceKind = SourceVideo
	}
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO transcription_events (filename, source_kind, completion_ms)
		VALUES ($1, $2, $3)
		RETURNING id`,
		e.Filename, e.SourceKind, e.CompletionMs,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert usage event: %w", err)
	}
	return id, nil
}

// UsageSummary aggregates usage events by source kind.
type UsageSummary struct {
	SourceKind      string `json:"source_kind"`
	Count           int64  `json:"count"`
	AvgCompletionMs int64  `json:"avg_completion_ms"`
}

// SummarizeUsage aggregates events created at or after since.
func (db *DB) SummarizeUsage(ctx context.Context, since time.Time) ([]UsageSummary, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT source_kind, count(*), COALESCE(avg(completion_ms), 0)::bigint
		FROM transcription_events
		WHERE created_at >= $1
		GROUP BY source_kind
		ORDER BY source_kind`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageSummary
	for rows.Next() {
		var s UsageSummary
		if err := rows.Scan(&s.SourceKind, &s.Count, &s.AvgCompletionMs); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
