package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/tatolab/streamlib-sub000/errors"
)

// ErrorRecord is a stored error event.
type ErrorRecord struct {
	RunID      string
	HandlerID  string
	Frame      uint64
	ClockID    string
	Timestamp  float64
	Class      string
	Message    string
	RecordedAt time.Time
}

// LifecycleRecord is a stored lifecycle event.
type LifecycleRecord struct {
	RunID     string
	HandlerID string
	From      string
	To        string
	At        time.Time
}

// HandlerSummary counts the errors recorded for a handler in a run.
type HandlerSummary struct {
	HandlerID  string
	Errors     int
	FirstFrame uint64
	LastFrame  uint64
	LastState  string
}

// Errors returns the error records of the current run for handlerID, oldest
// first. An empty handlerID returns every handler's records; limit <= 0 means no limit.
func (j *Journal) Errors(ctx context.Context, handlerID string, limit int) ([]ErrorRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, handler_id, frame, clock_id, tick_ts, class, message, recorded_at
		FROM errors
		WHERE run_id = ? AND (? = '' OR handler_id = ?)
		ORDER BY id
		LIMIT ?`, j.runID, handlerID, handlerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "Journal", "Errors", "query")
	}
	defer rows.Close()

	var out []ErrorRecord
	for rows.Next() {
		var r ErrorRecord
		var frame, recorded int64
		if err := rows.Scan(&r.RunID, &r.HandlerID, &frame, &r.ClockID, &r.Timestamp,
			&r.Class, &r.Message, &recorded); err != nil {
			return nil, errors.Wrap(err, "Journal", "Errors", "scan")
		}
		r.Frame = uint64(frame)
		r.RecordedAt = time.Unix(0, recorded)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "Journal", "Errors", "iterate")
	}
	return out, nil
}

// Lifecycle returns the lifecycle records of the current run for handlerID,
// oldest first. An empty handlerID returns every handler's records.
func (j *Journal) Lifecycle(ctx context.Context, handlerID string) ([]LifecycleRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, handler_id, from_state, to_state, at
		FROM lifecycle
		WHERE run_id = ? AND (? = '' OR handler_id = ?)
		ORDER BY id`, j.runID, handlerID, handlerID)
	if err != nil {
		return nil, errors.Wrap(err, "Journal", "Lifecycle", "query")
	}
	defer rows.Close()

	var out []LifecycleRecord
	for rows.Next() {
		var r LifecycleRecord
		var at int64
		if err := rows.Scan(&r.RunID, &r.HandlerID, &r.From, &r.To, &at); err != nil {
			return nil, errors.Wrap(err, "Journal", "Lifecycle", "scan")
		}
		r.At = time.Unix(0, at)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "Journal", "Lifecycle", "iterate")
	}
	return out, nil
}

// Summary returns per-handler error counts and final states for the current run.
func (j *Journal) Summary(ctx context.Context) ([]HandlerSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		WITH handlers AS (
			SELECT handler_id FROM errors WHERE run_id = ?1
			UNION
			SELECT handler_id FROM lifecycle WHERE run_id = ?1
		)
		SELECT h.handler_id,
			(SELECT COUNT(*) FROM errors e WHERE e.run_id = ?1 AND e.handler_id = h.handler_id),
			(SELECT MIN(frame) FROM errors e WHERE e.run_id = ?1 AND e.handler_id = h.handler_id),
			(SELECT MAX(frame) FROM errors e WHERE e.run_id = ?1 AND e.handler_id = h.handler_id),
			(SELECT to_state FROM lifecycle l WHERE l.run_id = ?1 AND l.handler_id = h.handler_id
				ORDER BY l.id DESC LIMIT 1)
		FROM handlers h
		ORDER BY h.handler_id`, j.runID)
	if err != nil {
		return nil, errors.Wrap(err, "Journal", "Summary", "query")
	}
	defer rows.Close()

	var out []HandlerSummary
	for rows.Next() {
		var s HandlerSummary
		var first, last sql.NullInt64
		var state sql.NullString
		if err := rows.Scan(&s.HandlerID, &s.Errors, &first, &last, &state); err != nil {
			return nil, errors.Wrap(err, "Journal", "Summary", "scan")
		}
		s.FirstFrame = uint64(first.Int64)
		s.LastFrame = uint64(last.Int64)
		s.LastState = state.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "Journal", "Summary", "iterate")
	}
	return out, nil
}
