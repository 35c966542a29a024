package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tatolab/streamlib-sub000/errors"
	"github.com/tatolab/streamlib-sub000/eventbus"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// Journal persists error and lifecycle events of one or more runs to SQLite.
type Journal struct {
	db     *sql.DB
	runID  string
	logger *slog.Logger

	wg     sync.WaitGroup
	failed sync.Map
}

// Option configures a Journal.
type Option func(*Journal)

// WithRunID tags every record with id. Defaults to a new UUID.
func WithRunID(id string) Option {
	return func(j *Journal) {
		if id != "" {
			j.runID = id
		}
	}
}

// WithLogger sets the logger used for write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// Open creates or opens the journal at path. The database runs in WAL mode
// with a single connection, since SQLite allows one writer at a time.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "Journal", "Open", "open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.WrapTransient(err, "Journal", "Open", "connect")
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "Journal", "Open", "apply pragmas")
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "Journal", "Open", "apply schema")
	}

	j := &Journal{db: db, runID: uuid.NewString(), logger: slog.Default()}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("journal", path, "run", j.runID)
	return j, nil
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return err
	}
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

// RunID returns the run tag written with every record.
func (j *Journal) RunID() string { return j.runID }

// Close waits for Watch loops and closes the database.
func (j *Journal) Close() error {
	j.wg.Wait()
	if err := j.db.Close(); err != nil {
		return errors.Wrap(err, "Journal", "Close", "close database")
	}
	return nil
}

// Record writes one event. Tick events are ignored.
func (j *Journal) Record(ctx context.Context, ev eventbus.Event) error {
	switch e := ev.(type) {
	case eventbus.ErrorEvent:
		msg := "<nil>"
		if e.Err != nil {
			msg = e.Err.Error()
		}
		_, err := j.db.ExecContext(ctx, `
			INSERT INTO errors (run_id, handler_id, frame, clock_id, tick_ts, class, message, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			j.runID, e.HandlerID, int64(e.Tick.FrameNumber), e.Tick.ClockID, e.Tick.Timestamp,
			errors.Classify(e.Err).String(), msg, time.Now().UnixNano())
		if err != nil {
			return errors.Wrap(err, "Journal", "Record", "insert error event")
		}
	case eventbus.LifecycleEvent:
		at := e.At
		if at.IsZero() {
			at = time.Now()
		}
		_, err := j.db.ExecContext(ctx, `
			INSERT INTO lifecycle (run_id, handler_id, from_state, to_state, at)
			VALUES (?, ?, ?, ?, ?)`,
			j.runID, e.HandlerID, e.From, e.To, at.UnixNano())
		if err != nil {
			return errors.Wrap(err, "Journal", "Record", "insert lifecycle event")
		}
	}
	return nil
}

// Watch subscribes to error and lifecycle events on bus and records them
// until ctx is cancelled or the bus is cleared. It returns once subscribed.
func (j *Journal) Watch(ctx context.Context, bus *eventbus.Bus) error {
	for _, kind := range []eventbus.Kind{eventbus.KindError, eventbus.KindLifecycle} {
		sub, err := bus.Subscribe(kind)
		if err != nil {
			return errors.Wrap(err, "Journal", "Watch", "subscribe "+string(kind))
		}
		j.wg.Add(1)
		go j.consume(ctx, sub)
	}
	return nil
}

func (j *Journal) consume(ctx context.Context, sub *eventbus.Subscription) {
	defer j.wg.Done()
	defer sub.Unsubscribe()

	// Records are written with a context that outlives ctx so events
	// drained after cancellation are not lost.
	writeCtx := context.WithoutCancel(ctx)
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if err := j.Record(writeCtx, ev); err != nil {
			if _, seen := j.failed.LoadOrStore(sub.Kind(), true); !seen {
				j.logger.Warn("journal write failed", "kind", sub.Kind(), "error", err)
			}
		}
	}
}
