// Package journal records error and lifecycle events to a SQLite database.
//
// The journal is an opt-in observability sink. It subscribes to the event
// bus like any other consumer, so a slow disk can only cause its own queue
// to drop events; it never blocks the pipeline.
//
//	j, err := journal.Open("events.db")
//	if err != nil {
//		return err
//	}
//	defer j.Close()
//	rt, err := engine.New(cfg, engine.WithSinks(j))
//
// Records are tagged with a run ID so one database can hold several runs.
// Errors, Lifecycle and Summary query the current run.
package journal
