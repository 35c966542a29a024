package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/tatolab/streamlib-sub000/engine"
	"github.com/tatolab/streamlib-sub000/health"
	"github.com/tatolab/streamlib-sub000/journal"
)

// runReport summarizes a finished run.
type runReport struct {
	Runtime       engine.Stats             `json:"runtime"`
	Health        health.Status            `json:"health"`
	PreviewFrames uint64                   `json:"preview_frames"`
	PreviewMaxLag uint64                   `json:"preview_max_lag_ticks"`
	RunID         string                   `json:"run_id,omitempty"`
	Journal       []journal.HandlerSummary `json:"journal,omitempty"`
}

func newRunReport(rt *engine.Runtime, monitor *health.Monitor, p *pipeline) runReport {
	frames, lag := p.preview.stats()
	return runReport{
		Runtime:       rt.Stats(),
		Health:        monitor.Aggregate(appName),
		PreviewFrames: frames,
		PreviewMaxLag: lag,
	}
}

func writeReport(w io.Writer, format string, rep runReport) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	s := rep.Runtime
	fmt.Fprintf(w, "runtime %s: %d ticks, %d bridges, health %s\n", s.ID, s.Ticks, s.Bridges, rep.Health.Level)
	fmt.Fprintf(w, "preview: %d frames, max lag %d ticks\n", rep.PreviewFrames, rep.PreviewMaxLag)
	fmt.Fprintf(w, "bus: %d published, %d delivered, %d dropped\n", s.Bus.Published, s.Bus.Delivered, s.Bus.Dropped)
	fmt.Fprintf(w, "pool: %d processed, %d dropped\n", s.Pool.Processed, s.Pool.Dropped)
	if s.ClockError != "" {
		fmt.Fprintf(w, "clock stopped: %s\n", s.ClockError)
	}
	if s.ErrorsSuppressed > 0 {
		fmt.Fprintf(w, "errors: %d logged, %d suppressed\n", s.ErrorsLogged, s.ErrorsSuppressed)
	}

	ids := make([]string, 0, len(s.Handlers))
	for id := range s.Handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nHANDLER\tSTATE\tPROCESSED\tFAILED\tSKIPPED")
	for _, id := range ids {
		h := s.Handlers[id]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", id, h.State, h.Processed, h.Failed, h.Skipped)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if rep.RunID != "" {
		fmt.Fprintf(w, "\njournal run %s\n", rep.RunID)
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "HANDLER\tERRORS\tFIRST\tLAST\tSTATE")
		for _, h := range rep.Journal {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", h.HandlerID, h.Errors, h.FirstFrame, h.LastFrame, h.LastState)
		}
		return tw.Flush()
	}
	return nil
}

// writeValidation prints a validation result.
func writeValidation(w io.Writer, format string, res *engine.ValidationResult) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(w, "graph: %s\n", res.Status)
	for _, issue := range append(append([]engine.ValidationIssue{}, res.Errors...), res.Warnings...) {
		where := issue.HandlerID
		if issue.PortName != "" {
			where += "." + issue.PortName
		}
		if where == "" {
			where = "-"
		}
		fmt.Fprintf(w, "  %-7s %-22s %s: %s\n", issue.Severity, issue.Type, where, issue.Message)
	}
	return nil
}
