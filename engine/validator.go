package engine

import (
	"fmt"

	"github.com/tatolab/streamlib-sub000/component"
	"github.com/tatolab/streamlib-sub000/component/flowgraph"
)

// Validation status values.
const (
	StatusValid    = "valid"
	StatusWarnings = "warnings"
	StatusErrors   = "errors"
)

// ValidationResult contains the results of graph validation.
type ValidationResult struct {
	Status   string                    `json:"validation_status"`
	Errors   []ValidationIssue         `json:"errors"`
	Warnings []ValidationIssue         `json:"warnings"`
	Analysis *flowgraph.AnalysisResult `json:"analysis"`
}

// ValidationIssue represents a single validation problem.
type ValidationIssue struct {
	Type        string   `json:"type"`     // "unconnected_input", "disconnected_handler", ...
	Severity    string   `json:"severity"` // "error", "warning"
	HandlerID   string   `json:"handler_id"`
	PortName    string   `json:"port_name,omitempty"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Validate analyzes the current graph. Graph problems never block Start;
// an input without an upstream simply reads nothing.
func (r *Runtime) Validate() *ValidationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validateLocked()
}

func (r *Runtime) validateLocked() *ValidationResult {
	g := r.graphLocked()
	analysis := g.AnalyzeConnectivity()

	result := &ValidationResult{
		Status:   StatusValid,
		Errors:   []ValidationIssue{},
		Warnings: []ValidationIssue{},
		Analysis: analysis,
	}

	for _, ref := range analysis.UnconnectedInputs {
		result.Warnings = append(result.Warnings, ValidationIssue{
			Type:      "unconnected_input",
			Severity:  "warning",
			HandlerID: ref.HandlerID,
			PortName:  ref.PortName,
			Message:   fmt.Sprintf("input %s has no upstream and will read nothing", ref),
			Suggestions: []string{
				"Connect an output of the same kind to this input",
			},
		})
	}

	for _, id := range analysis.DisconnectedNodes {
		result.Warnings = append(result.Warnings, ValidationIssue{
			Type:      "disconnected_handler",
			Severity:  "warning",
			HandlerID: id,
			Message:   fmt.Sprintf("handler %s is not connected to any other handler", id),
		})
	}

	if analysis.Cyclic {
		result.Warnings = append(result.Warnings, ValidationIssue{
			Type:     "feedback_loop",
			Severity: "warning",
			Message:  "graph contains a feedback loop; downstream handlers read the previous frame",
		})
	}

	// A handler whose loop ended while the runtime is live stopped on its own.
	if r.state == stateRunning {
		for _, n := range g.Nodes() {
			if n.State == component.StateStopped.String() {
				result.Errors = append(result.Errors, ValidationIssue{
					Type:      "stopped_handler",
					Severity:  "error",
					HandlerID: n.ID,
					Message:   fmt.Sprintf("handler %s stopped while the runtime is running", n.ID),
				})
			}
		}
	}

	switch {
	case len(result.Errors) > 0:
		result.Status = StatusErrors
	case len(result.Warnings) > 0:
		result.Status = StatusWarnings
	}
	return result
}
