// Package agent implements the orchestration core: parsing tool calls out of
// model output, executing them sequentially against the host, assessing turn
// completion, and driving the bounded auto-continue loop.
package agent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marbleworks/scenepilot/internal/host"
)

// ToolArg is one key/value pair inside a tool block. Argument order is
// preserved exactly as written by the model.
type ToolArg struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ToolCall is a single structured invocation parsed from model output.
// Immutable once parsed; consumed exactly once by the execution engine.
type ToolCall struct {
	Name string    `json:"name"`
	Args []ToolArg `json:"args"`
	// Raw is the full source span including the opening and closing tags.
	Raw string `json:"raw"`
}

// Arg returns the value for key and whether it was present. Later duplicates
// win, matching ArgMap and therefore what the host executes.
func (c ToolCall) Arg(key string) (string, bool) {
	val, found := "", false
	for _, a := range c.Args {
		if a.Key == key {
			val, found = a.Value, true
		}
	}
	return val, found
}

// ArgMap flattens the ordered args into a map for host dispatch. Later
// duplicates win, matching how the host would read them.
func (c ToolCall) ArgMap() map[string]string {
	out := make(map[string]string, len(c.Args))
	for _, a := range c.Args {
		out[a.Key] = a.Value
	}
	return out
}

// Float parses the named argument as a float64.
func (c ToolCall) Float(key string) (float64, bool) {
	raw, ok := c.Arg(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ArgsSummary is a short single-line rendering for progress events and logs.
// Multi-line values are elided to keep event payloads small.
func (c ToolCall) ArgsSummary() string {
	parts := make([]string, 0, len(c.Args))
	for _, a := range c.Args {
		v := a.Value
		if strings.Contains(v, "\n") {
			v = fmt.Sprintf("<%d bytes>", len(v))
		} else if r := []rune(v); len(r) > 48 {
			v = string(r[:45]) + "..."
		}
		parts = append(parts, a.Key+"="+v)
	}
	return strings.Join(parts, " ")
}

// SideEffect describes the entity affected by a successful tool call.
type SideEffect struct {
	EntityID string `json:"entity_id"`
	Class    string `json:"class,omitempty"`
	Created  bool   `json:"created,omitempty"`
	Modified bool   `json:"modified,omitempty"`
	TopLevel bool   `json:"top_level,omitempty"`
}

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	SideEffect *SideEffect `json:"side_effect,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
	Fault      *host.Fault `json:"fault,omitempty"`
}

// ReportEntry pairs a tool call with its result, in call-site order.
type ReportEntry struct {
	Call      ToolCall   `json:"call"`
	Result    ToolResult `json:"result"`
	ElapsedMs int64      `json:"elapsed_ms"`
	Index     int        `json:"index"`
}

// ExecutionReport is the ordered record of one turn's tool execution.
// Built incrementally, never mutated after Finalize. Ordering is call-site
// order in the model's raw text; there is no reordering or parallel dispatch.
type ExecutionReport struct {
	Entries []ReportEntry `json:"entries"`
	// Planned is the number of calls parsed for the turn. It can exceed
	// len(Entries) when the turn was canceled between calls.
	Planned   int  `json:"planned"`
	finalized bool
}

func (r *ExecutionReport) append(e ReportEntry) {
	if r == nil || r.finalized {
		return
	}
	e.Index = len(r.Entries)
	r.Entries = append(r.Entries, e)
}

func (r *ExecutionReport) finalize() {
	if r != nil {
		r.finalized = true
	}
}

// Finalized reports whether the turn's execution has completed.
func (r *ExecutionReport) Finalized() bool {
	return r != nil && r.finalized
}

// FailureCount counts failed results.
func (r *ExecutionReport) FailureCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, e := range r.Entries {
		if !e.Result.Success {
			n++
		}
	}
	return n
}

// WarningCount counts warnings across all results.
func (r *ExecutionReport) WarningCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, e := range r.Entries {
		n += len(e.Result.Warnings)
	}
	return n
}

// FailedToolNames lists distinct tool names that produced a failed result,
// in first-failure order.
func (r *ExecutionReport) FailedToolNames() []string {
	if r == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, e := range r.Entries {
		if e.Result.Success {
			continue
		}
		if _, ok := seen[e.Call.Name]; ok {
			continue
		}
		seen[e.Call.Name] = struct{}{}
		out = append(out, e.Call.Name)
	}
	return out
}

// Ran reports whether any call to the named tool was executed.
func (r *ExecutionReport) Ran(name string) bool {
	if r == nil {
		return false
	}
	for _, e := range r.Entries {
		if e.Call.Name == name {
			return true
		}
	}
	return false
}

// ProgressPhase marks the lifecycle phase of one tool call.
type ProgressPhase string

const (
	ProgressPhaseStart   ProgressPhase = "start"
	ProgressPhaseSuccess ProgressPhase = "success"
	ProgressPhaseFailure ProgressPhase = "failure"
)

// ProgressEvent is emitted synchronously by the engine, one start plus one
// success/failure per call, before the next call begins.
type ProgressEvent struct {
	Phase       ProgressPhase `json:"phase"`
	ToolName    string        `json:"tool_name"`
	ArgsSummary string        `json:"args_summary,omitempty"`
	ElapsedMs   int64         `json:"elapsed_ms,omitempty"`
	Index       int           `json:"index"`
	Total       int           `json:"total"`
}

// ProgressFunc receives engine progress events. The core has no dependency
// on how (or whether) these are rendered.
type ProgressFunc func(ProgressEvent)

// ReasonCode identifies one independently sufficient incompleteness rule.
type ReasonCode string

const (
	ReasonNoTerminalPunctuation ReasonCode = "no_terminal_punctuation"
	ReasonUnclosedToolTag       ReasonCode = "unclosed_tool_tag"
	ReasonPromisedActionMissing ReasonCode = "promised_action_underexecuted"
	ReasonScriptNotCreated      ReasonCode = "script_mentioned_not_created"
	ReasonPlanUnderexecuted     ReasonCode = "plan_underexecuted"
	ReasonEntityNotPersisted    ReasonCode = "entity_not_persisted"
	ReasonScriptNotConfigured   ReasonCode = "script_not_configured"
	ReasonErrorsOrWarnings      ReasonCode = "errors_or_warnings"
	ReasonSingleToolCall        ReasonCode = "single_tool_call"
)

// Verdict is the completion heuristic's assessment of one turn.
type Verdict struct {
	Complete bool         `json:"complete"`
	Reasons  []ReasonCode `json:"reasons,omitempty"`
}

func (v Verdict) HasReason(code ReasonCode) bool {
	for _, r := range v.Reasons {
		if r == code {
			return true
		}
	}
	return false
}

// TurnStatus is the terminal status of one model round-trip.
type TurnStatus string

const (
	TurnStatusComplete        TurnStatus = "complete"
	TurnStatusContinued       TurnStatus = "continued"
	TurnStatusBudgetExhausted TurnStatus = "budget_exhausted"
	TurnStatusCanceled        TurnStatus = "canceled"
	TurnStatusModelError      TurnStatus = "model_error"
)

// TurnState records one model round-trip plus its execution and assessment.
// Prompt is the exact user-role input the model saw for this round-trip (the
// original request or a synthesized continuation), kept so later turns can
// replay the full exchange as history.
type TurnState struct {
	Index           int              `json:"index"`
	Prompt          string           `json:"prompt,omitempty"`
	RawResponse     string           `json:"raw_response"`
	Report          *ExecutionReport `json:"report,omitempty"`
	Verdict         Verdict          `json:"verdict"`
	Status          TurnStatus       `json:"status"`
	StartedAtUnixMs int64            `json:"started_at_unix_ms"`
	EndedAtUnixMs   int64            `json:"ended_at_unix_ms"`
}
