package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/marbleworks/scenepilot/internal/host"
)

// Engine drives strictly sequential execution of parsed tool calls against
// the host collaborator.
//
// Per call: resolve, guard-validate, invoke, guard-verify, update the
// conversation context, append to the report, emit events. Each call's start
// and completion events are emitted before the next call begins; nothing is
// buffered to the end. One bad call never aborts the remaining queue.
// Execution stays sequential because calls routinely depend on side effects
// of earlier calls in the same turn.
type Engine struct {
	log   *slog.Logger
	reg   *Registry
	guard *GuardRail
	host  host.Host
	sink  ProgressFunc
}

// EngineOptions configures a new Engine. Registry and Host are required.
type EngineOptions struct {
	Log      *slog.Logger
	Registry *Registry
	Guard    *GuardRail
	Host     host.Host
	Sink     ProgressFunc
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("engine requires a tool registry")
	}
	if opts.Host == nil {
		return nil, fmt.Errorf("engine requires a host")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	guard := opts.Guard
	if guard == nil {
		guard = NewGuardRail(nil)
	}
	sink := opts.Sink
	if sink == nil {
		sink = func(ProgressEvent) {}
	}
	return &Engine{log: log, reg: opts.Registry, guard: guard, host: opts.Host, sink: sink}, nil
}

// Execute runs the turn's calls in source order and returns the finalized
// report. Cancellation is cooperative and only observed between calls; the
// conversation context stays consistent with whatever calls completed.
// The returned error is non-nil only for cancellation.
func (e *Engine) Execute(ctx context.Context, calls []ToolCall, convo *ConversationContext) (*ExecutionReport, error) {
	report := &ExecutionReport{Planned: len(calls)}
	total := len(calls)

	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			report.finalize()
			return report, err
		}

		e.sink(ProgressEvent{Phase: ProgressPhaseStart, ToolName: call.Name, ArgsSummary: call.ArgsSummary(), Index: i, Total: total})
		started := time.Now()
		result := e.executeOne(ctx, call, convo)
		elapsed := time.Since(started).Milliseconds()

		phase := ProgressPhaseSuccess
		if !result.Success {
			phase = ProgressPhaseFailure
		}
		report.append(ReportEntry{Call: call, Result: result, ElapsedMs: elapsed})
		e.sink(ProgressEvent{Phase: phase, ToolName: call.Name, ArgsSummary: call.ArgsSummary(), ElapsedMs: elapsed, Index: i, Total: total})

		e.log.Debug("tool call finished",
			"tool", call.Name,
			"success", result.Success,
			"warnings", len(result.Warnings),
			"elapsed_ms", elapsed,
			"index", i)
	}

	report.finalize()
	return report, nil
}

func (e *Engine) executeOne(ctx context.Context, call ToolCall, convo *ConversationContext) ToolResult {
	def, ok := e.reg.Resolve(call.Name)
	if !ok {
		return ToolResult{Success: false, Message: fmt.Sprintf("unknown tool: %s", call.Name)}
	}
	if err := validateCallArgs(def, call); err != nil {
		return ToolResult{Success: false, Message: err.Error()}
	}

	warnings, violation := e.guard.Validate(call)
	if violation != nil {
		// Hard-range rejection: no side effect happened, surface the
		// offending value and the expected range.
		return ToolResult{Success: false, Message: violation.Error(), Warnings: warningMessages(warnings)}
	}

	result, err := def.Handler(ctx, e.host, call)
	if err != nil {
		fault := host.ClassifyFault(err)
		return ToolResult{Success: false, Message: fault.Message, Warnings: warningMessages(warnings), Fault: fault}
	}
	result.Warnings = append(warningMessages(warnings), result.Warnings...)

	if result.Success && result.SideEffect != nil {
		result.Warnings = append(result.Warnings, warningMessages(e.verify(ctx, call, result.SideEffect.EntityID))...)
		ref := EntityRef{ID: result.SideEffect.EntityID, Class: result.SideEffect.Class}
		if name, ok := call.Arg("name"); ok {
			ref.Name = name
		} else if target, ok := call.Arg("target"); ok {
			ref.Name = target
		}
		convo.Note(ref, result.SideEffect.Created, result.SideEffect.Modified)
	}
	return result
}

// verify re-queries the host for the affected entity and compares stored
// values against the request.
func (e *Engine) verify(ctx context.Context, call ToolCall, entityID string) []Warning {
	if strings.TrimSpace(entityID) == "" {
		return nil
	}
	state, found, err := e.host.QueryEntity(ctx, entityID)
	if err != nil {
		e.log.Warn("post-execution query failed", "tool", call.Name, "entity", entityID, "error", err)
		return nil
	}
	if !found {
		return []Warning{{Tool: call.Name, Message: fmt.Sprintf("entity %s vanished after execution", entityID)}}
	}
	return e.guard.Verify(call, state)
}

func warningMessages(warnings []Warning) []string {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.Message)
	}
	return out
}
