package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ModelMessage is one prior exchange passed back to the model.
type ModelMessage struct {
	Role string // "user" | "assistant"
	Text string
}

// ModelTurn is the opaque text-completion request the controller sends. The
// core has no opinion about the vendor behind it.
type ModelTurn struct {
	System  string
	History []ModelMessage
	Input   string
}

// ModelClient is the completion capability the controller drives. Complete
// is the single-shot path. Stream delivers incremental chunks through
// onDelta and still returns the final, complete text, which remains the
// only authoritative parse input.
type ModelClient interface {
	Complete(ctx context.Context, turn ModelTurn) (string, error)
	Stream(ctx context.Context, turn ModelTurn, onDelta func(chunk string)) (string, error)
}

// ctrlState is the auto-continue state machine.
type ctrlState string

const (
	stateAwaitingModel ctrlState = "awaiting_model"
	stateExecuting     ctrlState = "executing"
	stateAssessing     ctrlState = "assessing"
	stateContinuing    ctrlState = "continuing"
	stateDone          ctrlState = "done"
)

// DefaultMaxAutoContinues bounds extra turns beyond the first. Unbounded
// auto-continuation risks an infinite loop when the model's output is
// persistently malformed; hitting the cap is a terminal, reported condition.
const DefaultMaxAutoContinues = 2

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	Log    *slog.Logger
	Model  ModelClient
	Engine *Engine

	// MaxAutoContinues caps extra turns; <0 means DefaultMaxAutoContinues.
	MaxAutoContinues int
	// Streaming selects the chunked model path; partial text is re-parsed
	// best-effort for UI progress only.
	Streaming bool
	// OnStreamDelta receives accumulated-buffer progress during streaming:
	// the new chunk plus how many well-formed tool blocks have appeared so
	// far. Optional.
	OnStreamDelta func(chunk string, callsSoFar int)
}

// Controller owns the multi-turn loop: model round-trip, execution,
// assessment, and bounded continuation.
type Controller struct {
	log       *slog.Logger
	model     ModelClient
	engine    *Engine
	heuristic *CompletionHeuristic
	maxExtra  int
	streaming bool
	onDelta   func(chunk string, callsSoFar int)
}

func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Model == nil {
		return nil, errors.New("controller requires a model client")
	}
	if opts.Engine == nil {
		return nil, errors.New("controller requires an execution engine")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	maxExtra := opts.MaxAutoContinues
	if maxExtra < 0 {
		maxExtra = DefaultMaxAutoContinues
	}
	return &Controller{
		log:       log,
		model:     opts.Model,
		engine:    opts.Engine,
		heuristic: NewCompletionHeuristic(opts.Engine.reg),
		maxExtra:  maxExtra,
		streaming: opts.Streaming,
		onDelta:   opts.OnStreamDelta,
	}, nil
}

// TurnOutcome summarizes one user request end to end, auto-continues
// included. Every turn's report stays visible so repaired failures remain
// auditable.
type TurnOutcome struct {
	Status    TurnStatus
	Turns     []*TurnState
	FinalText string
}

// RunTurn drives one user request through the loop. A model failure is
// fatal to the turn (no retry at this layer); cancellation between tool
// calls surfaces as TurnStatusCanceled with the completed prefix recorded.
func (c *Controller) RunTurn(ctx context.Context, sess *Session, userInput string) (*TurnOutcome, error) {
	if sess == nil {
		return nil, errors.New("nil session")
	}
	outcome := &TurnOutcome{}
	system := buildSystemPrompt(c.engine.reg)
	prompt := buildUserPrompt(sess.Context(), userInput)
	history := historyFromSession(sess)

	state := stateAwaitingModel
	extraTurns := 0

	for state != stateDone {
		switch state {
		case stateAwaitingModel:
			turn := &TurnState{Prompt: prompt, StartedAtUnixMs: time.Now().UnixMilli()}
			text, err := c.completeModel(ctx, ModelTurn{System: system, History: history, Input: prompt})
			if err != nil {
				// ModelUnavailable: fatal to the current turn, surfaced
				// directly.
				turn.Status = TurnStatusModelError
				turn.EndedAtUnixMs = time.Now().UnixMilli()
				sess.appendTurn(turn)
				outcome.Turns = append(outcome.Turns, turn)
				outcome.Status = TurnStatusModelError
				return outcome, fmt.Errorf("model completion failed: %w", err)
			}
			turn.RawResponse = text
			outcome.Turns = append(outcome.Turns, turn)
			state = stateExecuting

		case stateExecuting:
			turn := outcome.Turns[len(outcome.Turns)-1]
			parsed := c.engine.reg.Parse(turn.RawResponse)
			report, err := c.engine.Execute(ctx, parsed.Calls, sess.Context())
			turn.Report = report
			if err != nil {
				turn.Status = TurnStatusCanceled
				turn.EndedAtUnixMs = time.Now().UnixMilli()
				sess.appendTurn(turn)
				outcome.Status = TurnStatusCanceled
				outcome.FinalText = turn.RawResponse
				return outcome, nil
			}
			turn.Verdict = c.heuristic.Assess(turn.RawResponse, parsed.Unclosed, report)
			state = stateAssessing

		case stateAssessing:
			turn := outcome.Turns[len(outcome.Turns)-1]
			turn.EndedAtUnixMs = time.Now().UnixMilli()
			if turn.Verdict.Complete {
				turn.Status = TurnStatusComplete
				sess.appendTurn(turn)
				outcome.Status = TurnStatusComplete
				outcome.FinalText = turn.RawResponse
				state = stateDone
				continue
			}
			if extraTurns >= c.maxExtra {
				turn.Status = TurnStatusBudgetExhausted
				sess.appendTurn(turn)
				outcome.Status = TurnStatusBudgetExhausted
				outcome.FinalText = turn.RawResponse
				c.log.Warn("auto-continue budget exhausted",
					"session", sess.ID,
					"extra_turns", extraTurns,
					"reasons", reasonStrings(turn.Verdict.Reasons))
				state = stateDone
				continue
			}
			turn.Status = TurnStatusContinued
			sess.appendTurn(turn)
			state = stateContinuing

		case stateContinuing:
			turn := outcome.Turns[len(outcome.Turns)-1]
			extraTurns++
			c.log.Info("auto-continuing incomplete turn",
				"session", sess.ID,
				"extra_turn", extraTurns,
				"reasons", reasonStrings(turn.Verdict.Reasons))
			history = append(history,
				ModelMessage{Role: "user", Text: prompt},
				ModelMessage{Role: "assistant", Text: turn.RawResponse},
			)
			prompt = buildContinuationPrompt(turn.Verdict, turn.Report, c.engine.guard.Table(), userInput)
			state = stateAwaitingModel
		}
	}
	return outcome, nil
}

// completeModel runs one model round-trip on the configured path. In
// streaming mode the accumulated buffer is re-parsed per chunk purely to
// surface partial progress; execution always waits for the final text.
func (c *Controller) completeModel(ctx context.Context, turn ModelTurn) (string, error) {
	if !c.streaming {
		return c.model.Complete(ctx, turn)
	}
	var buf strings.Builder
	final, err := c.model.Stream(ctx, turn, func(chunk string) {
		buf.WriteString(chunk)
		if c.onDelta != nil {
			partial := c.engine.reg.Parse(buf.String())
			c.onDelta(chunk, len(partial.Calls))
		}
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(final) == "" {
		final = buf.String()
	}
	return final, nil
}

// historyFromSession replays prior turns as interleaved user/assistant
// pairs. The history must open with a user message and alternate; vendors
// reject assistant-first message lists.
func historyFromSession(sess *Session) []ModelMessage {
	var out []ModelMessage
	for _, t := range sess.Turns() {
		if strings.TrimSpace(t.RawResponse) == "" {
			continue
		}
		if p := strings.TrimSpace(t.Prompt); p != "" {
			out = append(out, ModelMessage{Role: "user", Text: p})
		}
		out = append(out, ModelMessage{Role: "assistant", Text: t.RawResponse})
	}
	return out
}

func reasonStrings(reasons []ReasonCode) []string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, string(r))
	}
	return out
}
