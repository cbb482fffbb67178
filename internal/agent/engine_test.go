package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/marbleworks/scenepilot/internal/host"
)

type fakeHost struct {
	invokes  []string
	failOn   map[string]error
	entities map[string]host.EntityState
	saves    int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		failOn:   map[string]error{},
		entities: map[string]host.EntityState{},
	}
}

func (f *fakeHost) Invoke(ctx context.Context, toolName string, args map[string]string) (host.Result, error) {
	f.invokes = append(f.invokes, toolName)
	if err := f.failOn[toolName]; err != nil {
		return host.Result{}, err
	}
	switch toolName {
	case "create_entity":
		id := "ent_" + args["name"]
		props := map[string]float64{}
		for _, axis := range []string{"x", "y", "z"} {
			props[axis] = parseFloatOr(args[axis], 0)
		}
		f.entities[id] = host.EntityState{ID: id, Name: args["name"], Class: "part", TopLevel: true, Props: props}
		return host.Result{Message: "created", EntityID: id, Created: true, Class: "part", TopLevel: true}, nil
	case "move_entity":
		id := "ent_" + args["target"]
		state, ok := f.entities[id]
		if !ok {
			return host.Result{}, &host.Fault{Code: host.FaultCodeNotFound, Message: "entity not found: " + args["target"]}
		}
		for _, axis := range []string{"x", "y", "z"} {
			if raw, present := args[axis]; present {
				state.Props[axis] = parseFloatOr(raw, state.Props[axis])
			}
		}
		f.entities[id] = state
		return host.Result{Message: "moved", EntityID: id, Modified: true, Class: "part"}, nil
	default:
		return host.Result{Message: "ok"}, nil
	}
}

func (f *fakeHost) QueryEntity(ctx context.Context, id string) (host.EntityState, bool, error) {
	state, ok := f.entities[id]
	return state, ok, nil
}

func (f *fakeHost) Persist(ctx context.Context) error {
	f.saves++
	return nil
}

func parseFloatOr(raw string, def float64) float64 {
	call := ToolCall{Args: []ToolArg{{Key: "v", Value: raw}}}
	if v, ok := call.Float("v"); ok {
		return v
	}
	return def
}

func testEngine(t *testing.T, h host.Host, sink ProgressFunc) *Engine {
	t.Helper()
	reg := NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	engine, err := NewEngine(EngineOptions{
		Log:      slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})),
		Registry: reg,
		Host:     h,
		Sink:     sink,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestEngine_HandlerFaultDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	h := newFakeHost()
	h.failOn["move_entity"] = errors.New("entity not found: Ghost")
	engine := testEngine(t, h, nil)

	calls := []ToolCall{
		callWith("create_entity", "name", "A"),
		callWith("move_entity", "target", "Ghost", "x", "1"),
		callWith("create_entity", "name", "B"),
	}
	report, err := engine.Execute(context.Background(), calls, NewConversationContext())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !report.Finalized() {
		t.Fatalf("report not finalized")
	}
	if len(report.Entries) != 3 {
		t.Fatalf("entries=%d, want 3 (isolation)", len(report.Entries))
	}
	if report.Entries[1].Result.Success {
		t.Fatalf("entry 1 success=true, want failure")
	}
	if report.Entries[1].Result.Fault == nil || report.Entries[1].Result.Fault.Code != host.FaultCodeNotFound {
		t.Fatalf("fault=%+v, want NOT_FOUND", report.Entries[1].Result.Fault)
	}
	if !report.Entries[2].Result.Success {
		t.Fatalf("entry 2 failed; fault in one call must not abort the queue")
	}
}

func TestEngine_UnknownToolFailsAndContinues(t *testing.T) {
	t.Parallel()

	h := newFakeHost()
	engine := testEngine(t, h, nil)
	calls := []ToolCall{
		callWith("summon_dragon", "name", "X"),
		callWith("create_entity", "name", "A"),
	}
	report, err := engine.Execute(context.Background(), calls, NewConversationContext())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if report.Entries[0].Result.Success {
		t.Fatalf("unknown tool should fail")
	}
	if report.Entries[0].Result.Message != "unknown tool: summon_dragon" {
		t.Fatalf("message=%q", report.Entries[0].Result.Message)
	}
	if !report.Entries[1].Result.Success {
		t.Fatalf("second call should still run")
	}
	// The host must never see the unknown tool.
	for _, name := range h.invokes {
		if name == "summon_dragon" {
			t.Fatalf("unknown tool reached the host")
		}
	}
}

func TestEngine_HardRangeViolationBlocksBeforeHost(t *testing.T) {
	t.Parallel()

	h := newFakeHost()
	engine := testEngine(t, h, nil)
	report, err := engine.Execute(context.Background(), []ToolCall{
		callWith("create_entity", "name", "Far", "x", "5000"),
	}, NewConversationContext())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if report.Entries[0].Result.Success {
		t.Fatalf("hard violation should fail the call")
	}
	if len(h.invokes) != 0 {
		t.Fatalf("host invoked despite hard violation (no partial side effect allowed)")
	}
}

func TestEngine_ProgressEventsArePerCallAndOrdered(t *testing.T) {
	t.Parallel()

	var events []ProgressEvent
	h := newFakeHost()
	engine := testEngine(t, h, func(ev ProgressEvent) { events = append(events, ev) })

	calls := []ToolCall{
		callWith("create_entity", "name", "A"),
		callWith("save_scene"),
	}
	if _, err := engine.Execute(context.Background(), calls, NewConversationContext()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	// start/completion pairs, strictly interleaved: no buffering to the end.
	want := []struct {
		phase ProgressPhase
		tool  string
		index int
	}{
		{ProgressPhaseStart, "create_entity", 0},
		{ProgressPhaseSuccess, "create_entity", 0},
		{ProgressPhaseStart, "save_scene", 1},
		{ProgressPhaseSuccess, "save_scene", 1},
	}
	if len(events) != len(want) {
		t.Fatalf("events=%d, want %d", len(events), len(want))
	}
	for i, w := range want {
		ev := events[i]
		if ev.Phase != w.phase || ev.ToolName != w.tool || ev.Index != w.index {
			t.Fatalf("event[%d]=%+v, want %+v", i, ev, w)
		}
		if ev.Total != 2 {
			t.Fatalf("event[%d].Total=%d, want 2", i, ev.Total)
		}
	}
}

func TestEngine_UpdatesConversationContext(t *testing.T) {
	t.Parallel()

	h := newFakeHost()
	engine := testEngine(t, h, nil)
	convo := NewConversationContext()
	calls := []ToolCall{
		callWith("create_entity", "name", "Tower"),
		callWith("move_entity", "target", "Tower", "x", "3"),
	}
	if _, err := engine.Execute(context.Background(), calls, convo); err != nil {
		t.Fatalf("execute: %v", err)
	}
	created, ok := convo.LastCreated()
	if !ok || created.ID != "ent_Tower" {
		t.Fatalf("lastCreated=%+v ok=%t", created, ok)
	}
	modified, ok := convo.LastModified()
	if !ok || modified.ID != "ent_Tower" {
		t.Fatalf("lastModified=%+v ok=%t", modified, ok)
	}
}

// clampingHost stores x capped at 5 regardless of the requested value, like a
// scene host that silently enforces its own bounds.
type clampingHost struct{ *fakeHost }

func (c *clampingHost) Invoke(ctx context.Context, toolName string, args map[string]string) (host.Result, error) {
	res, err := c.fakeHost.Invoke(ctx, toolName, args)
	if err != nil {
		return res, err
	}
	if state, ok := c.entities[res.EntityID]; ok && state.Props["x"] > 5 {
		state.Props["x"] = 5
		c.entities[res.EntityID] = state
	}
	return res, nil
}

func TestEngine_PostVerifyFlagsHostClamping(t *testing.T) {
	t.Parallel()

	h := &clampingHost{fakeHost: newFakeHost()}
	engine := testEngine(t, h, nil)
	convo := NewConversationContext()
	if _, err := engine.Execute(context.Background(), []ToolCall{callWith("create_entity", "name", "C")}, convo); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Stored faithfully: no warning.
	report, err := engine.Execute(context.Background(), []ToolCall{callWith("move_entity", "target", "C", "x", "4")}, convo)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(report.Entries[0].Result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", report.Entries[0].Result.Warnings)
	}

	// Host clamps 9 down to 5: the re-query must surface the mismatch without
	// failing the call.
	report, err = engine.Execute(context.Background(), []ToolCall{callWith("move_entity", "target", "C", "x", "9")}, convo)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	entry := report.Entries[0]
	if !entry.Result.Success {
		t.Fatalf("verification mismatch must stay a warning, got failure: %s", entry.Result.Message)
	}
	if len(entry.Result.Warnings) != 1 {
		t.Fatalf("warnings=%v, want one mismatch warning", entry.Result.Warnings)
	}
}

func TestEngine_CancellationBetweenCalls(t *testing.T) {
	t.Parallel()

	h := newFakeHost()
	ctx, cancel := context.WithCancel(context.Background())
	engine := testEngine(t, h, func(ev ProgressEvent) {
		// Cancel while the first call is in flight; the engine must only
		// observe it before the second call starts.
		if ev.Phase == ProgressPhaseSuccess && ev.Index == 0 {
			cancel()
		}
	})
	convo := NewConversationContext()
	calls := []ToolCall{
		callWith("create_entity", "name", "A"),
		callWith("create_entity", "name", "B"),
	}
	report, err := engine.Execute(ctx, calls, convo)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if len(report.Entries) != 1 {
		t.Fatalf("entries=%d, want 1 (first call completed, second never started)", len(report.Entries))
	}
	if !report.Finalized() {
		t.Fatalf("canceled report must still be finalized")
	}
	// Context reflects the completed prefix only.
	created, ok := convo.LastCreated()
	if !ok || created.ID != "ent_A" {
		t.Fatalf("lastCreated=%+v, want ent_A", created)
	}
}
