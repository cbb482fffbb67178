package agent

import (
	"testing"
)

func testHeuristic(t *testing.T) *CompletionHeuristic {
	t.Helper()
	reg := NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	return NewCompletionHeuristic(reg)
}

func okEntry(call ToolCall, effect *SideEffect) ReportEntry {
	return ReportEntry{Call: call, Result: ToolResult{Success: true, Message: "ok", SideEffect: effect}}
}

func failEntry(call ToolCall, msg string) ReportEntry {
	return ReportEntry{Call: call, Result: ToolResult{Success: false, Message: msg}}
}

func reportOf(entries ...ReportEntry) *ExecutionReport {
	r := &ExecutionReport{Planned: len(entries)}
	for _, e := range entries {
		r.append(e)
	}
	r.finalize()
	return r
}

func created(id string) *SideEffect {
	return &SideEffect{EntityID: id, Class: "part", Created: true, TopLevel: true}
}

func modified(id string) *SideEffect {
	return &SideEffect{EntityID: id, Class: "part", Modified: true}
}

func TestAssess_CompleteTurn(t *testing.T) {
	t.Parallel()

	h := testHeuristic(t)
	report := reportOf(
		okEntry(callWith("create_entity", "name", "Pedestal"), created("e1")),
		okEntry(callWith("move_entity", "target", "e1", "x", "2"), modified("e1")),
		okEntry(callWith("save_scene"), nil),
	)
	v := h.Assess("All set. The pedestal is in place and saved.", false, report)
	if !v.Complete {
		t.Fatalf("complete=false, reasons=%v", v.Reasons)
	}
	if len(v.Reasons) != 0 {
		t.Fatalf("reasons=%v, want none", v.Reasons)
	}
}

func TestAssess_CutOffNarrativeWithSingleUnsavedCreate(t *testing.T) {
	t.Parallel()

	h := testHeuristic(t)
	report := reportOf(okEntry(callWith("create_entity", "name", "Pedestal"), created("e1")))
	v := h.Assess("Placing the pedestal at the center", false, report)
	if v.Complete {
		t.Fatalf("complete=true, want incomplete")
	}
	for _, want := range []ReasonCode{ReasonNoTerminalPunctuation, ReasonEntityNotPersisted, ReasonSingleToolCall} {
		if !v.HasReason(want) {
			t.Fatalf("reasons=%v, missing %s", v.Reasons, want)
		}
	}
}

func TestAssess_ReasonsAccumulateIndependently(t *testing.T) {
	t.Parallel()

	h := testHeuristic(t)
	// Terminal narrative, but one created top-level entity and only one call.
	report := reportOf(okEntry(callWith("create_entity", "name", "Lamp"), created("e1")))
	v := h.Assess("The lamp is placed.", false, report)
	if v.Complete {
		t.Fatalf("complete=true, want incomplete")
	}
	if v.HasReason(ReasonNoTerminalPunctuation) {
		t.Fatalf("terminal sentence flagged: %v", v.Reasons)
	}
	if !v.HasReason(ReasonEntityNotPersisted) || !v.HasReason(ReasonSingleToolCall) {
		t.Fatalf("reasons=%v, want entity_not_persisted and single_tool_call", v.Reasons)
	}
}

func TestAssess_UnclosedTagSuppressesPunctuationRule(t *testing.T) {
	t.Parallel()

	h := testHeuristic(t)
	text := "Setting up.\n[TOOL:create_entity]\nname: A"
	parsed := ParseToolCalls(text)
	v := h.Assess(text, parsed.Unclosed, reportOf())
	if !v.HasReason(ReasonUnclosedToolTag) {
		t.Fatalf("reasons=%v, missing unclosed_tool_tag", v.Reasons)
	}
	// A response cut off mid-block is rule 2's finding, not rule 1's.
	if v.HasReason(ReasonNoTerminalPunctuation) {
		t.Fatalf("reasons=%v, punctuation rule should defer to unclosed-tag rule", v.Reasons)
	}
}

func TestAssess_PromisedActionUnderexecuted(t *testing.T) {
	t.Parallel()

	h := testHeuristic(t)
	report := reportOf(
		okEntry(callWith("create_entity", "name", "Base"), created("e1")),
		okEntry(callWith("save_scene"), nil),
	)
	v := h.Assess("I'll create the full arrangement with lighting and props.", false, report)
	if !v.HasReason(ReasonPromisedActionMissing) {
		t.Fatalf("reasons=%v, missing promised_action_underexecuted", v.Reasons)
	}

	big := reportOf(
		okEntry(callWith("create_entity", "name", "A"), created("e1")),
		okEntry(callWith("create_entity", "name", "B"), created("e2")),
		okEntry(callWith("create_entity", "name", "C"), created("e3")),
		okEntry(callWith("save_scene"), nil),
	)
	v = h.Assess("I'll create the full arrangement with lighting and props.", false, big)
	if v.HasReason(ReasonPromisedActionMissing) {
		t.Fatalf("reasons=%v, four executed calls should satisfy the promise", v.Reasons)
	}
}

func TestAssess_ScriptMentionedButNotCreated(t *testing.T) {
	t.Parallel()

	h := testHeuristic(t)
	report := reportOf(okEntry(callWith("create_entity", "name", "Door"), created("e1")))
	v := h.Assess("Now generating a script so the door opens on touch", false, report)
	if !v.HasReason(ReasonScriptNotCreated) {
		t.Fatalf("reasons=%v, missing script_mentioned_not_created", v.Reasons)
	}

	withScript := reportOf(
		okEntry(callWith("create_entity", "name", "Door"), created("e1")),
		okEntry(callWith("create_script", "name", "Opener", "source", "x"), created("s1")),
		okEntry(callWith("attach_script", "target", "e1", "script", "s1"), modified("e1")),
		okEntry(callWith("save_scene"), nil),
	)
	v = h.Assess("Created the door script and wired it up.", false, withScript)
	if v.HasReason(ReasonScriptNotCreated) {
		t.Fatalf("reasons=%v, script tool ran", v.Reasons)
	}
}

func TestAssess_PlanUnderexecuted(t *testing.T) {
	t.Parallel()

	h := testHeuristic(t)
	text := "Here is the plan:\n1. Build the platform\n2. Add the camera\n3. Save\nStarting now."
	report := reportOf(okEntry(callWith("create_entity", "name", "Platform"), created("e1")))
	v := h.Assess(text, false, report)
	if !v.HasReason(ReasonPlanUnderexecuted) {
		t.Fatalf("reasons=%v, missing plan_underexecuted", v.Reasons)
	}

	// A decimal in prose is not an enumerated plan.
	v = h.Assess("Moved it by 1.5 units and then 2.5 more. Done.", false, reportOf(
		okEntry(callWith("move_entity", "target", "e1", "x", "1.5"), modified("e1")),
		okEntry(callWith("move_entity", "target", "e1", "x", "4"), modified("e1")),
		okEntry(callWith("save_scene"), nil),
	))
	if v.HasReason(ReasonPlanUnderexecuted) {
		t.Fatalf("reasons=%v, decimals misread as a plan", v.Reasons)
	}
}

func TestAssess_ScriptNotConfigured(t *testing.T) {
	t.Parallel()

	h := testHeuristic(t)
	// Script created last with nothing positioning it afterwards.
	bare := reportOf(
		okEntry(callWith("create_entity", "name", "Fan"), created("e1")),
		okEntry(callWith("create_script", "name", "Spin", "source", "x"), created("s1")),
		okEntry(callWith("save_scene"), nil),
	)
	v := h.Assess("Added the fan with its spin script.", false, bare)
	if !v.HasReason(ReasonScriptNotConfigured) {
		t.Fatalf("reasons=%v, missing script_not_configured", v.Reasons)
	}

	// A placement call after the script clears the rule.
	placed := reportOf(
		okEntry(callWith("create_entity", "name", "Fan"), created("e1")),
		okEntry(callWith("create_script", "name", "Spin", "source", "x"), created("s1")),
		okEntry(callWith("attach_script", "target", "e1", "script", "s1"), modified("e1")),
		okEntry(callWith("save_scene"), nil),
	)
	v = h.Assess("Added the fan with its spin script.", false, placed)
	if v.HasReason(ReasonScriptNotConfigured) {
		t.Fatalf("reasons=%v, placement followed the script", v.Reasons)
	}
}

func TestAssess_ErrorsOrWarnings(t *testing.T) {
	t.Parallel()

	h := testHeuristic(t)
	report := reportOf(
		okEntry(callWith("create_entity", "name", "A"), created("e1")),
		failEntry(callWith("move_entity", "target", "Ghost", "x", "1"), "entity not found: Ghost"),
		okEntry(callWith("save_scene"), nil),
	)
	v := h.Assess("Everything is arranged and saved.", false, report)
	if !v.HasReason(ReasonErrorsOrWarnings) {
		t.Fatalf("reasons=%v, missing errors_or_warnings", v.Reasons)
	}

	warned := reportOf(
		okEntry(callWith("create_entity", "name", "A"), created("e1")),
		ReportEntry{
			Call:   callWith("move_entity", "target", "e1", "x", "19"),
			Result: ToolResult{Success: true, Message: "moved", SideEffect: modified("e1"), Warnings: []string{"x=19 is outside the typical range"}},
		},
		okEntry(callWith("save_scene"), nil),
	)
	v = h.Assess("Everything is arranged and saved.", false, warned)
	if !v.HasReason(ReasonErrorsOrWarnings) {
		t.Fatalf("reasons=%v, a warning alone should fire the rule", v.Reasons)
	}
}

func TestAssess_NoToolCallsNarrativeOnly(t *testing.T) {
	t.Parallel()

	h := testHeuristic(t)
	v := h.Assess("The scene already contains a camera at standing height.", false, reportOf())
	if !v.Complete {
		t.Fatalf("pure answer turn should be complete, reasons=%v", v.Reasons)
	}
}

func TestEndsTerminal(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want bool
	}{
		{"Done.", true},
		{"Done!", true},
		{"Ready?", true},
		{"完成。", true},
		{`He said "done."`, true},
		{"(finished.)", true},
		{"[TOOL:save_scene]\n[/TOOL]", true},
		{"```", true},
		{"Placing the pedestal at", false},
		{"x: 3", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := endsTerminal(tc.text); got != tc.want {
			t.Fatalf("endsTerminal(%q)=%t, want %t", tc.text, got, tc.want)
		}
	}
}
