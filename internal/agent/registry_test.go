package agent

import (
	"strings"
	"testing"
)

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	err := reg.Register(Definition{Name: "save_scene", Handler: forwardToHost("save_scene")})
	if err == nil {
		t.Fatalf("duplicate registration accepted")
	}
}

func TestRegistry_ResolveUnknownIsNotFound(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	if _, ok := reg.Resolve("summon_dragon"); ok {
		t.Fatalf("unknown tool resolved")
	}
	if kind := reg.KindOf("summon_dragon"); kind != ToolKindOther {
		t.Fatalf("kind=%s, want other", kind)
	}
}

func TestRegistry_SnapshotIsSorted(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	defs := reg.Snapshot()
	if len(defs) != 9 {
		t.Fatalf("tools=%d, want 9", len(defs))
	}
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Name >= defs[i].Name {
			t.Fatalf("snapshot not sorted: %s >= %s", defs[i-1].Name, defs[i].Name)
		}
	}
}

func TestRegistry_ParseHonorsDeclaredTextParams(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	err := reg.Register(Definition{
		Name: "annotate_entity",
		Kind: ToolKindOther,
		Params: []ParamSpec{
			{Key: "target", Type: ParamTypeString, Required: true},
			{Key: "note", Type: ParamTypeText},
		},
		Handler: forwardToHost("annotate_entity"),
	})
	if err != nil {
		t.Fatalf("register annotate_entity: %v", err)
	}

	text := "[TOOL:annotate_entity]\ntarget: Pedestal\nnote: first line: with colon\nsecond line\n[/TOOL]"
	parsed := reg.Parse(text)
	if len(parsed.Calls) != 1 {
		t.Fatalf("calls=%d, want 1", len(parsed.Calls))
	}
	note, ok := parsed.Calls[0].Arg("note")
	if !ok {
		t.Fatalf("note argument missing")
	}
	if want := "first line: with colon\nsecond line"; note != want {
		t.Fatalf("note=%q, want %q", note, want)
	}

	// Without a registration declaring the key, the fallback parser treats
	// the same body as ordinary line-scoped pairs.
	fallback := ParseToolCalls(text)
	if v, _ := fallback.Calls[0].Arg("note"); strings.Contains(v, "\n") {
		t.Fatalf("fallback note=%q, want single-line", v)
	}
}

func TestValidateCallArgs(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	def, _ := reg.Resolve("move_entity")

	if err := validateCallArgs(def, callWith("move_entity", "target", "A", "x", "1.5")); err != nil {
		t.Fatalf("valid call rejected: %v", err)
	}
	if err := validateCallArgs(def, callWith("move_entity", "x", "1.5")); err == nil {
		t.Fatalf("missing required target accepted")
	}
	if err := validateCallArgs(def, callWith("move_entity", "target", "A", "x", "fast")); err == nil {
		t.Fatalf("non-numeric x accepted")
	} else if !strings.Contains(err.Error(), "x") {
		t.Fatalf("err=%v, want the offending key named", err)
	}
	// Unknown keys pass through for the host to interpret.
	if err := validateCallArgs(def, callWith("move_entity", "target", "A", "easing", "smooth")); err != nil {
		t.Fatalf("unknown key rejected: %v", err)
	}
}
