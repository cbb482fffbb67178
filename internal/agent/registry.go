package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/marbleworks/scenepilot/internal/host"
)

// ParamType is the declared type of one tool parameter.
type ParamType string

const (
	ParamTypeString ParamType = "string"
	ParamTypeNumber ParamType = "number"
	// ParamTypeText marks verbatim multi-line values (script bodies).
	ParamTypeText ParamType = "text"
)

// ParamSpec declares one parameter of a tool.
type ParamSpec struct {
	Key      string
	Type     ParamType
	Required bool
}

// ToolKind classifies tools for the completion heuristic. It is metadata,
// not control flow.
type ToolKind string

const (
	ToolKindCreate    ToolKind = "create"
	ToolKindPlacement ToolKind = "placement"
	ToolKindScript    ToolKind = "script"
	ToolKindPersist   ToolKind = "persist"
	ToolKindOther     ToolKind = "other"
)

// Handler executes one tool call against the host collaborator.
type Handler func(ctx context.Context, h host.Host, call ToolCall) (ToolResult, error)

// Definition describes one registered tool: its schema, classification and
// handler. Registration is static and total; there is no dynamic
// registration at runtime.
type Definition struct {
	Name     string
	Kind     ToolKind
	Mutating bool
	Params   []ParamSpec
	Handler  Handler
}

// Registry maps tool names to definitions. NotFound is a first-class
// outcome consumed by the engine, not an error.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]Definition
	verbatim map[string]struct{} // ParamTypeText keys across all tools
}

func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[string]Definition),
		verbatim: make(map[string]struct{}),
	}
}

func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New("nil registry")
	}
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return errors.New("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s missing handler", name)
	}
	def.Name = name
	if def.Kind == "" {
		def.Kind = ToolKindOther
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[name]; exists {
		return fmt.Errorf("duplicate tool registration: %s", name)
	}
	r.defs[name] = def
	for _, p := range def.Params {
		if p.Type == ParamTypeText {
			r.verbatim[p.Key] = struct{}{}
		}
	}
	return nil
}

// Parse extracts tool calls from raw model output, treating every
// ParamTypeText key declared by a registered tool as a verbatim multi-line
// value. The registered schema is the single source of truth for which keys
// swallow the block remainder.
func (r *Registry) Parse(text string) ParseResult {
	r.mu.RLock()
	keys := make(map[string]struct{}, len(r.verbatim))
	for k := range r.verbatim {
		keys[k] = struct{}{}
	}
	r.mu.RUnlock()
	return parseToolCalls(text, keys)
}

// Resolve looks up a tool by name. ok=false means the name is not
// registered; callers turn that into a failed result and keep going.
func (r *Registry) Resolve(name string) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Definition{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Snapshot returns all definitions sorted by name, for prompt construction.
func (r *Registry) Snapshot() []Definition {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// KindOf resolves the kind of a tool name, ToolKindOther when unknown.
func (r *Registry) KindOf(name string) ToolKind {
	def, ok := r.Resolve(name)
	if !ok {
		return ToolKindOther
	}
	return def.Kind
}

// validateCallArgs checks the call against the definition's parameter spec:
// required keys must be present and number-typed values must parse. Unknown
// keys are allowed through; the host decides whether it cares.
func validateCallArgs(def Definition, call ToolCall) error {
	for _, p := range def.Params {
		raw, present := call.Arg(p.Key)
		if !present {
			if p.Required {
				return fmt.Errorf("missing required argument: %s", p.Key)
			}
			continue
		}
		if p.Type == ParamTypeNumber {
			if _, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err != nil {
				return fmt.Errorf("invalid number for %s: %q", p.Key, raw)
			}
		}
	}
	return nil
}
