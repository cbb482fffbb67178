// Package host defines the collaborator surface the agent core requires from
// the embedding environment (a live 3D scene graph, or any stand-in).
//
// The core never talks to scene entities directly. Every mutation goes
// through Invoke, every guard-rail read-back goes through QueryEntity, and
// the "save" class of tools maps to Persist. Implementations are assumed
// single-writer for the duration of one agent turn.
package host

import (
	"context"
	"errors"
	"strings"
)

// ErrEntityNotFound is returned by QueryEntity and by operations that
// reference a missing entity.
var ErrEntityNotFound = errors.New("entity not found")

// FaultCode is a stable, machine-readable host fault code.
type FaultCode string

const (
	FaultCodeNotFound        FaultCode = "NOT_FOUND"
	FaultCodeInvalidArgument FaultCode = "INVALID_ARGUMENT"
	FaultCodeInvalidState    FaultCode = "INVALID_STATE"
	FaultCodeUnknown         FaultCode = "UNKNOWN"
)

// Fault carries structured host failure metadata.
type Fault struct {
	Code           FaultCode `json:"code"`
	Message        string    `json:"message"`
	SuggestedFixes []string  `json:"suggested_fixes,omitempty"`
}

func (f *Fault) Error() string {
	if f == nil {
		return ""
	}
	return f.Message
}

func (f *Fault) Normalize() {
	if f == nil {
		return
	}
	f.Message = strings.TrimSpace(f.Message)
	if f.Message == "" {
		f.Message = "host operation failed"
	}
	if f.Code == "" {
		f.Code = FaultCodeUnknown
	}
}

// ClassifyFault maps an arbitrary host error onto a structured Fault.
func ClassifyFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		f.Normalize()
		return f
	}

	msg := strings.TrimSpace(err.Error())
	lower := strings.ToLower(msg)
	out := &Fault{Code: FaultCodeUnknown, Message: msg}
	switch {
	case errors.Is(err, ErrEntityNotFound) || strings.Contains(lower, "not found"):
		out.Code = FaultCodeNotFound
		out.SuggestedFixes = []string{"Verify the entity id or name.", "Create the entity first in an earlier tool call."}
	case strings.Contains(lower, "invalid argument") || strings.Contains(lower, "missing required"):
		out.Code = FaultCodeInvalidArgument
		out.SuggestedFixes = []string{"Re-check the key: value pairs inside the tool block."}
	case strings.Contains(lower, "already") || strings.Contains(lower, "invalid state"):
		out.Code = FaultCodeInvalidState
	}
	out.Normalize()
	return out
}

// EntityState is the host-side view of a single scene entity as seen by the
// guard-rail post-verification step.
//
// Props flattens the entity's numeric properties under the same keys the
// tool arguments use (x, y, z, scale_x, height, ...), so a verifier can
// compare requested values against what the host actually stored without
// knowing the host's internal transform representation.
type EntityState struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Class    string             `json:"class"`
	Parent   string             `json:"parent,omitempty"`
	TopLevel bool               `json:"top_level"`
	Script   string             `json:"script,omitempty"`
	Props    map[string]float64 `json:"props,omitempty"`
}

// Result is the host-side outcome of a single Invoke.
type Result struct {
	Message  string `json:"message"`
	EntityID string `json:"entity_id,omitempty"`
	Created  bool   `json:"created,omitempty"`
	Modified bool   `json:"modified,omitempty"`
	// Class mirrors the affected entity's class so bookkeeping layers can
	// distinguish top-level entities from attachments without a re-query.
	Class string `json:"class,omitempty"`
	// TopLevel marks entities that the host persists as roots of the scene.
	TopLevel bool `json:"top_level,omitempty"`
}

// Host is the minimal collaborator interface the execution engine requires,
// regardless of host identity.
//
// Invoke performs the named operation. Failures are surfaced, never silently
// retried at this layer. QueryEntity supports guard-rail post-verification;
// a missing entity is reported via found=false, not an error. Persist
// corresponds to the "save" class of tool.
type Host interface {
	Invoke(ctx context.Context, toolName string, args map[string]string) (Result, error)
	QueryEntity(ctx context.Context, id string) (EntityState, bool, error)
	Persist(ctx context.Context) error
}
