package agent

import (
	"context"

	"github.com/marbleworks/scenepilot/internal/host"
)

// RegisterBuiltins installs the scene tool set. Registration is static and
// total: this is every tool the agent may invoke.
func RegisterBuiltins(reg *Registry) error {
	defs := []Definition{
		{
			Name:     "create_entity",
			Kind:     ToolKindCreate,
			Mutating: true,
			Params: []ParamSpec{
				{Key: "name", Type: ParamTypeString, Required: true},
				{Key: "class", Type: ParamTypeString},
				{Key: "x", Type: ParamTypeNumber},
				{Key: "y", Type: ParamTypeNumber},
				{Key: "z", Type: ParamTypeNumber},
			},
			Handler: forwardToHost("create_entity"),
		},
		{
			Name:     "move_entity",
			Kind:     ToolKindPlacement,
			Mutating: true,
			Params: []ParamSpec{
				{Key: "target", Type: ParamTypeString, Required: true},
				{Key: "x", Type: ParamTypeNumber},
				{Key: "y", Type: ParamTypeNumber},
				{Key: "z", Type: ParamTypeNumber},
			},
			Handler: forwardToHost("move_entity"),
		},
		{
			Name:     "scale_entity",
			Kind:     ToolKindPlacement,
			Mutating: true,
			Params: []ParamSpec{
				{Key: "target", Type: ParamTypeString, Required: true},
				{Key: "scale", Type: ParamTypeNumber},
				{Key: "scale_x", Type: ParamTypeNumber},
				{Key: "scale_y", Type: ParamTypeNumber},
				{Key: "scale_z", Type: ParamTypeNumber},
			},
			Handler: forwardToHost("scale_entity"),
		},
		{
			Name:     "rotate_entity",
			Kind:     ToolKindPlacement,
			Mutating: true,
			Params: []ParamSpec{
				{Key: "target", Type: ParamTypeString, Required: true},
				{Key: "yaw", Type: ParamTypeNumber},
				{Key: "pitch", Type: ParamTypeNumber},
				{Key: "roll", Type: ParamTypeNumber},
			},
			Handler: forwardToHost("rotate_entity"),
		},
		{
			Name:     "create_script",
			Kind:     ToolKindScript,
			Mutating: true,
			Params: []ParamSpec{
				{Key: "name", Type: ParamTypeString, Required: true},
				{Key: "source", Type: ParamTypeText, Required: true},
			},
			Handler: forwardToHost("create_script"),
		},
		{
			Name:     "attach_script",
			Kind:     ToolKindPlacement,
			Mutating: true,
			Params: []ParamSpec{
				{Key: "target", Type: ParamTypeString, Required: true},
				{Key: "script", Type: ParamTypeString, Required: true},
			},
			Handler: forwardToHost("attach_script"),
		},
		{
			Name:     "set_camera",
			Kind:     ToolKindPlacement,
			Mutating: true,
			Params: []ParamSpec{
				{Key: "height", Type: ParamTypeNumber},
				{Key: "x", Type: ParamTypeNumber},
				{Key: "y", Type: ParamTypeNumber},
				{Key: "z", Type: ParamTypeNumber},
				{Key: "yaw", Type: ParamTypeNumber},
				{Key: "pitch", Type: ParamTypeNumber},
			},
			Handler: forwardToHost("set_camera"),
		},
		{
			Name:     "delete_entity",
			Kind:     ToolKindOther,
			Mutating: true,
			Params: []ParamSpec{
				{Key: "target", Type: ParamTypeString, Required: true},
			},
			Handler: forwardToHost("delete_entity"),
		},
		{
			Name:     "save_scene",
			Kind:     ToolKindPersist,
			Mutating: true,
			Handler: func(ctx context.Context, h host.Host, call ToolCall) (ToolResult, error) {
				if err := h.Persist(ctx); err != nil {
					return ToolResult{}, err
				}
				return ToolResult{Success: true, Message: "scene saved"}, nil
			},
		},
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// forwardToHost builds the default handler: dispatch the call's arguments
// to host.Invoke and map the host result onto a ToolResult.
func forwardToHost(op string) Handler {
	return func(ctx context.Context, h host.Host, call ToolCall) (ToolResult, error) {
		res, err := h.Invoke(ctx, op, call.ArgMap())
		if err != nil {
			return ToolResult{}, err
		}
		out := ToolResult{Success: true, Message: res.Message}
		if res.EntityID != "" {
			out.SideEffect = &SideEffect{
				EntityID: res.EntityID,
				Class:    res.Class,
				Created:  res.Created,
				Modified: res.Modified,
				TopLevel: res.TopLevel,
			}
		}
		return out, nil
	}
}
