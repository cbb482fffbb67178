// Package memscene is an in-process reference implementation of the host
// collaborator interface: a small mutable scene graph with entities,
// transforms, scripts and a camera.
//
// It backs the CLI when no real editor is attached and serves as the host
// double in engine tests. It is intentionally single-threaded behind one
// mutex; the agent core assumes exclusive single-writer access per turn.
package memscene

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/marbleworks/scenepilot/internal/host"
)

const (
	ClassPart   = "part"
	ClassScript = "script"
	ClassCamera = "camera"
)

type entity struct {
	id       string
	name     string
	class    string
	parent   string
	script   string
	props    map[string]float64
	topLevel bool
}

// Scene is an in-memory scene graph implementing host.Host.
type Scene struct {
	mu       sync.Mutex
	entities map[string]*entity // id -> entity
	byName   map[string]string  // lowercase name -> id
	order    []string           // creation order, for stable listings
	dirty    bool
	saves    int
}

func New() *Scene {
	s := &Scene{
		entities: make(map[string]*entity),
		byName:   make(map[string]string),
	}
	cam := &entity{
		id:    newID("camera"),
		name:  "Camera",
		class: ClassCamera,
		props: map[string]float64{"x": 0, "y": 1.6, "z": -5, "height": 1.6},
	}
	s.insert(cam)
	return s
}

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (s *Scene) insert(e *entity) {
	s.entities[e.id] = e
	s.byName[strings.ToLower(e.name)] = e.id
	s.order = append(s.order, e.id)
}

func (s *Scene) lookup(ref string) (*entity, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}
	if e, ok := s.entities[ref]; ok {
		return e, true
	}
	if id, ok := s.byName[strings.ToLower(ref)]; ok {
		return s.entities[id], true
	}
	return nil, false
}

// SaveCount reports how many times Persist succeeded. Used by tests and by
// the CLI status line.
func (s *Scene) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Dirty reports whether the scene has unsaved mutations.
func (s *Scene) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// EntityCount reports the number of live entities, camera included.
func (s *Scene) EntityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

func (s *Scene) QueryEntity(ctx context.Context, id string) (host.EntityState, bool, error) {
	if err := ctx.Err(); err != nil {
		return host.EntityState{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(id)
	if !ok {
		return host.EntityState{}, false, nil
	}
	return snapshot(e), true, nil
}

func snapshot(e *entity) host.EntityState {
	props := make(map[string]float64, len(e.props))
	for k, v := range e.props {
		props[k] = v
	}
	return host.EntityState{
		ID:       e.id,
		Name:     e.name,
		Class:    e.class,
		Parent:   e.parent,
		TopLevel: e.topLevel,
		Script:   e.script,
		Props:    props,
	}
}

func (s *Scene) Persist(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
	s.saves++
	return nil
}

func (s *Scene) Invoke(ctx context.Context, toolName string, args map[string]string) (host.Result, error) {
	if err := ctx.Err(); err != nil {
		return host.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.TrimSpace(toolName) {
	case "create_entity":
		return s.createEntity(args)
	case "move_entity":
		return s.moveEntity(args)
	case "scale_entity":
		return s.scaleEntity(args)
	case "rotate_entity":
		return s.rotateEntity(args)
	case "create_script":
		return s.createScript(args)
	case "attach_script":
		return s.attachScript(args)
	case "set_camera":
		return s.setCamera(args)
	case "delete_entity":
		return s.deleteEntity(args)
	case "save_scene":
		s.dirty = false
		s.saves++
		return host.Result{Message: "scene saved"}, nil
	default:
		return host.Result{}, &host.Fault{Code: host.FaultCodeInvalidArgument, Message: fmt.Sprintf("unsupported host operation: %s", toolName)}
	}
}

func (s *Scene) createEntity(args map[string]string) (host.Result, error) {
	name := strings.TrimSpace(args["name"])
	if name == "" {
		return host.Result{}, &host.Fault{Code: host.FaultCodeInvalidArgument, Message: "missing required argument: name"}
	}
	if _, exists := s.byName[strings.ToLower(name)]; exists {
		return host.Result{}, &host.Fault{Code: host.FaultCodeInvalidState, Message: fmt.Sprintf("entity %q already exists", name)}
	}
	class := strings.TrimSpace(args["class"])
	if class == "" {
		class = ClassPart
	}
	e := &entity{
		id:       newID(class),
		name:     name,
		class:    class,
		topLevel: class == ClassPart,
		props: map[string]float64{
			"x": floatArg(args, "x", 0),
			"y": floatArg(args, "y", 0),
			"z": floatArg(args, "z", 0),
		},
	}
	s.insert(e)
	s.dirty = true
	return host.Result{
		Message:  fmt.Sprintf("created %s %q at (%g, %g, %g)", class, name, e.props["x"], e.props["y"], e.props["z"]),
		EntityID: e.id,
		Created:  true,
		Class:    class,
		TopLevel: e.topLevel,
	}, nil
}

func (s *Scene) moveEntity(args map[string]string) (host.Result, error) {
	e, err := s.target(args)
	if err != nil {
		return host.Result{}, err
	}
	for _, axis := range []string{"x", "y", "z"} {
		if raw, ok := args[axis]; ok && strings.TrimSpace(raw) != "" {
			v, perr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if perr != nil {
				return host.Result{}, &host.Fault{Code: host.FaultCodeInvalidArgument, Message: fmt.Sprintf("invalid argument %s=%q", axis, raw)}
			}
			e.props[axis] = v
		}
	}
	s.dirty = true
	return host.Result{
		Message:  fmt.Sprintf("moved %q to (%g, %g, %g)", e.name, e.props["x"], e.props["y"], e.props["z"]),
		EntityID: e.id,
		Modified: true,
		Class:    e.class,
	}, nil
}

func (s *Scene) scaleEntity(args map[string]string) (host.Result, error) {
	e, err := s.target(args)
	if err != nil {
		return host.Result{}, err
	}
	if raw, ok := args["scale"]; ok && strings.TrimSpace(raw) != "" {
		v, perr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if perr != nil {
			return host.Result{}, &host.Fault{Code: host.FaultCodeInvalidArgument, Message: fmt.Sprintf("invalid argument scale=%q", raw)}
		}
		e.props["scale"] = v
		e.props["scale_x"], e.props["scale_y"], e.props["scale_z"] = v, v, v
	}
	for _, axis := range []string{"scale_x", "scale_y", "scale_z"} {
		if raw, ok := args[axis]; ok && strings.TrimSpace(raw) != "" {
			v, perr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if perr != nil {
				return host.Result{}, &host.Fault{Code: host.FaultCodeInvalidArgument, Message: fmt.Sprintf("invalid argument %s=%q", axis, raw)}
			}
			e.props[axis] = v
		}
	}
	s.dirty = true
	return host.Result{Message: fmt.Sprintf("scaled %q", e.name), EntityID: e.id, Modified: true, Class: e.class}, nil
}

func (s *Scene) rotateEntity(args map[string]string) (host.Result, error) {
	e, err := s.target(args)
	if err != nil {
		return host.Result{}, err
	}
	for _, axis := range []string{"yaw", "pitch", "roll"} {
		if raw, ok := args[axis]; ok && strings.TrimSpace(raw) != "" {
			v, perr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if perr != nil {
				return host.Result{}, &host.Fault{Code: host.FaultCodeInvalidArgument, Message: fmt.Sprintf("invalid argument %s=%q", axis, raw)}
			}
			e.props[axis] = v
		}
	}
	s.dirty = true
	return host.Result{Message: fmt.Sprintf("rotated %q", e.name), EntityID: e.id, Modified: true, Class: e.class}, nil
}

func (s *Scene) createScript(args map[string]string) (host.Result, error) {
	name := strings.TrimSpace(args["name"])
	if name == "" {
		return host.Result{}, &host.Fault{Code: host.FaultCodeInvalidArgument, Message: "missing required argument: name"}
	}
	if _, exists := s.byName[strings.ToLower(name)]; exists {
		return host.Result{}, &host.Fault{Code: host.FaultCodeInvalidState, Message: fmt.Sprintf("script %q already exists", name)}
	}
	e := &entity{
		id:     newID(ClassScript),
		name:   name,
		class:  ClassScript,
		script: args["source"],
		props:  map[string]float64{},
	}
	s.insert(e)
	s.dirty = true
	return host.Result{
		Message:  fmt.Sprintf("created script %q (%d bytes)", name, len(e.script)),
		EntityID: e.id,
		Created:  true,
		Class:    ClassScript,
	}, nil
}

func (s *Scene) attachScript(args map[string]string) (host.Result, error) {
	e, err := s.target(args)
	if err != nil {
		return host.Result{}, err
	}
	script, ok := s.lookup(args["script"])
	if !ok || script.class != ClassScript {
		return host.Result{}, &host.Fault{Code: host.FaultCodeNotFound, Message: fmt.Sprintf("script not found: %s", strings.TrimSpace(args["script"]))}
	}
	script.parent = e.id
	s.dirty = true
	return host.Result{
		Message:  fmt.Sprintf("attached script %q to %q", script.name, e.name),
		EntityID: script.id,
		Modified: true,
		Class:    ClassScript,
	}, nil
}

func (s *Scene) setCamera(args map[string]string) (host.Result, error) {
	cam, ok := s.lookup("Camera")
	if !ok {
		return host.Result{}, &host.Fault{Code: host.FaultCodeNotFound, Message: "camera not found"}
	}
	for _, key := range []string{"x", "y", "z", "height", "yaw", "pitch"} {
		if raw, ok := args[key]; ok && strings.TrimSpace(raw) != "" {
			v, perr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if perr != nil {
				return host.Result{}, &host.Fault{Code: host.FaultCodeInvalidArgument, Message: fmt.Sprintf("invalid argument %s=%q", key, raw)}
			}
			cam.props[key] = v
			if key == "height" {
				cam.props["y"] = v
			}
		}
	}
	s.dirty = true
	return host.Result{Message: "camera updated", EntityID: cam.id, Modified: true, Class: ClassCamera}, nil
}

func (s *Scene) deleteEntity(args map[string]string) (host.Result, error) {
	e, err := s.target(args)
	if err != nil {
		return host.Result{}, err
	}
	delete(s.entities, e.id)
	delete(s.byName, strings.ToLower(e.name))
	for i, id := range s.order {
		if id == e.id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.dirty = true
	return host.Result{Message: fmt.Sprintf("deleted %q", e.name), EntityID: e.id, Modified: true, Class: e.class}, nil
}

func (s *Scene) target(args map[string]string) (*entity, error) {
	ref := strings.TrimSpace(args["target"])
	if ref == "" {
		return nil, &host.Fault{Code: host.FaultCodeInvalidArgument, Message: "missing required argument: target"}
	}
	e, ok := s.lookup(ref)
	if !ok {
		return nil, &host.Fault{Code: host.FaultCodeNotFound, Message: fmt.Sprintf("entity not found: %s", ref)}
	}
	return e, nil
}

func floatArg(args map[string]string, key string, def float64) float64 {
	raw, ok := args[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return def
	}
	return v
}
