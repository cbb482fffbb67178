package agent

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marbleworks/scenepilot/internal/host"
)

// Guard rails are plausibility checks, distinct from schema validation. A
// decimal-point transposition (1.9 typed as 19) is type-correct and executes
// cleanly; only a plausible-range check catches it. Values outside the
// typical sub-range warn, values outside the hard range block execution.

// Range declares the plausible ranges for one numeric spatial parameter.
type Range struct {
	TypicalMin float64 `yaml:"typical_min"`
	TypicalMax float64 `yaml:"typical_max"`
	HardMin    float64 `yaml:"hard_min"`
	HardMax    float64 `yaml:"hard_max"`
	// Tolerance bounds the post-verification requested-vs-stored comparison.
	Tolerance float64 `yaml:"tolerance,omitempty"`
	// Prop is the host property key read back during verification. Defaults
	// to the parameter key.
	Prop string `yaml:"prop,omitempty"`
}

// RangeTable maps tool name -> parameter key -> plausible range.
type RangeTable map[string]map[string]Range

const defaultTolerance = 0.01

// DefaultRangeTable returns the built-in plausible ranges for the scene
// domain. The numbers are tuning constants tied to the host's spatial
// conventions; a different host must re-derive its own table (see
// LoadRangeTableYAML).
func DefaultRangeTable() RangeTable {
	position := Range{TypicalMin: -10, TypicalMax: 10, HardMin: -100, HardMax: 100}
	scale := Range{TypicalMin: 0.1, TypicalMax: 10, HardMin: 0.01, HardMax: 100}
	angle := Range{TypicalMin: -180, TypicalMax: 180, HardMin: -360, HardMax: 360}

	t := RangeTable{
		"create_entity": {"x": position, "y": position, "z": position},
		"move_entity":   {"x": position, "y": position, "z": position},
		"scale_entity": {
			"scale":   scale,
			"scale_x": scale,
			"scale_y": scale,
			"scale_z": scale,
		},
		"rotate_entity": {"yaw": angle, "pitch": angle, "roll": angle},
		"set_camera": {
			// First-person viewpoint height.
			"height": {TypicalMin: 0.5, TypicalMax: 3.0, HardMin: 0.0, HardMax: 10.0},
			"x":      position,
			"y":      {TypicalMin: 0.0, TypicalMax: 10, HardMin: -100, HardMax: 100},
			"z":      position,
		},
	}
	return t
}

// rangeTableFile is the YAML override document shape:
//
//	ranges:
//	  - tool: set_camera
//	    param: height
//	    typical_min: 0.5
//	    typical_max: 3.0
//	    hard_min: 0.0
//	    hard_max: 10.0
type rangeTableFile struct {
	Ranges []struct {
		Tool  string `yaml:"tool"`
		Param string `yaml:"param"`
		Range `yaml:",inline"`
	} `yaml:"ranges"`
}

// LoadRangeTableYAML merges range overrides from a YAML file into base.
// Unknown tools/params create new entries, so a host with a different
// spatial vocabulary can supply a full table.
func LoadRangeTableYAML(path string, base RangeTable) (RangeTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc rangeTableFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("invalid range table %s: %w", path, err)
	}
	out := make(RangeTable, len(base))
	for tool, params := range base {
		cp := make(map[string]Range, len(params))
		for k, v := range params {
			cp[k] = v
		}
		out[tool] = cp
	}
	for _, item := range doc.Ranges {
		tool := strings.TrimSpace(item.Tool)
		param := strings.TrimSpace(item.Param)
		if tool == "" || param == "" {
			return nil, fmt.Errorf("invalid range table %s: entry missing tool or param", path)
		}
		if item.HardMin >= item.HardMax {
			return nil, fmt.Errorf("invalid range table %s: %s.%s hard range is empty", path, tool, param)
		}
		if out[tool] == nil {
			out[tool] = make(map[string]Range)
		}
		out[tool][param] = item.Range
	}
	return out, nil
}

// Warning is a non-blocking guard-rail finding attached to a tool result.
type Warning struct {
	Tool    string  `json:"tool"`
	Param   string  `json:"param"`
	Value   float64 `json:"value"`
	Message string  `json:"message"`
}

// RangeViolation is a hard-range rejection; it blocks execution.
type RangeViolation struct {
	Tool  string
	Param string
	Value float64
	Min   float64
	Max   float64
}

func (v *RangeViolation) Error() string {
	return fmt.Sprintf("%s: %s=%g outside plausible range [%g, %g]", v.Tool, v.Param, v.Value, v.Min, v.Max)
}

// GuardRail validates numeric tool arguments against plausible ranges
// before execution and verifies stored values after.
type GuardRail struct {
	table RangeTable
}

func NewGuardRail(table RangeTable) *GuardRail {
	if table == nil {
		table = DefaultRangeTable()
	}
	return &GuardRail{table: table}
}

// Table exposes the active range table for prompt construction (the
// corrective continuation prompt quotes it).
func (g *GuardRail) Table() RangeTable {
	if g == nil {
		return nil
	}
	return g.table
}

// Validate checks a proposed call before execution. Typical-range misses
// come back as warnings; the first hard-range miss blocks with a
// RangeViolation and no partial side effect. Every occurrence of a guarded
// key is checked individually, so a duplicate key cannot smuggle a second
// value past the ranges.
func (g *GuardRail) Validate(call ToolCall) ([]Warning, *RangeViolation) {
	if g == nil {
		return nil, nil
	}
	params := g.table[call.Name]
	if len(params) == 0 {
		return nil, nil
	}
	var warnings []Warning
	for _, arg := range call.Args {
		rng, guarded := params[arg.Key]
		if !guarded {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(arg.Value), 64)
		if err != nil {
			continue
		}
		if v < rng.HardMin || v > rng.HardMax {
			return warnings, &RangeViolation{Tool: call.Name, Param: arg.Key, Value: v, Min: rng.HardMin, Max: rng.HardMax}
		}
		if v < rng.TypicalMin || v > rng.TypicalMax {
			warnings = append(warnings, Warning{
				Tool:    call.Name,
				Param:   arg.Key,
				Value:   v,
				Message: fmt.Sprintf("%s=%g is outside the typical range [%g, %g]; double-check the intended value", arg.Key, v, rng.TypicalMin, rng.TypicalMax),
			})
		}
	}
	return warnings, nil
}

// Verify re-reads the affected entity after execution and flags any guarded
// parameter whose stored value does not match the request within tolerance.
// Catches host-side clamping and silent failure.
func (g *GuardRail) Verify(call ToolCall, state host.EntityState) []Warning {
	if g == nil || state.Props == nil {
		return nil
	}
	params := g.table[call.Name]
	if len(params) == 0 {
		return nil
	}
	var warnings []Warning
	seen := map[string]struct{}{}
	for _, arg := range call.Args {
		rng, guarded := params[arg.Key]
		if !guarded {
			continue
		}
		// Duplicate keys collapse to the last occurrence, the value the
		// host actually stored.
		if _, done := seen[arg.Key]; done {
			continue
		}
		seen[arg.Key] = struct{}{}
		requested, ok := call.Float(arg.Key)
		if !ok {
			continue
		}
		prop := rng.Prop
		if prop == "" {
			prop = arg.Key
		}
		actual, present := state.Props[prop]
		if !present {
			continue
		}
		tol := rng.Tolerance
		if tol <= 0 {
			tol = defaultTolerance
		}
		if diff := actual - requested; diff > tol || diff < -tol {
			warnings = append(warnings, Warning{
				Tool:    call.Name,
				Param:   arg.Key,
				Value:   actual,
				Message: fmt.Sprintf("host stored %s=%g but %g was requested", arg.Key, actual, requested),
			})
		}
	}
	return warnings
}

// DescribeRanges renders the range table as prompt-ready lines, one guarded
// parameter per line, sorted for stable output.
func DescribeRanges(table RangeTable) string {
	if len(table) == 0 {
		return ""
	}
	var lines []string
	for _, tool := range sortedKeys(table) {
		params := table[tool]
		for _, param := range sortedKeys(params) {
			rng := params[param]
			lines = append(lines, fmt.Sprintf("- %s %s: typical [%g, %g], hard limit [%g, %g]",
				tool, param, rng.TypicalMin, rng.TypicalMax, rng.HardMin, rng.HardMax))
		}
	}
	return strings.Join(lines, "\n")
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
