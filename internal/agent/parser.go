package agent

import "strings"

// Tool-call wire syntax, the one bit-exact contract with the model:
//
//	[TOOL:<tool_name>]
//	<key1>: <value1>
//	<key2>: <value2>
//	[/TOOL]
//
// Tool names and keys are case-sensitive ASCII identifiers. Verbatim keys
// (script bodies) swallow the remainder of the block up to the closing tag,
// so their values must not contain the literal closing delimiter. Detection
// relies on the literal delimiters only; nothing is auto-escaped.
const (
	toolTagOpen  = "[TOOL:"
	toolTagClose = "[/TOOL]"
)

// defaultVerbatimKeys backs registry-less parsing (display stripping,
// partial-progress counting). Registry.Parse derives the authoritative set
// from each tool's ParamTypeText declarations.
var defaultVerbatimKeys = map[string]struct{}{
	"source": {},
	"body":   {},
}

// ParseResult is the parser's output for one response text.
type ParseResult struct {
	Calls []ToolCall
	// Unclosed is set when a tool block was opened but its closing tag never
	// appeared. The calls parsed before the malformed block are still
	// returned; the flag feeds the completion heuristic.
	Unclosed bool
}

// ParseToolCalls extracts tool calls from raw model output, in source order,
// ignoring interleaved narrative text. It never fails: malformed trailing
// blocks yield whatever parsed cleanly plus the Unclosed flag.
func ParseToolCalls(text string) ParseResult {
	return parseToolCalls(text, defaultVerbatimKeys)
}

func parseToolCalls(text string, verbatim map[string]struct{}) ParseResult {
	var out ParseResult
	rest := text
	for {
		openIdx := strings.Index(rest, toolTagOpen)
		if openIdx < 0 {
			return out
		}
		after := rest[openIdx+len(toolTagOpen):]
		nameEnd := strings.Index(after, "]")
		if nameEnd < 0 {
			out.Unclosed = true
			return out
		}
		name := strings.TrimSpace(after[:nameEnd])
		body := after[nameEnd+1:]
		closeIdx := strings.Index(body, toolTagClose)
		if closeIdx < 0 {
			out.Unclosed = true
			return out
		}
		raw := rest[openIdx : openIdx+len(toolTagOpen)+nameEnd+1+closeIdx+len(toolTagClose)]
		if name != "" {
			call := ToolCall{Name: name, Raw: raw}
			call.Args = parseArgs(body[:closeIdx], verbatim)
			out.Calls = append(out.Calls, call)
		}
		rest = body[closeIdx+len(toolTagClose):]
	}
}

// parseArgs splits a block body into ordered key: value pairs. The first
// verbatim key captures the remainder of the body as-is. Unknown keys are
// preserved; schema validation belongs to the registry, not the parser.
func parseArgs(body string, verbatim map[string]struct{}) []ToolArg {
	var args []ToolArg
	remaining := strings.TrimPrefix(body, "\n")
	for remaining != "" {
		line := remaining
		next := ""
		if nl := strings.Index(remaining, "\n"); nl >= 0 {
			line = remaining[:nl]
			next = remaining[nl+1:]
		}
		colon := strings.Index(line, ":")
		if colon <= 0 {
			// Tolerant: narrative or blank lines inside a block are skipped.
			remaining = next
			continue
		}
		key := strings.TrimSpace(line[:colon])
		if key == "" || strings.ContainsAny(key, " \t") {
			remaining = next
			continue
		}
		if _, ok := verbatim[key]; ok {
			value := strings.TrimPrefix(line[colon+1:], " ")
			if next != "" {
				if value != "" {
					value += "\n"
				}
				value += strings.TrimSuffix(next, "\n")
			}
			args = append(args, ToolArg{Key: key, Value: value})
			return args
		}
		args = append(args, ToolArg{Key: key, Value: strings.TrimSpace(line[colon+1:])})
		remaining = next
	}
	return args
}

// EndsInsideOpenBlock reports whether the text's tail is inside a tool block
// that was opened but not yet closed. Used both by the completion heuristic
// and by the streaming path to avoid flagging a block that is still arriving.
func EndsInsideOpenBlock(text string) bool {
	lastOpen := strings.LastIndex(text, toolTagOpen)
	if lastOpen < 0 {
		return false
	}
	return !strings.Contains(text[lastOpen:], toolTagClose)
}
