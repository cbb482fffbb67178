package agent

import (
	"fmt"
	"strings"
)

// buildSystemPrompt renders the fixed tool-protocol instructions plus the
// registered tool catalog.
func buildSystemPrompt(reg *Registry) string {
	var b strings.Builder
	b.WriteString("You are an in-editor assistant that edits a live 3D scene by emitting tool calls.\n")
	b.WriteString("Emit each tool call in this exact form, interleaved with short narrative text:\n\n")
	b.WriteString("[TOOL:<tool_name>]\n<key>: <value>\n[/TOOL]\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Tool names and keys are case-sensitive.\n")
	b.WriteString("- One operation per block. Blocks run in the order written.\n")
	b.WriteString("- The source key of create_script takes the verbatim remainder of the block; never put [/TOOL] inside a script body.\n")
	b.WriteString("- Save the scene with save_scene after creating new entities.\n\n")
	b.WriteString("Available tools:\n")
	for _, def := range reg.Snapshot() {
		keys := make([]string, 0, len(def.Params))
		for _, p := range def.Params {
			k := p.Key
			if p.Required {
				k += "*"
			}
			keys = append(keys, k)
		}
		fmt.Fprintf(&b, "- %s(%s)\n", def.Name, strings.Join(keys, ", "))
	}
	return b.String()
}

// buildUserPrompt injects the recent-entity memory and resolved references
// ahead of the raw user request.
func buildUserPrompt(convo *ConversationContext, input string) string {
	var lines []string
	if mem := convo.PromptLines(); mem != "" {
		lines = append(lines, mem)
	}
	if ref, ok := convo.ResolveReference(input); ok {
		name := ref.Name
		if name == "" {
			name = ref.ID
		}
		lines = append(lines, fmt.Sprintf("When the request says \"it\" or \"that\", it most likely refers to %s (%s, id %s).", name, ref.Class, ref.ID))
	}
	lines = append(lines, strings.TrimSpace(input))
	return strings.Join(lines, "\n\n")
}

// buildContinuationPrompt synthesizes the follow-up request for an
// incomplete turn. Error/warning turns get an explicit corrective preamble
// with the failing tool names and the plausible-range table; under-executed
// turns get a terse checklist derived from the reason codes.
func buildContinuationPrompt(verdict Verdict, report *ExecutionReport, table RangeTable, userInput string) string {
	var lines []string

	if verdict.HasReason(ReasonErrorsOrWarnings) {
		lines = append(lines, "Previous attempt had errors or warnings. Verify each value before proceeding.")
		if failed := report.FailedToolNames(); len(failed) > 0 {
			lines = append(lines, "Failing tools: "+strings.Join(failed, ", ")+".")
		}
		if ranges := DescribeRanges(table); ranges != "" {
			lines = append(lines, "Plausible parameter ranges:", ranges)
		}
	} else if checklist := missingStepChecklist(verdict); len(checklist) > 0 {
		lines = append(lines, "Remaining work:")
		lines = append(lines, checklist...)
	}

	lines = append(lines,
		"Finish the remaining work now.",
		"Do not re-explain steps that already completed.",
	)
	if req := strings.TrimSpace(userInput); req != "" {
		lines = append(lines, "Original request: "+req)
	}
	return strings.Join(lines, "\n")
}

func missingStepChecklist(verdict Verdict) []string {
	var out []string
	for _, reason := range verdict.Reasons {
		switch reason {
		case ReasonNoTerminalPunctuation, ReasonUnclosedToolTag:
			out = append(out, "- The previous response was cut off; re-emit any incomplete tool block in full.")
		case ReasonPromisedActionMissing, ReasonPlanUnderexecuted, ReasonSingleToolCall:
			out = append(out, "- Execute the remaining tool calls you described instead of describing them again.")
		case ReasonScriptNotCreated:
			out = append(out, "- Create the script you mentioned with create_script.")
		case ReasonScriptNotConfigured:
			out = append(out, "- Attach or configure the script you created (attach_script).")
		case ReasonEntityNotPersisted:
			out = append(out, "- Save the scene with save_scene.")
		}
	}
	// Dedupe while preserving order; several reasons map to the same step.
	seen := map[string]struct{}{}
	deduped := out[:0]
	for _, line := range out {
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		deduped = append(deduped, line)
	}
	return deduped
}
