package agent

import (
	"strings"
	"unicode"
)

// The completion heuristic decides whether a turn is finished. Each rule is
// an explicit, independently testable predicate over the response text and
// the execution report; any single true rule marks the turn incomplete.
// Reasons are retained (not collapsed into a bool) because the continuation
// controller tailors its prompt per reason.

// assessInput is the evidence one assessment runs over.
type assessInput struct {
	Text     string
	Unclosed bool
	Report   *ExecutionReport
	kindOf   func(name string) ToolKind
}

type completionRule struct {
	code ReasonCode
	when func(in assessInput) bool
}

var intentPhrases = []string{
	"i'll create",
	"i will create",
	"let me create",
	"i'm going to create",
	"i am going to create",
	"i'll add",
	"i will add",
	"i'll build",
	"i will build",
	"i'll make",
	"i will make",
	"let me add",
	"let me build",
	"now i'll",
	"now i will",
	"next i'll",
	"next i will",
}

var scriptCreationHints = []string{
	"generat",
	"creat",
	"writ",
	"add",
}

var completionRules = []completionRule{
	{code: ReasonNoTerminalPunctuation, when: func(in assessInput) bool {
		if EndsInsideOpenBlock(in.Text) {
			return false // rule 2 territory
		}
		return !endsTerminal(in.Text)
	}},
	{code: ReasonUnclosedToolTag, when: func(in assessInput) bool {
		return in.Unclosed
	}},
	{code: ReasonPromisedActionMissing, when: func(in assessInput) bool {
		return containsAnyFold(in.Text, intentPhrases) && executedCalls(in.Report) < 3
	}},
	{code: ReasonScriptNotCreated, when: func(in assessInput) bool {
		lower := strings.ToLower(in.Text)
		if !strings.Contains(lower, "script") || !containsAnyFold(lower, scriptCreationHints) {
			return false
		}
		return !ranKind(in, ToolKindScript)
	}},
	{code: ReasonPlanUnderexecuted, when: func(in assessInput) bool {
		return impliesMultiStepPlan(in.Text) && executedCalls(in.Report) < 3
	}},
	{code: ReasonEntityNotPersisted, when: func(in assessInput) bool {
		if in.Report == nil {
			return false
		}
		created := false
		for _, e := range in.Report.Entries {
			if e.Result.Success && e.Result.SideEffect != nil && e.Result.SideEffect.Created && e.Result.SideEffect.TopLevel {
				created = true
				break
			}
		}
		return created && !ranKind(in, ToolKindPersist)
	}},
	{code: ReasonScriptNotConfigured, when: func(in assessInput) bool {
		if in.Report == nil {
			return false
		}
		scriptIdx := -1
		for _, e := range in.Report.Entries {
			if e.Result.Success && in.kindOf(e.Call.Name) == ToolKindScript {
				scriptIdx = e.Index
			}
		}
		if scriptIdx < 0 {
			return false
		}
		for _, e := range in.Report.Entries {
			if e.Index > scriptIdx && in.kindOf(e.Call.Name) == ToolKindPlacement {
				return false
			}
		}
		return true
	}},
	{code: ReasonErrorsOrWarnings, when: func(in assessInput) bool {
		return in.Report.FailureCount() > 0 || in.Report.WarningCount() > 0
	}},
	{code: ReasonSingleToolCall, when: func(in assessInput) bool {
		return executedCalls(in.Report) == 1
	}},
}

// CompletionHeuristic assesses turns against the fixed rule table.
type CompletionHeuristic struct {
	reg *Registry
}

func NewCompletionHeuristic(reg *Registry) *CompletionHeuristic {
	return &CompletionHeuristic{reg: reg}
}

// Assess runs every rule and returns the verdict with all firing reasons.
func (h *CompletionHeuristic) Assess(rawResponseText string, unclosed bool, report *ExecutionReport) Verdict {
	in := assessInput{
		Text:     strings.TrimSpace(rawResponseText),
		Unclosed: unclosed,
		Report:   report,
		kindOf: func(name string) ToolKind {
			if h == nil || h.reg == nil {
				return ToolKindOther
			}
			return h.reg.KindOf(name)
		},
	}
	var reasons []ReasonCode
	for _, rule := range completionRules {
		if rule.when(in) {
			reasons = append(reasons, rule.code)
		}
	}
	return Verdict{Complete: len(reasons) == 0, Reasons: reasons}
}

func executedCalls(report *ExecutionReport) int {
	if report == nil {
		return 0
	}
	return len(report.Entries)
}

func ranKind(in assessInput, kind ToolKind) bool {
	if in.Report == nil {
		return false
	}
	for _, e := range in.Report.Entries {
		if in.kindOf(e.Call.Name) == kind {
			return true
		}
	}
	return false
}

// endsTerminal reports whether the trimmed text ends with terminal
// punctuation or a completed tool block. Trailing quotes and closing
// brackets are skipped before the check.
func endsTerminal(text string) bool {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, toolTagClose) || strings.HasSuffix(trimmed, "```") {
		return true
	}
	runes := []rune(trimmed)
	i := len(runes) - 1
	for i >= 0 && strings.ContainsRune(`"')]}”’）】`, runes[i]) {
		i--
	}
	if i < 0 {
		return false
	}
	return strings.ContainsRune(".!?。！？", runes[i])
}

func containsAnyFold(text string, hints []string) bool {
	lower := strings.ToLower(text)
	for _, h := range hints {
		if h == "" {
			continue
		}
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

// impliesMultiStepPlan detects enumerated-step phrasing. The "1." family of
// hints must start a line to avoid matching decimals in narrative text.
func impliesMultiStepPlan(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "step 1") || strings.Contains(lower, "step one") {
		return true
	}
	if strings.Contains(lower, "first,") && (strings.Contains(lower, "then") || strings.Contains(lower, "finally")) {
		return true
	}
	sawFirst := false
	for _, line := range strings.Split(lower, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "1.") || strings.HasPrefix(line, "1)") {
			sawFirst = true
		}
		if sawFirst && (strings.HasPrefix(line, "2.") || strings.HasPrefix(line, "2)")) {
			return true
		}
	}
	return false
}
