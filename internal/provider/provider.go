// Package provider adapts concrete LLM vendors to the agent core's opaque
// text-completion contract. The core never imports a vendor SDK; everything
// vendor-specific stays here.
package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/marbleworks/scenepilot/internal/agent"
)

// Settings selects and configures a vendor client.
type Settings struct {
	// Provider is "openai" or "anthropic".
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	// MaxOutputTokens caps one completion; 0 means the vendor default.
	MaxOutputTokens int
}

// New builds a ModelClient for the configured vendor.
func New(s Settings) (agent.ModelClient, error) {
	if strings.TrimSpace(s.Model) == "" {
		return nil, errors.New("missing model")
	}
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, errors.New("missing api key")
	}
	switch strings.ToLower(strings.TrimSpace(s.Provider)) {
	case "openai":
		return newOpenAIClient(s), nil
	case "anthropic":
		return newAnthropicClient(s), nil
	default:
		return nil, errors.New("unknown provider: " + s.Provider)
	}
}

// Scripted replays canned responses in order. It backs controller tests and
// the CLI's --dry-run mode.
type Scripted struct {
	Responses []string
	// Err, when set, is returned for every call (ModelUnavailable path).
	Err   error
	calls int
}

func (s *Scripted) next() (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	if s.calls >= len(s.Responses) {
		return "Done.", nil
	}
	out := s.Responses[s.calls]
	s.calls++
	return out, nil
}

func (s *Scripted) Complete(ctx context.Context, turn agent.ModelTurn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.next()
}

func (s *Scripted) Stream(ctx context.Context, turn agent.ModelTurn, onDelta func(string)) (string, error) {
	text, err := s.Complete(ctx, turn)
	if err != nil {
		return "", err
	}
	// Chunk on line boundaries to exercise the partial-parse path.
	if onDelta != nil {
		for _, line := range strings.SplitAfter(text, "\n") {
			if line == "" {
				continue
			}
			onDelta(line)
		}
	}
	return text, nil
}

// Calls reports how many completions were served.
func (s *Scripted) Calls() int {
	return s.calls
}
