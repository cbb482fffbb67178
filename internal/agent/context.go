package agent

import (
	"fmt"
	"strings"
	"sync"
)

const recentEntityCap = 10

// EntityRef is the context's view of a scene entity.
type EntityRef struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Class string `json:"class,omitempty"`
}

// ConversationContext is the session-owned rolling memory of recently
// created/modified entities. It feeds prompt injection and resolves
// pronoun-style references ("it", "that script"). Owned by one Session and
// passed by reference; never package-level state, so concurrent sessions
// stay isolated.
type ConversationContext struct {
	mu           sync.Mutex
	lastCreated  EntityRef
	lastModified EntityRef
	recent       []EntityRef // newest last, oldest evicted at cap
}

func NewConversationContext() *ConversationContext {
	return &ConversationContext{}
}

// Note records the side effect of one successful tool result.
func (c *ConversationContext) Note(ref EntityRef, created bool, modified bool) {
	if c == nil || strings.TrimSpace(ref.ID) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if created {
		c.lastCreated = ref
	}
	if modified {
		c.lastModified = ref
	}
	for i, r := range c.recent {
		if r.ID == ref.ID {
			c.recent = append(c.recent[:i], c.recent[i+1:]...)
			break
		}
	}
	c.recent = append(c.recent, ref)
	if len(c.recent) > recentEntityCap {
		c.recent = c.recent[len(c.recent)-recentEntityCap:]
	}
}

// LastCreated returns the most recently created entity, if any.
func (c *ConversationContext) LastCreated() (EntityRef, bool) {
	if c == nil {
		return EntityRef{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCreated, c.lastCreated.ID != ""
}

// LastModified returns the most recently modified entity, if any.
func (c *ConversationContext) LastModified() (EntityRef, bool) {
	if c == nil {
		return EntityRef{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastModified, c.lastModified.ID != ""
}

// Recent returns the recent entities, newest last.
func (c *ConversationContext) Recent() []EntityRef {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]EntityRef(nil), c.recent...)
}

// Reset clears all memory. Called on session clear.
func (c *ConversationContext) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCreated = EntityRef{}
	c.lastModified = EntityRef{}
	c.recent = nil
}

// ResolveReference maps pronoun-style user phrasing to a recent entity.
// "that script" / "the script" prefers the newest script-class entity;
// bare "it" / "that" resolves to the most recently touched entity.
func (c *ConversationContext) ResolveReference(text string) (EntityRef, bool) {
	if c == nil {
		return EntityRef{}, false
	}
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return EntityRef{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	wantsScript := strings.Contains(normalized, "that script") || strings.Contains(normalized, "the script")
	if wantsScript {
		for i := len(c.recent) - 1; i >= 0; i-- {
			if c.recent[i].Class == "script" {
				return c.recent[i], true
			}
		}
		return EntityRef{}, false
	}
	hasPronoun := false
	for _, hint := range []string{" it", "it ", "that ", " that", "this ", "the last"} {
		if strings.Contains(" "+normalized+" ", hint) {
			hasPronoun = true
			break
		}
	}
	if !hasPronoun {
		return EntityRef{}, false
	}
	if c.lastModified.ID != "" {
		return c.lastModified, true
	}
	if c.lastCreated.ID != "" {
		return c.lastCreated, true
	}
	if len(c.recent) > 0 {
		return c.recent[len(c.recent)-1], true
	}
	return EntityRef{}, false
}

// PromptLines renders the recent-entity memory for prompt injection, newest
// first, empty when nothing has been touched yet.
func (c *ConversationContext) PromptLines() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.recent) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Recently touched entities (newest first):\n")
	for i := len(c.recent) - 1; i >= 0; i-- {
		r := c.recent[i]
		name := r.Name
		if name == "" {
			name = r.ID
		}
		fmt.Fprintf(&b, "- %s (%s, id %s)\n", name, r.Class, r.ID)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
