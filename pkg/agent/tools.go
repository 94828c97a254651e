// Package agent implements the multi-round tool-calling loop shared by the
// three pipeline agents. Tool calls come back as structured values from the
// model; a response without tool calls (or a tool that sets the final text)
// ends the loop.
package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/llm"
)

// FinalTextKey is the scratchpad key a terminal tool sets to end the loop
// with a result the model never has to restate.
const FinalTextKey = "_final_text"

// Tool is one capability advertised to the model.
type Tool interface {
	// Definition describes the tool for the model.
	Definition() llm.ToolDefinition

	// Parallel reports whether the tool is safe to run concurrently with
	// other parallel-safe tools from the same response.
	Parallel() bool

	// Execute runs the tool. A returned error becomes an error result block
	// for the model; it does not abort the loop.
	Execute(ctx context.Context, input json.RawMessage, sp *Scratchpad) (string, error)
}

// Registry holds an agent's tool set keyed by name.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a registry. Later registrations with the same name
// replace earlier ones.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Definition().Name
		if _, exists := r.tools[name]; !exists {
			r.order = append(r.order, name)
		}
		r.tools[name] = t
	}
	return r
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns tool definitions in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Scratchpad is the shared mutable state tools write during a run: saved
// artifacts, intermediate notes, and the terminal final text.
type Scratchpad struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewScratchpad creates an empty scratchpad.
func NewScratchpad() *Scratchpad {
	return &Scratchpad{values: make(map[string]any)}
}

// Set stores a value.
func (s *Scratchpad) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Get returns a value.
func (s *Scratchpad) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// GetString returns a string value, or "" when absent or not a string.
func (s *Scratchpad) GetString(key string) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// Snapshot returns a copy of all stored values. The coordinator harvests
// agent outputs from this after a loop finishes.
func (s *Scratchpad) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// FinalText returns the terminal text a tool recorded, if any.
func (s *Scratchpad) FinalText() (string, bool) {
	v, ok := s.Get(FinalTextKey)
	if !ok {
		return "", false
	}
	str, _ := v.(string)
	return str, str != ""
}
