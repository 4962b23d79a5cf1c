// Package agentrouter implements the spec §4.D Agent Router: an isolation
// facade spawned one-per-executing-task that turns a provider-specific
// streaming SDK call into the spec's uniform Chunk sequence.
package agentrouter

import (
	"context"
	"fmt"
	"sync"
)

// ChunkType enumerates the Chunk variants the spec defines. The stream ends
// at the first Done or Error, or when the consumer stops iterating.
type ChunkType string

const (
	ChunkMessage    ChunkType = "message"
	ChunkToolUse    ChunkType = "tool_use"
	ChunkToolResult ChunkType = "tool_result"
	ChunkError      ChunkType = "error"
	ChunkDone       ChunkType = "done"
)

// Chunk is one unit of a Router's streamed output.
type Chunk struct {
	Type     ChunkType
	Content  string
	Metadata map[string]any
}

// AgentSettings selects a backend and carries provider credentials for one
// Router instance. bypass_permissions is always true in task-execution
// contexts (spec §4.D) because there is no interactive terminal available
// to authorize tool calls.
type AgentSettings struct {
	Backend           string
	Model             string
	APIKey            string
	BaseURL           string
	BypassPermissions bool
	Extra             map[string]any
}

// Backend is a provider-specific streaming client. Implementations live in
// genkit_backend.go, anthropic_backend.go, openai_backend.go.
type Backend interface {
	Stream(ctx context.Context, settings AgentSettings, prompt string) (<-chan Chunk, error)
}

// BackendFactory constructs a Backend by name ("genkit", "anthropic",
// "openai"); each backend file registers its factory via RegisterBackend
// from its own init function.
type BackendFactory func() Backend

var (
	registryMu sync.RWMutex
	registry   = map[string]BackendFactory{}
)

// RegisterBackend makes a backend constructible by name via NewRouter.
func RegisterBackend(name string, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

func lookupBackend(name string) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("agentrouter: unknown backend %q", name)
	}
	return factory(), nil
}

// Router is an isolation facade: exactly one instance exists per executing
// task (spec §4.D).
type Router struct {
	settings AgentSettings
	backend  Backend

	mu     sync.Mutex
	cancel context.CancelFunc
	done   bool
}

// New constructs a Router for settings.Backend. Returns an error if the
// backend name isn't registered.
func New(settings AgentSettings) (*Router, error) {
	settings.BypassPermissions = true
	backend, err := lookupBackend(settings.Backend)
	if err != nil {
		return nil, err
	}
	return &Router{settings: settings, backend: backend}, nil
}

// Run starts a streaming call and returns a lazily-consumed finite sequence
// of Chunk. The returned channel is closed after a Done or Error chunk, or
// when ctx is canceled.
func (r *Router) Run(ctx context.Context, prompt string) (<-chan Chunk, error) {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	upstream, err := r.backend.Stream(runCtx, r.settings, prompt)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agentrouter: start stream: %w", err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for chunk := range upstream {
			select {
			case out <- chunk:
			case <-runCtx.Done():
				return
			}
			if chunk.Type == ChunkDone || chunk.Type == ChunkError {
				return
			}
		}
	}()
	return out, nil
}

// Stop cancels the in-flight run. Idempotent.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	if r.cancel != nil {
		r.cancel()
	}
}
