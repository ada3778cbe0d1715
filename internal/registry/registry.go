// Package registry implements the tool registry: eager discovery of tool
// names and input schemas at startup, resolution of short names to
// fully-qualified remote names, and cached schema validation so the hot
// fan-out path never blocks on a tools/list round trip.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolSchema pairs a tool's resolved remote name with its compiled input
// schema, as discovered from tools/list.
type ToolSchema struct {
	ResolvedName string
	InputSchema  json.RawMessage
}

// Lister is the subset of the tool plane client the registry needs:
// enumerate the tools currently published by the remote tool plane.
type Lister interface {
	ListTools(ctx context.Context) ([]RemoteTool, error)
}

// RemoteTool is one entry returned by tools/list.
type RemoteTool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ValidationError reports that arguments failed schema validation.
type ValidationError struct {
	BaseName string
	Errors   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %q: invalid arguments: %s", e.BaseName, strings.Join(e.Errors, "; "))
}

// Registry maps a tool's base_name to its resolved remote name and cached
// schema. It is process-scoped, read-mostly: writes occur only during
// (re)initialization.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]ToolSchema
	order   []string // discovery order, for tie-break
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger

	lister Lister
	empty  bool
}

// New creates an uninitialized Registry. Call Initialize before first use;
// until then Resolve falls back to lazy per-call discovery by returning
// NotFound so callers can issue an unresolved call directly.
func New(lister Lister, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]ToolSchema),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger.With("component", "tool_registry"),
		lister:  lister,
		empty:   true,
	}
}

// Initialize calls tools/list and builds the base_name -> resolved tool
// map. On error the registry stays empty and the caller is expected to
// proceed with lazy per-call discovery; initialize failure is not fatal.
func (r *Registry) Initialize(ctx context.Context) (int, error) {
	tools, err := r.lister.ListTools(ctx)
	if err != nil {
		r.logger.Warn("tool registry initialize failed, falling back to lazy discovery", "error", err)
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]ToolSchema, len(tools))
	r.order = r.order[:0]
	r.schemas = make(map[string]*jsonschema.Schema, len(tools))

	for _, t := range tools {
		base := baseName(t.Name)
		existing, ok := r.entries[base]
		if ok && !preferNewSuffixMatch(existing.ResolvedName, t.Name, base) {
			continue
		}
		r.entries[base] = ToolSchema{ResolvedName: t.Name, InputSchema: t.InputSchema}
		if !ok {
			r.order = append(r.order, base)
		}
	}
	r.empty = len(r.entries) == 0
	r.logger.Info("tool registry initialized", "n_tools", len(r.entries))
	return len(r.entries), nil
}

// baseName strips a server-qualifying prefix such as "kb___" leaving the
// bare tool name a route decision references.
func baseName(resolved string) string {
	if idx := strings.LastIndex(resolved, "___"); idx >= 0 {
		return resolved[idx+3:]
	}
	return resolved
}

// preferNewSuffixMatch implements the registry's tie-break: when two
// discovered names both resolve to the same base, prefer the longest exact
// suffix match against base, then first discovery order (i.e. keep the
// existing entry unless the new one is a strictly longer suffix match).
func preferNewSuffixMatch(existingResolved, newResolved, base string) bool {
	existingSuffixLen := suffixMatchLen(existingResolved, base)
	newSuffixLen := suffixMatchLen(newResolved, base)
	return newSuffixLen > existingSuffixLen
}

func suffixMatchLen(resolved, base string) int {
	if resolved == base {
		return len(base)
	}
	if strings.HasSuffix(resolved, base) {
		return len(base)
	}
	return 0
}

// Resolve maps a base tool name to its fully-qualified remote name.
func (r *Registry) Resolve(baseName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[baseName]
	if !ok {
		return "", false
	}
	return e.ResolvedName, true
}

// Schema returns the raw input schema cached for baseName, if any.
func (r *Registry) Schema(baseName string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[baseName]
	if !ok {
		return nil, false
	}
	return e.InputSchema, true
}

// Validate checks args against baseName's cached schema. A missing schema
// is pass-through with a warning, not a hard failure.
func (r *Registry) Validate(baseName string, args json.RawMessage) error {
	r.mu.RLock()
	compiled, haveCompiled := r.schemas[baseName]
	e, haveEntry := r.entries[baseName]
	r.mu.RUnlock()

	if !haveEntry || len(e.InputSchema) == 0 {
		r.logger.Warn("no cached schema for tool, skipping validation", "tool", baseName)
		return nil
	}

	if !haveCompiled {
		c, err := compileSchema(baseName, e.InputSchema)
		if err != nil {
			r.logger.Warn("schema compile failed, skipping validation", "tool", baseName, "error", err)
			return nil
		}
		r.mu.Lock()
		r.schemas[baseName] = c
		r.mu.Unlock()
		compiled = c
	}

	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return &ValidationError{BaseName: baseName, Errors: []string{"arguments are not valid JSON: " + err.Error()}}
	}
	if err := compiled.Validate(v); err != nil {
		return &ValidationError{BaseName: baseName, Errors: []string{err.Error()}}
	}
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	url := "mem://" + name + ".json"
	if err := c.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Empty reports whether the registry has no entries, either because
// Initialize has not run or because tools/list returned nothing.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.empty
}

// Subset reports whether every name in names resolves in the registry, the
// "registry subset" testable property.
func (r *Registry) Subset(names []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range names {
		if _, ok := r.entries[n]; !ok {
			return false
		}
	}
	return true
}

// Names returns the known base names in discovery order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
