// Package schema provides a single cached JSON-schema compiler shared by the
// tool registry's argument validation, the answer-plan validator, and config
// file validation, so a schema is compiled from source at most once per
// process.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Compiler caches compiled schemas by name.
type Compiler struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// New builds an empty Compiler.
func New() *Compiler {
	return &Compiler{cache: make(map[string]*jsonschema.Schema)}
}

// Compile compiles raw under name, reusing an already-compiled schema for
// the same name. Schemas are immutable once named: calling Compile again
// with the same name but different content still returns the original.
func (c *Compiler) Compile(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	c.mu.RLock()
	if s, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.cache[name]; ok {
		return s, nil
	}

	compiler := jsonschema.NewCompiler()
	url := "mem://" + name + ".json"
	if err := compiler.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("schema: add resource %q: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %q: %w", name, err)
	}
	c.cache[name] = compiled
	return compiled, nil
}

// ValidateJSON compiles (or reuses) the named schema and validates raw
// against it.
func (c *Compiler) ValidateJSON(name string, schemaRaw json.RawMessage, doc json.RawMessage) error {
	compiled, err := c.Compile(name, schemaRaw)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("schema: document is not valid JSON: %w", err)
	}
	if err := compiled.Validate(v); err != nil {
		return err
	}
	return nil
}
