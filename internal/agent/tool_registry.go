package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool arguments JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// Tool invocation outcomes reported to the observer.
const (
	ToolOutcomeOK       = "ok"
	ToolOutcomeError    = "error"
	ToolOutcomeNotFound = "not_found"
	ToolOutcomeInvalid  = "invalid"
	ToolOutcomePanic    = "panic"
)

// ToolFunc executes a tool with its JSON arguments and returns the text
// handed back to the model.
type ToolFunc func(ctx context.Context, args json.RawMessage) (string, error)

// ToolDescriptor is a named, optionally permission-tagged callable tool.
type ToolDescriptor struct {
	Name        string
	Description string

	// Parameters is a JSON schema describing the argument object.
	Parameters json.RawMessage

	// Permission, when set, must be granted to the caller for the tool to be visible.
	Permission string

	Invoke ToolFunc
}

// Spec returns the model-facing description.
func (d ToolDescriptor) Spec() ToolSpec {
	return ToolSpec{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
}

type registeredTool struct {
	desc   ToolDescriptor
	schema *jsonschema.Schema
}

// RegistryOption configures a ToolRegistry.
type RegistryOption func(*ToolRegistry)

// WithUntaggedHidden makes tools without a permission tag invisible in
// Filtered views. By default they are visible to every caller.
func WithUntaggedHidden() RegistryOption {
	return func(r *ToolRegistry) {
		r.hideUntagged = true
	}
}

// WithToolObserver registers a callback receiving the outcome and duration
// of every invocation.
func WithToolObserver(fn func(name, outcome string, elapsed time.Duration)) RegistryOption {
	return func(r *ToolRegistry) {
		r.observe = fn
	}
}

// ToolRegistry holds tools by name with thread-safe registration and lookup.
type ToolRegistry struct {
	mu           sync.RWMutex
	tools        map[string]registeredTool
	hideUntagged bool
	observe      func(name, outcome string, elapsed time.Duration)
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]registeredTool)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool, replacing any tool with the same name. The parameter
// schema is compiled up front so invalid schemas fail here, not mid-turn.
func (r *ToolRegistry) Register(d ToolDescriptor) error {
	if d.Name == "" || len(d.Name) > MaxToolNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidToolName, d.Name)
	}
	if d.Invoke == nil {
		return fmt.Errorf("tool %s: missing invoke function", d.Name)
	}
	var schema *jsonschema.Schema
	if len(d.Parameters) > 0 {
		compiled, err := jsonschema.CompileString(d.Name+".schema.json", string(d.Parameters))
		if err != nil {
			return fmt.Errorf("tool %s: compile parameter schema: %w", d.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[d.Name] = registeredTool{desc: d, schema: schema}
	return nil
}

// Unregister removes a tool by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and whether it was found.
func (r *ToolRegistry) Get(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t.desc, ok
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Filtered returns the tools visible to a caller holding perms, sorted by name.
func (r *ToolRegistry) Filtered(perms []string) []ToolDescriptor {
	granted := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		granted[p] = struct{}{}
	}

	r.mu.RLock()
	out := make([]ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		if t.desc.Permission == "" {
			if r.hideUntagged {
				continue
			}
			out = append(out, t.desc)
			continue
		}
		if _, ok := granted[t.desc.Permission]; ok {
			out = append(out, t.desc)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Specs returns the model-facing descriptions of Filtered(perms).
func (r *ToolRegistry) Specs(perms []string) []ToolSpec {
	tools := r.Filtered(perms)
	specs := make([]ToolSpec, len(tools))
	for i, t := range tools {
		specs[i] = t.Spec()
	}
	return specs
}

// Invoke runs the named tool and always returns text for the model. Unknown
// tools, invalid arguments, tool errors and panics are all reported in the
// returned string; Invoke never fails.
func (r *ToolRegistry) Invoke(ctx context.Context, name, args string) (result string) {
	start := time.Now()
	outcome := ToolOutcomeOK
	defer func() {
		if r.observe != nil {
			r.observe(name, outcome, time.Since(start))
		}
	}()

	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		outcome = ToolOutcomeNotFound
		return fmt.Sprintf("%s: %s", ErrToolNotFound, name)
	}

	raw, err := normalizeArgs(args)
	if err != nil {
		outcome = ToolOutcomeInvalid
		return fmt.Sprintf("invalid arguments for %s: %v", name, err)
	}
	if t.schema != nil {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			outcome = ToolOutcomeInvalid
			return fmt.Sprintf("invalid arguments for %s: %v", name, err)
		}
		if err := t.schema.Validate(decoded); err != nil {
			outcome = ToolOutcomeInvalid
			return fmt.Sprintf("invalid arguments for %s: %v", name, err)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			outcome = ToolOutcomePanic
			result = fmt.Sprintf("%s: %v", ErrToolPanic, p)
		}
	}()

	text, err := t.desc.Invoke(ctx, raw)
	if err != nil {
		outcome = ToolOutcomeError
		return "Error: " + err.Error()
	}
	return text
}

func normalizeArgs(args string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return json.RawMessage("{}"), nil
	}
	if len(trimmed) > MaxToolParamsSize {
		return nil, fmt.Errorf("arguments exceed maximum size of %d bytes", MaxToolParamsSize)
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("arguments are not valid JSON")
	}
	return json.RawMessage(trimmed), nil
}
