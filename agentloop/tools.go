package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hireloop/agentcore/inference"
)

// Handler executes a tool call. Handlers encode recoverable failures as
// descriptive result text and reserve the error return for truly unexpected
// conditions; dispatch converts those to text anyway.
type Handler func(ctx context.Context, arguments json.RawMessage) (string, error)

// Tool is a named capability exposed to the model: description and input
// schema are advisory metadata passed through to the model, the handler does
// the work. Tools are owned by the registry that holds them and are
// immutable after registration.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Handler     Handler
}

// Validator checks tool arguments at the dispatch boundary. Validation
// failures are recoverable and surface to the model as result text.
type Validator interface {
	Validate(tool string, arguments json.RawMessage) error
}

// Registry maps tool names to their definitions and handlers. It is built
// once per session from a caller-supplied list.
type Registry struct {
	tools     map[string]Tool
	order     []string
	validator Validator
	mu        sync.RWMutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithValidator installs an argument validator invoked before every
// handler.
func WithValidator(v Validator) RegistryOption {
	return func(r *Registry) {
		r.validator = v
	}
}

// NewRegistry creates a Registry holding the given tools.
func NewRegistry(tools []Tool, opts ...RegistryOption) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, opt := range opts {
		opt(r)
	}
	for _, t := range tools {
		r.register(t)
	}
	return r
}

func (r *Registry) register(t Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the names of all registered tools in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the serializable tool metadata for the model request,
// in registration order.
func (r *Registry) Definitions() []inference.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]inference.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, inference.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	return defs
}

// Restrict returns a new Registry containing only the named tools. Unknown
// names are skipped. The restricted registry inherits the validator.
func (r *Registry) Restrict(names ...string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub := &Registry{tools: make(map[string]Tool, len(names)), validator: r.validator}
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			sub.register(t)
		}
	}
	return sub
}

// Dispatch looks up and runs the handler for a tool call. It never returns
// an error: unknown tools, invalid arguments, and handler failures all
// become descriptive result text the model can reason over.
func (r *Registry) Dispatch(ctx context.Context, call inference.ToolCall) inference.ToolResult {
	tool, ok := r.Get(call.Name)
	if !ok {
		return inference.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("Unknown tool: %s", call.Name),
			IsError:    true,
		}
	}

	if r.validator != nil {
		if err := r.validator.Validate(call.Name, call.Arguments); err != nil {
			return inference.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("Tool input error (%s): %v", call.Name, err),
				IsError:    true,
			}
		}
	}

	output, err := runHandler(ctx, tool, call.Arguments)
	if err != nil {
		return inference.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("Tool error (%s): %v", call.Name, err),
			IsError:    true,
		}
	}

	return inference.ToolResult{
		ToolCallID: call.ID,
		Content:    output,
	}
}

// runHandler invokes the handler with a panic guard, so a panicking tool
// degrades to an error result instead of taking down the loop.
func runHandler(ctx context.Context, tool Tool, arguments json.RawMessage) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return tool.Handler(ctx, arguments)
}

// ParseArguments unmarshals tool call arguments into a map for ad hoc
// access.
func ParseArguments(raw json.RawMessage) (map[string]interface{}, error) {
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}

// StringArg extracts a string argument from parsed tool arguments.
func StringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntArg extracts an integer argument from parsed tool arguments.
func IntArg(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// BoolArg extracts a boolean argument from parsed tool arguments.
func BoolArg(args map[string]interface{}, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
