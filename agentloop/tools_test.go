package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireloop/agentcore/inference"
)

type rejectValidator struct {
	reason string
}

func (v rejectValidator) Validate(tool string, arguments json.RawMessage) error {
	return fmt.Errorf("%s", v.reason)
}

func TestDispatchRunsHandler(t *testing.T) {
	registry := NewRegistry([]Tool{echoTool("echo")})

	result := registry.Dispatch(context.Background(), inference.ToolCall{
		ID:        "c1",
		Name:      "echo",
		Arguments: json.RawMessage(`{"k":"v"}`),
	})
	assert.False(t, result.IsError)
	assert.Equal(t, "c1", result.ToolCallID)
	assert.Equal(t, `echo: {"k":"v"}`, result.Content)
}

func TestDispatchUnknownTool(t *testing.T) {
	registry := NewRegistry(nil)

	result := registry.Dispatch(context.Background(), inference.ToolCall{
		ID:        "c1",
		Name:      "launch_rockets",
		Arguments: json.RawMessage(`{}`),
	})
	assert.True(t, result.IsError)
	assert.Equal(t, "Unknown tool: launch_rockets", result.Content)
}

func TestDispatchHandlerErrorBecomesResultText(t *testing.T) {
	failing := Tool{
		Name: "flaky",
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			return "", fmt.Errorf("connection refused")
		},
	}
	registry := NewRegistry([]Tool{failing})

	result := registry.Dispatch(context.Background(), inference.ToolCall{ID: "c1", Name: "flaky"})
	assert.True(t, result.IsError)
	assert.Equal(t, "Tool error (flaky): connection refused", result.Content)
}

func TestDispatchValidatorRejection(t *testing.T) {
	registry := NewRegistry([]Tool{echoTool("echo")}, WithValidator(rejectValidator{reason: "missing field x"}))

	result := registry.Dispatch(context.Background(), inference.ToolCall{
		ID:        "c1",
		Name:      "echo",
		Arguments: json.RawMessage(`{}`),
	})
	assert.True(t, result.IsError)
	assert.Equal(t, "Tool input error (echo): missing field x", result.Content)
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	panicky := Tool{
		Name: "panicky",
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			panic("nil map write")
		},
	}
	registry := NewRegistry([]Tool{panicky})

	var result inference.ToolResult
	assert.NotPanics(t, func() {
		result = registry.Dispatch(context.Background(), inference.ToolCall{ID: "c1", Name: "panicky"})
	})
	assert.True(t, result.IsError)
	assert.NotEmpty(t, result.Content)
	assert.Contains(t, result.Content, "nil map write")
}

func TestRegistryDefinitionsPreserveOrder(t *testing.T) {
	registry := NewRegistry([]Tool{echoTool("b"), echoTool("a"), echoTool("c")})

	defs := registry.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "b", defs[0].Name)
	assert.Equal(t, "a", defs[1].Name)
	assert.Equal(t, "c", defs[2].Name)
}

func TestRegistryRestrict(t *testing.T) {
	registry := NewRegistry([]Tool{echoTool("a"), echoTool("b"), echoTool("c")}, WithValidator(rejectValidator{reason: "nope"}))

	sub := registry.Restrict("a", "c", "ghost")
	assert.Equal(t, []string{"a", "c"}, sub.Names())
	assert.Equal(t, 3, registry.Count())

	// The validator carries over.
	result := sub.Dispatch(context.Background(), inference.ToolCall{ID: "c1", Name: "a", Arguments: json.RawMessage(`{}`)})
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "Tool input error")
}

func TestArgumentHelpers(t *testing.T) {
	args, err := ParseArguments(json.RawMessage(`{"s":"hi","n":3,"b":true}`))
	require.NoError(t, err)

	s, ok := StringArg(args, "s")
	assert.True(t, ok)
	assert.Equal(t, "hi", s)

	n, ok := IntArg(args, "n")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	b, ok := BoolArg(args, "b")
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = StringArg(args, "missing")
	assert.False(t, ok)
}

func TestParseArgumentsInvalidJSON(t *testing.T) {
	_, err := ParseArguments(json.RawMessage(`not json`))
	require.Error(t, err)
}
