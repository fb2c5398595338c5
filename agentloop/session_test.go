package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireloop/agentcore/inference"
)

// scriptedProvider replays a fixed sequence of responses, one per Complete
// call. It records every request it sees.
type scriptedProvider struct {
	responses []*inference.Response
	err       error
	requests  []inference.Request
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Complete(ctx context.Context, req inference.Request) (*inference.Response, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return textResponse("done"), nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func textResponse(text string) *inference.Response {
	return &inference.Response{
		ID:    "resp_test",
		Model: "test-model",
		Message: inference.Message{
			Role:    inference.RoleAssistant,
			Content: []inference.ContentPart{inference.TextPart(text)},
		},
		FinishReason: inference.FinishReason{Reason: "stop"},
		Usage:        inference.Usage{InputTokens: 5, OutputTokens: 7, TotalTokens: 12},
	}
}

func toolCallResponse(text string, calls ...inference.ToolCall) *inference.Response {
	parts := []inference.ContentPart{}
	if text != "" {
		parts = append(parts, inference.TextPart(text))
	}
	for _, c := range calls {
		parts = append(parts, inference.ToolCallPart(c.ID, c.Name, c.Arguments))
	}
	return &inference.Response{
		ID:    "resp_test",
		Model: "test-model",
		Message: inference.Message{
			Role:    inference.RoleAssistant,
			Content: parts,
		},
		FinishReason: inference.FinishReason{Reason: "tool_calls"},
		Usage:        inference.Usage{InputTokens: 5, OutputTokens: 7, TotalTokens: 12},
	}
}

func newTestClient(p inference.Provider) *inference.Client {
	return inference.NewClient(inference.WithProvider(p.Name(), p))
}

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "Echo input back.",
		InputSchema: map[string]interface{}{"type": "object"},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "echo: " + string(args), nil
		},
	}
}

func TestSessionNaturalCompletion(t *testing.T) {
	provider := &scriptedProvider{responses: []*inference.Response{textResponse("all done")}}
	session := NewSession(newTestClient(provider), nil, SessionConfig{ModelID: "test-model"})
	defer session.Close()

	outcome, err := session.Run(context.Background(), "do a thing")
	require.NoError(t, err)
	assert.Equal(t, ReasonNaturalCompletion, outcome.Reason)
	assert.Equal(t, "all done", outcome.FinalText)
	assert.Equal(t, 1, outcome.Iterations)
	assert.Equal(t, StateTerminated, session.State())
	assert.Equal(t, ReasonNaturalCompletion, session.Reason())
}

func TestSessionDispatchesToolCallsThenCompletes(t *testing.T) {
	provider := &scriptedProvider{responses: []*inference.Response{
		toolCallResponse("working", inference.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"x":1}`)}),
		toolCallResponse("", inference.ToolCall{ID: "c2", Name: "echo", Arguments: json.RawMessage(`{"x":2}`)}),
		textResponse("finished"),
	}}
	session := NewSession(newTestClient(provider), NewRegistry([]Tool{echoTool("echo")}), SessionConfig{ModelID: "test-model"})
	defer session.Close()

	outcome, err := session.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, ReasonNaturalCompletion, outcome.Reason)
	assert.Equal(t, "finished", outcome.FinalText)
	assert.Equal(t, 3, outcome.Iterations)
	assert.Len(t, provider.requests, 3)
}

func TestSessionBudgetIsExactCallCount(t *testing.T) {
	// The model asks for a tool on every turn; only the budget stops it.
	call := inference.ToolCall{ID: "c", Name: "echo", Arguments: json.RawMessage(`{}`)}
	provider := &scriptedProvider{responses: []*inference.Response{
		toolCallResponse("", call), toolCallResponse("", call), toolCallResponse("", call),
		toolCallResponse("", call), toolCallResponse("", call), toolCallResponse("", call),
	}}
	session := NewSession(newTestClient(provider), NewRegistry([]Tool{echoTool("echo")}), SessionConfig{
		ModelID:         "test-model",
		IterationBudget: 3,
	})
	defer session.Close()

	outcome, err := session.Run(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.Equal(t, ReasonBudgetExceeded, outcome.Reason)
	assert.Equal(t, 3, outcome.Iterations)
	assert.Len(t, provider.requests, 3)
	assert.Equal(t, 0, session.RemainingBudget())
}

func TestSessionBudgetOfOne(t *testing.T) {
	call := inference.ToolCall{ID: "c", Name: "echo", Arguments: json.RawMessage(`{}`)}
	provider := &scriptedProvider{responses: []*inference.Response{
		toolCallResponse("", call),
		textResponse("never reached"),
	}}
	session := NewSession(newTestClient(provider), NewRegistry([]Tool{echoTool("echo")}), SessionConfig{
		ModelID:         "test-model",
		IterationBudget: 1,
	})
	defer session.Close()

	// The single call requests a tool; the tool runs but no second
	// inference call is made.
	outcome, err := session.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, ReasonBudgetExceeded, outcome.Reason)
	assert.Equal(t, 1, outcome.Iterations)
	assert.Len(t, provider.requests, 1)
	assert.Empty(t, outcome.FinalText)
}

func TestSessionToolResultsArriveAsOneUserMessage(t *testing.T) {
	provider := &scriptedProvider{responses: []*inference.Response{
		toolCallResponse("",
			inference.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"a":1}`)},
			inference.ToolCall{ID: "c2", Name: "echo", Arguments: json.RawMessage(`{"b":2}`)},
		),
		textResponse("done"),
	}}
	session := NewSession(newTestClient(provider), NewRegistry([]Tool{echoTool("echo")}), SessionConfig{ModelID: "test-model"})
	defer session.Close()

	_, err := session.Run(context.Background(), "go")
	require.NoError(t, err)

	transcript := session.Transcript()
	// user input, assistant tool calls, one user message with both results
	require.Len(t, transcript, 3)
	results := transcript[2]
	assert.Equal(t, inference.RoleUser, results.Role)
	require.Len(t, results.Content, 2)
	assert.Equal(t, inference.ContentToolResult, results.Content[0].Kind)
	assert.Equal(t, "c1", results.Content[0].ToolResult.ToolCallID)
	assert.Equal(t, "c2", results.Content[1].ToolResult.ToolCallID)
}

func TestSessionFinalTextFeedsExtractor(t *testing.T) {
	provider := &scriptedProvider{responses: []*inference.Response{
		toolCallResponse("", inference.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{}`)}),
		toolCallResponse("", inference.ToolCall{ID: "c2", Name: "echo", Arguments: json.RawMessage(`{}`)}),
		textResponse(`Done. {"results":[]}`),
	}}
	session := NewSession(newTestClient(provider), NewRegistry([]Tool{echoTool("echo")}), SessionConfig{ModelID: "test-model"})
	defer session.Close()

	outcome, err := session.Run(context.Background(), "search")
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Iterations)
	assert.Contains(t, outcome.FinalText, `{"results":[]}`)

	type searchOutcome struct {
		Results []string `json:"results"`
	}
	parsed := Decode(outcome.FinalText, "results", searchOutcome{Results: []string{"sentinel"}})
	assert.Empty(t, parsed.Results)
}

func TestSessionUnknownToolResultIsModelVisible(t *testing.T) {
	provider := &scriptedProvider{responses: []*inference.Response{
		toolCallResponse("", inference.ToolCall{ID: "c1", Name: "nope", Arguments: json.RawMessage(`{}`)}),
		textResponse("recovered"),
	}}
	session := NewSession(newTestClient(provider), NewRegistry(nil), SessionConfig{ModelID: "test-model"})
	defer session.Close()

	outcome, err := session.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "recovered", outcome.FinalText)

	transcript := session.Transcript()
	result := transcript[2].Content[0].ToolResult
	assert.True(t, result.IsError)
	var content string
	require.NoError(t, json.Unmarshal(result.Content, &content))
	assert.Equal(t, "Unknown tool: nope", content)
}

func TestSessionInferenceErrorPropagates(t *testing.T) {
	boom := &inference.ServerError{APIError: inference.APIError{
		BoundaryError: inference.BoundaryError{Message: "upstream down"},
		StatusCode:    503,
		Retryable:     true,
	}}
	provider := &scriptedProvider{err: boom}
	session := NewSession(newTestClient(provider), nil, SessionConfig{ModelID: "test-model"})
	defer session.Close()

	_, err := session.Run(context.Background(), "go")
	require.Error(t, err)
	var serverErr *inference.ServerError
	assert.True(t, errors.As(err, &serverErr))
	assert.Equal(t, StateTerminated, session.State())
}

func TestSessionIsSingleUse(t *testing.T) {
	provider := &scriptedProvider{responses: []*inference.Response{textResponse("one")}}
	session := NewSession(newTestClient(provider), nil, SessionConfig{ModelID: "test-model"})
	defer session.Close()

	_, err := session.Run(context.Background(), "first")
	require.NoError(t, err)

	_, err = session.Run(context.Background(), "second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single-use")
}

func TestSessionSystemPromptLeadsEveryRequest(t *testing.T) {
	provider := &scriptedProvider{responses: []*inference.Response{
		toolCallResponse("", inference.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{}`)}),
		textResponse("done"),
	}}
	session := NewSession(newTestClient(provider), NewRegistry([]Tool{echoTool("echo")}), SessionConfig{
		ModelID:      "test-model",
		SystemPrompt: "be terse",
	})
	defer session.Close()

	_, err := session.Run(context.Background(), "go")
	require.NoError(t, err)

	for _, req := range provider.requests {
		require.NotEmpty(t, req.Messages)
		assert.Equal(t, inference.RoleSystem, req.Messages[0].Role)
		assert.Equal(t, "be terse", req.Messages[0].TextContent())
	}
}

func TestSessionEmitsLifecycleEvents(t *testing.T) {
	provider := &scriptedProvider{responses: []*inference.Response{
		toolCallResponse("", inference.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{}`)}),
		textResponse("done"),
	}}
	session := NewSession(newTestClient(provider), NewRegistry([]Tool{echoTool("echo")}), SessionConfig{ModelID: "test-model"})

	_, err := session.Run(context.Background(), "go")
	require.NoError(t, err)
	session.Close()

	var kinds []EventKind
	for event := range session.Events() {
		kinds = append(kinds, event.Kind)
	}
	assert.Equal(t, []EventKind{
		EventSessionStart,
		EventAssistantText,
		EventToolCallStart,
		EventToolCallEnd,
		EventAssistantText,
		EventSessionEnd,
	}, kinds)
}

func TestSessionLoopDetectionInjectsSteeringMessage(t *testing.T) {
	call := inference.ToolCall{ID: "c", Name: "echo", Arguments: json.RawMessage(`{"same":true}`)}
	responses := make([]*inference.Response, 0, 6)
	for i := 0; i < 5; i++ {
		responses = append(responses, toolCallResponse("", call))
	}
	responses = append(responses, textResponse("done"))
	provider := &scriptedProvider{responses: responses}

	session := NewSession(newTestClient(provider), NewRegistry([]Tool{echoTool("echo")}), SessionConfig{
		ModelID:             "test-model",
		LoopDetectionWindow: 4,
	})
	defer session.Close()

	_, err := session.Run(context.Background(), "go")
	require.NoError(t, err)

	found := false
	for _, msg := range session.Transcript() {
		if msg.Role == inference.RoleUser && len(msg.Content) == 1 &&
			msg.Content[0].Kind == inference.ContentText &&
			msg.Content[0].Text != "go" && msg.Content[0].Text != "" {
			if assert.Contains(t, msg.Content[0].Text, "Loop detected") {
				found = true
			}
		}
	}
	assert.True(t, found, "expected a steering message in the transcript")
}

func TestSessionDefaultBudget(t *testing.T) {
	session := NewSession(nil, nil, SessionConfig{})
	defer session.Close()
	assert.Equal(t, DefaultPlannerBudget, session.RemainingBudget())
}

func TestSessionTruncatesLongToolOutput(t *testing.T) {
	long := make([]byte, 0, 5000)
	for i := 0; i < 5000; i++ {
		long = append(long, 'x')
	}
	bigTool := Tool{
		Name:        "big",
		Description: "Produce a lot of output.",
		InputSchema: map[string]interface{}{"type": "object"},
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			return string(long), nil
		},
	}
	provider := &scriptedProvider{responses: []*inference.Response{
		toolCallResponse("", inference.ToolCall{ID: "c1", Name: "big", Arguments: json.RawMessage(`{}`)}),
		textResponse("done"),
	}}
	session := NewSession(newTestClient(provider), NewRegistry([]Tool{bigTool}), SessionConfig{
		ModelID:          "test-model",
		ToolOutputLimits: map[string]int{"big": 1000},
	})
	defer session.Close()

	_, err := session.Run(context.Background(), "go")
	require.NoError(t, err)

	result := session.Transcript()[2].Content[0].ToolResult
	var content string
	require.NoError(t, json.Unmarshal(result.Content, &content))
	assert.Less(t, len(content), 2000)
	assert.Contains(t, content, "truncated")
}

func TestSessionUsageAccumulates(t *testing.T) {
	provider := &scriptedProvider{responses: []*inference.Response{
		toolCallResponse("", inference.ToolCall{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{}`)}),
		textResponse("done"),
	}}
	session := NewSession(newTestClient(provider), NewRegistry([]Tool{echoTool("echo")}), SessionConfig{ModelID: "test-model"})
	defer session.Close()

	outcome, err := session.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, 24, outcome.Usage.TotalTokens)
}

func TestSessionSequentialDispatchOrder(t *testing.T) {
	var order []string
	mk := func(name string) Tool {
		return Tool{
			Name:        name,
			Description: "record order",
			InputSchema: map[string]interface{}{"type": "object"},
			Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
				order = append(order, name)
				return "ok", nil
			},
		}
	}
	provider := &scriptedProvider{responses: []*inference.Response{
		toolCallResponse("",
			inference.ToolCall{ID: "c1", Name: "first", Arguments: json.RawMessage(`{}`)},
			inference.ToolCall{ID: "c2", Name: "second", Arguments: json.RawMessage(`{}`)},
			inference.ToolCall{ID: "c3", Name: "third", Arguments: json.RawMessage(`{}`)},
		),
		textResponse("done"),
	}}
	session := NewSession(newTestClient(provider), NewRegistry([]Tool{mk("first"), mk("second"), mk("third")}), SessionConfig{ModelID: "test-model"})
	defer session.Close()

	_, err := session.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestSessionHandlerErrorDoesNotAbortRemainingCalls(t *testing.T) {
	failing := Tool{
		Name:        "fails",
		Description: "always fails",
		InputSchema: map[string]interface{}{"type": "object"},
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			return "", fmt.Errorf("disk on fire")
		},
	}
	provider := &scriptedProvider{responses: []*inference.Response{
		toolCallResponse("",
			inference.ToolCall{ID: "c1", Name: "fails", Arguments: json.RawMessage(`{}`)},
			inference.ToolCall{ID: "c2", Name: "echo", Arguments: json.RawMessage(`{}`)},
		),
		textResponse("done"),
	}}
	session := NewSession(newTestClient(provider), NewRegistry([]Tool{failing, echoTool("echo")}), SessionConfig{ModelID: "test-model"})
	defer session.Close()

	outcome, err := session.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, ReasonNaturalCompletion, outcome.Reason)

	results := session.Transcript()[2].Content
	require.Len(t, results, 2)
	assert.True(t, results[0].ToolResult.IsError)
	assert.False(t, results[1].ToolResult.IsError)
}
