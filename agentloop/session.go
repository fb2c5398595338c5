package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireloop/agentcore/inference"
)

// State represents the lifecycle state of a session.
type State string

const (
	StateRunning             State = "running"
	StateAwaitingToolResults State = "awaiting_tool_results"
	StateTerminated          State = "terminated"
)

// TerminationReason explains why a session terminated.
type TerminationReason string

const (
	ReasonNaturalCompletion TerminationReason = "natural_completion"
	ReasonBudgetExceeded    TerminationReason = "budget_exceeded"
	ReasonInferenceError    TerminationReason = "inference_error"
)

// Iteration budgets used by the two live session configurations. Budgets
// are tuning knobs, not invariants; callers may pick any positive value.
const (
	DefaultPlannerBudget = 50
	DefaultRepairBudget  = 10
)

// SessionConfig holds the per-session configuration.
type SessionConfig struct {
	ModelID      string
	Provider     string
	SystemPrompt string

	// IterationBudget bounds the number of inference calls. Zero selects
	// DefaultPlannerBudget.
	IterationBudget int

	// MaxTokens caps the per-response token budget when set.
	MaxTokens *int

	// ToolOutputLimits overrides per-tool truncation character limits.
	ToolOutputLimits map[string]int

	// LoopDetectionWindow enables repeated-tool-call detection over the
	// last N calls. Zero disables detection.
	LoopDetectionWindow int

	// EventBuffer sizes the event channel.
	EventBuffer int
}

// Outcome is the terminal result of one session run.
type Outcome struct {
	FinalText  string
	Reason     TerminationReason
	Iterations int
	Usage      inference.Usage
}

// BudgetExceeded reports whether the session stopped because its iteration
// budget ran out.
func (o *Outcome) BudgetExceeded() bool {
	return o.Reason == ReasonBudgetExceeded
}

// Session is one bounded run of the agent loop: it alternates inference
// calls and tool dispatch until the model stops requesting tools or the
// iteration budget is exhausted. Sessions are single-use and transient;
// nothing is persisted across invocations.
type Session struct {
	id         string
	cfg        SessionConfig
	client     *inference.Client
	registry   *Registry
	emitter    *EventEmitter
	logger     *zap.Logger
	transcript []inference.Message
	state      State
	reason     TerminationReason
	budget     int
	ran        bool
	mu         sync.Mutex
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEmitter replaces the session's event emitter, letting a host share
// one emitter across sessions.
func WithEmitter(emitter *EventEmitter) SessionOption {
	return func(s *Session) {
		if emitter != nil {
			s.emitter = emitter
		}
	}
}

// NewSession creates a session with the given inference client, tool
// registry, and configuration. The client is injected explicitly; there is
// no package-level default.
func NewSession(client *inference.Client, registry *Registry, cfg SessionConfig, opts ...SessionOption) *Session {
	if cfg.IterationBudget <= 0 {
		cfg.IterationBudget = DefaultPlannerBudget
	}
	if registry == nil {
		registry = NewRegistry(nil)
	}

	sessionID := uuid.New().String()
	s := &Session{
		id:       sessionID,
		cfg:      cfg,
		client:   client,
		registry: registry,
		emitter:  NewEventEmitter(sessionID, cfg.EventBuffer),
		logger:   zap.NewNop(),
		state:    StateRunning,
		budget:   cfg.IterationBudget,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns the termination reason; empty until the session has
// terminated.
func (s *Session) Reason() TerminationReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// RemainingBudget returns the remaining iteration budget. It is strictly
// decreasing and never negative.
func (s *Session) RemainingBudget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

// Transcript returns a copy of the conversation transcript.
func (s *Session) Transcript() []inference.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := make([]inference.Message, len(s.transcript))
	copy(t, s.transcript)
	return t
}

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan Event {
	return s.emitter.Events()
}

// Close closes the session's event channel.
func (s *Session) Close() {
	s.emitter.Close()
}

// Run drives the loop to termination for one input. It returns an Outcome
// for every model-visible ending (natural completion or budget exhaustion)
// and an error only when the inference boundary itself fails; recoverable
// tool failures never surface here.
func (s *Session) Run(ctx context.Context, input string) (*Outcome, error) {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s already ran: sessions are single-use", s.id)
	}
	s.ran = true
	s.transcript = append(s.transcript, inference.UserMessage(input))
	s.mu.Unlock()

	s.emitter.Emit(EventSessionStart, map[string]interface{}{
		"model": s.cfg.ModelID,
	})
	s.logger.Debug("session started",
		zap.String("session_id", s.id),
		zap.String("model", s.cfg.ModelID),
		zap.Int("budget", s.cfg.IterationBudget),
	)

	outcome, err := s.loop(ctx)

	if err != nil {
		s.setState(StateTerminated, ReasonInferenceError)
		s.emitter.Emit(EventError, map[string]interface{}{
			"error": err.Error(),
		})
		s.emitter.Emit(EventSessionEnd, nil)
		return nil, err
	}

	s.setState(StateTerminated, outcome.Reason)
	s.emitter.Emit(EventSessionEnd, map[string]interface{}{
		"reason":     string(outcome.Reason),
		"iterations": outcome.Iterations,
	})
	return outcome, nil
}

func (s *Session) loop(ctx context.Context) (*Outcome, error) {
	iterations := 0
	var totalUsage inference.Usage

	for {
		s.mu.Lock()
		remaining := s.budget
		s.mu.Unlock()

		if remaining <= 0 {
			s.emitter.Emit(EventBudgetExhausted, map[string]interface{}{
				"iterations": iterations,
			})
			s.logger.Debug("iteration budget exhausted",
				zap.String("session_id", s.id),
				zap.Int("iterations", iterations),
			)
			return &Outcome{
				Reason:     ReasonBudgetExceeded,
				Iterations: iterations,
				Usage:      totalUsage,
			}, nil
		}

		req := inference.Request{
			Model:      s.cfg.ModelID,
			Provider:   s.cfg.Provider,
			Messages:   s.requestMessages(),
			ToolDefs:   s.registry.Definitions(),
			ToolChoice: &inference.ToolChoice{Mode: "auto"},
			MaxTokens:  s.cfg.MaxTokens,
		}

		resp, err := s.client.Complete(ctx, req)
		if err != nil {
			// The inference boundary is the only failure with no local
			// fallback; it propagates as a real error.
			return nil, fmt.Errorf("inference boundary: %w", err)
		}

		s.mu.Lock()
		s.budget--
		s.mu.Unlock()
		iterations++
		totalUsage = totalUsage.Add(resp.Usage)

		toolCalls := resp.ResponseToolCalls()
		text := resp.Text()

		s.emitter.Emit(EventAssistantText, map[string]interface{}{
			"text":       text,
			"tool_calls": len(toolCalls),
		})

		if len(toolCalls) == 0 {
			return &Outcome{
				FinalText:  text,
				Reason:     ReasonNaturalCompletion,
				Iterations: iterations,
				Usage:      totalUsage,
			}, nil
		}

		s.mu.Lock()
		s.transcript = append(s.transcript, resp.Message)
		s.state = StateAwaitingToolResults
		s.mu.Unlock()

		// Tool calls batched in one response run sequentially: handlers may
		// share file-system state and side-effect ordering must match the
		// model's intended execution order.
		parts := make([]inference.ContentPart, 0, len(toolCalls))
		for _, call := range toolCalls {
			result := s.dispatchOne(ctx, call)
			parts = append(parts, inference.ToolResultPart(result.ToolCallID, mustJSON(result.Content), result.IsError))
		}

		s.mu.Lock()
		s.transcript = append(s.transcript, inference.Message{
			Role:    inference.RoleUser,
			Content: parts,
		})
		s.state = StateRunning
		s.mu.Unlock()

		if s.cfg.LoopDetectionWindow > 0 && DetectLoop(s.Transcript(), s.cfg.LoopDetectionWindow) {
			warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.", s.cfg.LoopDetectionWindow)
			s.mu.Lock()
			s.transcript = append(s.transcript, inference.UserMessage(warning))
			s.mu.Unlock()
			s.emitter.Emit(EventLoopDetection, map[string]interface{}{
				"message": warning,
			})
		}
	}
}

// dispatchOne runs a single tool call through the registry with events and
// truncation around it.
func (s *Session) dispatchOne(ctx context.Context, call inference.ToolCall) inference.ToolResult {
	s.emitter.Emit(EventToolCallStart, map[string]interface{}{
		"tool_name": call.Name,
		"call_id":   call.ID,
	})

	result := s.registry.Dispatch(ctx, call)

	s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
		"tool_name": call.Name,
		"call_id":   call.ID,
		"is_error":  result.IsError,
		"output":    result.Content, // full untruncated output
	})

	if result.IsError {
		s.logger.Debug("tool call failed",
			zap.String("session_id", s.id),
			zap.String("tool", call.Name),
			zap.String("result", result.Content),
		)
	}

	result.Content = TruncateToolOutput(result.Content, call.Name, s.cfg.ToolOutputLimits)
	return result
}

// requestMessages builds the message list for the inference request:
// system prompt first, then the transcript.
func (s *Session) requestMessages() []inference.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := make([]inference.Message, 0, len(s.transcript)+1)
	if s.cfg.SystemPrompt != "" {
		messages = append(messages, inference.SystemMessage(s.cfg.SystemPrompt))
	}
	messages = append(messages, s.transcript...)
	return messages
}

func (s *Session) setState(state State, reason TerminationReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.reason = reason
}

func mustJSON(content string) json.RawMessage {
	raw, err := json.Marshal(content)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return raw
}
