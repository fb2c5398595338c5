package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hireloop/agentcore/inference"
)

// Diagnostic describes a tool failure handed to the repairer. It carries
// everything the repair session needs to locate the fault without access to
// the failing session's transcript.
type Diagnostic struct {
	FailingTool       string          `json:"failing_tool"`
	ErrorMessage      string          `json:"error_message"`
	OriginalArguments json.RawMessage `json:"original_arguments,omitempty"`
	StackTrace        string          `json:"stack_trace,omitempty"`
}

// RepairOutcome is the structured verdict of one repair attempt. It is
// reported to the host; it is never injected back into the failing
// session's transcript.
type RepairOutcome struct {
	Fixed              bool     `json:"fixed"`
	FilesModified      []string `json:"filesModified"`
	Summary            string   `json:"summary"`
	RetryRecommended   bool     `json:"retryRecommended"`
	IterationsConsumed int      `json:"-"`
}

// CodeReloader reloads repaired code into the running host, letting the
// repair session verify that its edits at least load. Optional.
type CodeReloader interface {
	Reload(ctx context.Context) error
}

// RepairConfig holds the repair session configuration.
type RepairConfig struct {
	ModelID      string
	Provider     string
	SystemPrompt string

	// IterationBudget bounds the nested session. Zero selects
	// DefaultRepairBudget.
	IterationBudget int

	// Sandbox restricts where repair writes may land.
	Sandbox SandboxPolicy
}

const defaultRepairSystemPrompt = `You are a repair agent. A tool in a running agent system failed. Your job is to diagnose the failure and, where possible, fix the underlying code.

Use read_file, list_dir, and glob to inspect the code, and write_file or edit_file to apply a fix. Writes outside the allowed paths will be refused.

When you are done, respond with a JSON object and nothing else:
{"fixed": true|false, "filesModified": ["path", ...], "summary": "what you found and did", "retryRecommended": true|false}

Set retryRecommended to true only when the original operation is likely to succeed if retried after your fix.`

// Repairer runs a bounded, sandboxed nested session to diagnose and fix
// tool failures. Repair never panics and never returns an error; every
// failure mode degrades to a not-fixed outcome with a human-readable
// summary.
type Repairer struct {
	client    *inference.Client
	workspace Workspace
	cfg       RepairConfig
	logger    *zap.Logger
	emitter   *EventEmitter
	reloader  CodeReloader
}

// RepairerOption configures a Repairer.
type RepairerOption func(*Repairer)

// WithRepairLogger sets the repairer logger.
func WithRepairLogger(logger *zap.Logger) RepairerOption {
	return func(r *Repairer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRepairEmitter routes repair events to an existing emitter, typically
// the failing session's.
func WithRepairEmitter(emitter *EventEmitter) RepairerOption {
	return func(r *Repairer) {
		r.emitter = emitter
	}
}

// WithCodeReloader enables post-fix verification through the given
// reloader.
func WithCodeReloader(reloader CodeReloader) RepairerOption {
	return func(r *Repairer) {
		r.reloader = reloader
	}
}

// NewRepairer creates a Repairer. The client may be nil; Repair then
// degrades immediately to a not-fixed outcome.
func NewRepairer(client *inference.Client, workspace Workspace, cfg RepairConfig, opts ...RepairerOption) *Repairer {
	if cfg.IterationBudget <= 0 {
		cfg.IterationBudget = DefaultRepairBudget
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultRepairSystemPrompt
	}
	r := &Repairer{
		client:    client,
		workspace: workspace,
		cfg:       cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Repair runs one bounded repair attempt for the diagnostic. It always
// returns a complete RepairOutcome with a non-empty Summary.
func (r *Repairer) Repair(ctx context.Context, diag Diagnostic) RepairOutcome {
	r.emitter.Emit(EventSelfHealingTriggered, map[string]interface{}{
		"failing_tool": diag.FailingTool,
		"error":        diag.ErrorMessage,
	})

	outcome := r.repair(ctx, diag)

	if outcome.Summary == "" {
		outcome.Summary = fmt.Sprintf("Repair attempt for tool %q ended without a structured verdict.", diag.FailingTool)
	}

	r.emitter.Emit(EventRepairOutcome, map[string]interface{}{
		"fixed":             outcome.Fixed,
		"files_modified":    outcome.FilesModified,
		"summary":           outcome.Summary,
		"retry_recommended": outcome.RetryRecommended,
	})
	r.logger.Debug("repair attempt finished",
		zap.String("failing_tool", diag.FailingTool),
		zap.Bool("fixed", outcome.Fixed),
		zap.Int("iterations", outcome.IterationsConsumed),
	)
	return outcome
}

func (r *Repairer) repair(ctx context.Context, diag Diagnostic) RepairOutcome {
	if r.client == nil {
		return RepairOutcome{
			Summary: fmt.Sprintf("Self-healing unavailable: no inference client configured. Tool %q failed with: %s", diag.FailingTool, diag.ErrorMessage),
		}
	}
	if r.workspace == nil {
		return RepairOutcome{
			Summary: fmt.Sprintf("Self-healing unavailable: no workspace configured. Tool %q failed with: %s", diag.FailingTool, diag.ErrorMessage),
		}
	}

	writes := &writeRecorder{}
	registry := r.buildRegistry(writes)

	session := NewSession(r.client, registry, SessionConfig{
		ModelID:         r.cfg.ModelID,
		Provider:        r.cfg.Provider,
		SystemPrompt:    r.cfg.SystemPrompt,
		IterationBudget: r.cfg.IterationBudget,
	}, WithLogger(r.logger))
	defer session.Close()

	outcome, err := session.Run(ctx, formatDiagnostic(diag))
	if err != nil {
		if inference.IsConfiguration(err) {
			return RepairOutcome{
				Summary: fmt.Sprintf("Self-healing unavailable: %v. Tool %q failed with: %s", err, diag.FailingTool, diag.ErrorMessage),
			}
		}
		return RepairOutcome{
			FilesModified: writes.paths(),
			Summary:       fmt.Sprintf("Repair session aborted: %v", err),
		}
	}

	fallback := RepairOutcome{
		FilesModified: writes.paths(),
		Summary:       strings.TrimSpace(outcome.FinalText),
	}
	if outcome.BudgetExceeded() {
		fallback.Summary = fmt.Sprintf("Repair session exhausted its %d-iteration budget without a verdict.", r.cfg.IterationBudget)
	}

	result := Decode(outcome.FinalText, "fixed", fallback)
	result.IterationsConsumed = outcome.Iterations
	result.FilesModified = mergePaths(result.FilesModified, writes.paths())
	return result
}

// buildRegistry assembles the restricted repair toolset: file inspection
// and sandboxed writes, plus a verify tool when a reloader is present.
func (r *Repairer) buildRegistry(writes *writeRecorder) *Registry {
	ws := &recordingWorkspace{Workspace: r.workspace, recorder: writes}
	full := NewRegistry(FileTools(ws, r.cfg.Sandbox))
	names := []string{"read_file", "write_file", "edit_file", "list_dir", "glob"}

	registry := full.Restrict(names...)
	if r.reloader != nil {
		registry = NewRegistry(append(registryTools(registry), r.verifyTool()))
	}
	return registry
}

func (r *Repairer) verifyTool() Tool {
	return Tool{
		Name:        "verify_reload",
		Description: "Reload the repaired code and report whether it loads cleanly.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			if err := r.reloader.Reload(ctx); err != nil {
				return fmt.Sprintf("Reload failed: %v", err), nil
			}
			return "Reload succeeded.", nil
		},
	}
}

func registryTools(r *Registry) []Tool {
	names := r.Names()
	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		if t, ok := r.Get(name); ok {
			tools = append(tools, t)
		}
	}
	return tools
}

func formatDiagnostic(diag Diagnostic) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "A tool call failed and needs repair.\n\nTool: %s\nError: %s\n", diag.FailingTool, diag.ErrorMessage)
	if len(diag.OriginalArguments) > 0 {
		fmt.Fprintf(&sb, "Arguments: %s\n", string(diag.OriginalArguments))
	}
	if diag.StackTrace != "" {
		fmt.Fprintf(&sb, "\nStack trace:\n%s\n", diag.StackTrace)
	}
	sb.WriteString("\nDiagnose the failure and fix the underlying code if you can.")
	return sb.String()
}

// SelfHealing wraps a tool so that handler failures trigger one repair
// attempt before the original error text returns to the parent session.
// The repair outcome is emitted and logged only; the failing tool is not
// re-invoked in the same turn, and the parent model still sees the original
// error. Opt-in per tool.
func SelfHealing(tool Tool, repairer *Repairer) Tool {
	wrapped := tool
	wrapped.Handler = func(ctx context.Context, arguments json.RawMessage) (string, error) {
		output, err := tool.Handler(ctx, arguments)
		if err == nil {
			return output, nil
		}

		repairer.Repair(ctx, Diagnostic{
			FailingTool:       tool.Name,
			ErrorMessage:      err.Error(),
			OriginalArguments: arguments,
		})
		return "", err
	}
	return wrapped
}

// writeRecorder tracks workspace paths modified during a repair session.
type writeRecorder struct {
	seen map[string]struct{}
}

func (w *writeRecorder) record(path string) {
	if w.seen == nil {
		w.seen = make(map[string]struct{})
	}
	w.seen[path] = struct{}{}
}

func (w *writeRecorder) paths() []string {
	if len(w.seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(w.seen))
	for p := range w.seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// recordingWorkspace wraps a Workspace and records successful writes.
type recordingWorkspace struct {
	Workspace
	recorder *writeRecorder
}

func (w *recordingWorkspace) WriteFile(path string, content string) error {
	if err := w.Workspace.WriteFile(path, content); err != nil {
		return err
	}
	w.recorder.record(path)
	return nil
}

func mergePaths(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	rec := &writeRecorder{}
	for _, p := range a {
		rec.record(p)
	}
	for _, p := range b {
		rec.record(p)
	}
	return rec.paths()
}
