// Package tools provides the function tools exposed to the analysis assistant
// and the registry that resolves requested tool calls into outputs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"conductor/pkg/assistants"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/runerrors"
)

// Tool is a callable function exposed to the agent.
type Tool interface {
	// Name returns the tool's identifier.
	Name() string
	// Definition returns the tool's schema for the agent's manifest.
	Definition() ToolDefinition
	// Exec executes the tool with the given arguments.
	Exec(ctx context.Context, args map[string]any) (*ExecResult, error)
}

// ToolDefinition describes a tool to the agent.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema InputSchema
}

// InputSchema is a JSON schema object describing tool arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single argument.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ExecResult is a tool's output payload, already serialized for the agent.
type ExecResult struct {
	Content string
}

// Registry holds the tool set for one assistant and resolves call batches.
// Registration happens during startup; Seal freezes the set before the
// registry is handed to the run loop.
type Registry struct {
	mu       sync.RWMutex
	sealed   bool
	tools    map[string]Tool
	order    []string
	logger   *logx.Logger
	recorder metrics.Recorder
}

// NewRegistry creates an empty tool registry. A nil recorder disables
// tool-call metrics.
func NewRegistry(recorder metrics.Recorder) *Registry {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Registry{
		tools:    make(map[string]Tool),
		logger:   logx.NewLogger("tools"),
		recorder: recorder,
	}
}

// Register adds a tool. Panics on duplicate names or registration after Seal;
// both are wiring bugs, not runtime conditions.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		panic(fmt.Sprintf("tool registry sealed - cannot register tool '%s'", tool.Name()))
	}
	if _, exists := r.tools[tool.Name()]; exists {
		panic(fmt.Sprintf("tool '%s' already registered", tool.Name()))
	}
	r.tools[tool.Name()] = tool
	r.order = append(r.order, tool.Name())
}

// Seal prevents further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Specs projects the registered tools into the agent manifest, in
// registration order.
func (r *Registry) Specs() []assistants.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]assistants.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		def := r.tools[name].Definition()
		specs = append(specs, assistants.ToolSpec{
			Type: "function",
			Function: &assistants.FunctionSpec{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			},
		})
	}
	return specs
}

// ResolveAll resolves a batch of tool calls into exactly one output per call,
// in input order. Individual failures (unknown tool, bad arguments, handler
// error or panic) are contained inside that call's output so one bad call
// cannot sink the batch. The only batch-level error is a repeated call id.
func (r *Registry) ResolveAll(ctx context.Context, calls []assistants.ToolCall) ([]assistants.ToolOutput, error) {
	seen := make(map[string]struct{}, len(calls))
	for _, call := range calls {
		if _, dup := seen[call.ID]; dup {
			return nil, runerrors.NewProtocolViolation(fmt.Sprintf("duplicate tool call id %s in batch", call.ID))
		}
		seen[call.ID] = struct{}{}
	}

	outputs := make([]assistants.ToolOutput, 0, len(calls))
	for _, call := range calls {
		outputs = append(outputs, assistants.ToolOutput{
			ToolCallID: call.ID,
			Output:     r.resolveOne(ctx, call),
		})
	}
	return outputs, nil
}

// resolveOne runs a single call, converting every failure mode into an error
// payload the agent can read.
func (r *Registry) resolveOne(ctx context.Context, call assistants.ToolCall) (output string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Tool %s panicked: %v", call.Function.Name, rec)
			r.recorder.IncToolCall(call.Function.Name, "panic")
			output = errorOutput(fmt.Sprintf("tool %s panicked: %v", call.Function.Name, rec))
		}
	}()

	r.mu.RLock()
	tool, ok := r.tools[call.Function.Name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("Agent requested unknown tool %q", call.Function.Name)
		r.recorder.IncToolCall(call.Function.Name, "unknown")
		return errorOutput(fmt.Sprintf("unknown tool: %s", call.Function.Name))
	}

	args := make(map[string]any)
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			r.recorder.IncToolCall(call.Function.Name, "invalid_args")
			return errorOutput(fmt.Sprintf("invalid arguments for %s: %v", call.Function.Name, err))
		}
	}

	r.logger.Debug("Executing tool %s (call %s)", call.Function.Name, call.ID)
	result, err := tool.Exec(ctx, args)
	if err != nil {
		r.logger.Warn("Tool %s failed: %v", call.Function.Name, err)
		r.recorder.IncToolCall(call.Function.Name, "error")
		return errorOutput(err.Error())
	}
	r.recorder.IncToolCall(call.Function.Name, "success")
	return result.Content
}

// errorOutput wraps a failure message in the JSON shape tools answer with.
func errorOutput(message string) string {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return `{"error": "tool failed"}`
	}
	return string(payload)
}
