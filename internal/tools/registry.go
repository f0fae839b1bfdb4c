package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/nexus-core/internal/llm"
	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// maxInputSize bounds tool input JSON (10MB).
const maxInputSize = 10 << 20

type registered struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds executable tools for one process. Read-mostly after
// startup; registration and lookup are mutually exclusive.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]registered
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *observability.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		tools:   make(map[string]registered),
		logger:  logger,
		metrics: metrics,
	}
}

// Register adds a tool, compiling its input schema. Idempotent by id; the
// last registration wins.
func (r *Registry) Register(tool Tool) error {
	meta := tool.Meta()
	if meta.ID == "" {
		return nexuserr.New(nexuserr.CodeValidation, "tool id is required")
	}
	schema, err := jsonschema.CompileString(meta.ID+".schema.json", string(meta.InputSchema))
	if err != nil {
		return nexuserr.Wrap(nexuserr.CodeValidation, "invalid input schema for "+meta.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[meta.ID] = registered{tool: tool, schema: schema}
	return nil
}

// Unregister removes a tool by id.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, id)
}

// Has reports whether a tool id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok
}

// Get returns a tool by id.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[id]
	return reg.tool, ok
}

// ListAll returns metadata for every registered tool, sorted by id.
func (r *Registry) ListAll() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.tool.Meta())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Specs returns provider-facing tool specs for the ids on the allow-list,
// sorted by id. Tools off the list are invisible to the model.
func (r *Registry) Specs(allowed []string) []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []llm.ToolSpec
	for _, id := range allowed {
		reg, ok := r.tools[id]
		if !ok {
			continue
		}
		meta := reg.tool.Meta()
		out = append(out, llm.ToolSpec{
			Name:        meta.ID,
			Description: meta.Description,
			Schema:      meta.InputSchema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve runs the dispatch pipeline for one tool call: lookup, allow-list,
// input validation, approval gate, then execution. Pipeline failures return
// a coded error with a zero ToolResult; execution failures return both the
// error-result (fed back to the model) and a TOOL_EXECUTION_ERROR.
// DurationMs is populated whenever execution was attempted.
func (r *Registry) Resolve(ctx context.Context, call models.ToolCall, rc *RunContext) (models.ToolResult, error) {
	return r.resolve(ctx, call, rc, false)
}

// ResolveDryRun is Resolve without side effects: the same pipeline, with
// the tool's dry-run path invoked instead of execute. RBAC and validation
// are still enforced.
func (r *Registry) ResolveDryRun(ctx context.Context, call models.ToolCall, rc *RunContext) (models.ToolResult, error) {
	return r.resolve(ctx, call, rc, true)
}

func (r *Registry) resolve(ctx context.Context, call models.ToolCall, rc *RunContext, dry bool) (models.ToolResult, error) {
	result := models.ToolResult{ToolCallID: call.ID}

	if len(call.Input) > maxInputSize {
		return result, nexuserr.Validation("tool input too large", []nexuserr.FieldError{
			{Field: "input", Message: "exceeds maximum size"},
		})
	}

	r.mu.RLock()
	reg, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return result, nexuserr.Newf(nexuserr.CodeToolNotFound, "tool %s not found", call.Name)
	}
	meta := reg.tool.Meta()

	if !rc.Allowed(meta.ID) {
		return result, nexuserr.Newf(nexuserr.CodeToolNotAllowed, "tool %s is not on the allow-list", meta.ID)
	}

	if err := validateInput(reg.schema, call.Input); err != nil {
		return result, err
	}

	if meta.RequiresApproval && !rc.Approved(call.ID) {
		return result, nexuserr.Newf(nexuserr.CodeHumanApprovalPending, "tool %s requires approval", meta.ID).
			With("tool_id", meta.ID)
	}

	start := time.Now()
	var output string
	var err error
	if dry {
		output, err = r.dryRun(ctx, reg.tool, meta, call.Input, rc)
	} else {
		output, err = reg.tool.Execute(ctx, call.Input, rc)
	}
	result.DurationMs = time.Since(start).Milliseconds()

	if r.metrics != nil {
		r.metrics.ToolCounter.WithLabelValues(meta.ID, outcomeLabel(err)).Inc()
		r.metrics.ToolDuration.WithLabelValues(meta.ID).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		wrapped := nexuserr.Wrap(nexuserr.CodeToolExecution, "tool "+meta.ID+" failed", err)
		r.logger.Warn(ctx, "tool execution failed",
			"tool_id", meta.ID,
			"duration_ms", result.DurationMs,
			"error", err)
		result.IsError = true
		result.Content = wrapped.Error()
		return result, wrapped
	}

	result.Content = output
	return result, nil
}

func (r *Registry) dryRun(ctx context.Context, tool Tool, meta Metadata, input json.RawMessage, rc *RunContext) (string, error) {
	if dr, ok := tool.(DryRunner); ok && meta.SupportsDryRun {
		return dr.DryRun(ctx, input, rc)
	}
	// Validation already passed; without a planning path that is all a dry
	// run can say.
	return "dry run: input valid for " + meta.ID, nil
}

// validateInput decodes and validates tool input, flattening schema causes
// into per-field messages.
func validateInput(schema *jsonschema.Schema, input json.RawMessage) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return nexuserr.Validation("tool input is not valid JSON", []nexuserr.FieldError{
			{Field: "input", Message: err.Error()},
		})
	}
	if err := schema.Validate(decoded); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nexuserr.Validation("tool input failed schema validation", flattenCauses(ve))
		}
		return nexuserr.Validation("tool input failed schema validation", nil)
	}
	return nil
}

func flattenCauses(ve *jsonschema.ValidationError) []nexuserr.FieldError {
	if len(ve.Causes) == 0 {
		field := ve.InstanceLocation
		if field == "" {
			field = "/"
		}
		return []nexuserr.FieldError{{Field: field, Message: ve.Message}}
	}
	var out []nexuserr.FieldError
	for _, cause := range ve.Causes {
		out = append(out, flattenCauses(cause)...)
	}
	return out
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
