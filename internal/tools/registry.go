// Package tools implements the uniform tool contract (C3): name-to-tool
// registration, JSON-schema export for the LLM, and approval-gated
// dispatch through the Arguments Normalizer. Grounded on the teacher's
// internal/agent/tool_registry.go, simplified to the single-map
// registry and approval flow spec.md describes (no session-locking,
// async-job, or MCP wildcard-pattern features, which belong to the
// surrounding product rather than this core).
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wisty/jimi/internal/models"
	"github.com/wisty/jimi/internal/toolargs"
)

// MaxToolNameLength bounds a registered tool's name, per spec §6.
const MaxToolNameLength = 64

// Tool is the contract every tool implementation satisfies (spec §6).
type Tool interface {
	Name() string
	Description() string
	// ParameterSchema returns a Draft-7 JSON schema document describing
	// the tool's parameters.
	ParameterSchema() json.RawMessage
	// ParameterOrder returns parameter names in declared schema order,
	// used by the Normalizer's array-to-object repair step.
	ParameterOrder() []string
	// Execute runs the tool body against already-normalized,
	// schema-validated arguments.
	Execute(ctx context.Context, args json.RawMessage) models.ToolResult
	// RequiresApproval reports whether a call must be approved before
	// Execute runs.
	RequiresApproval() bool
}

// Provider contributes a set of tools to a Registry at startup, applied
// in ascending Order (spec §4.3 "tool providers").
type Provider interface {
	Order() int
	Tools() []Tool
}

// Registry maps tool names to Tool implementations and dispatches calls
// through normalization, schema validation, and approval.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	schemas  map[string]*jsonschema.Schema
	approval ApprovalChecker
}

// NewRegistry builds an empty Registry. approval may be nil, in which
// case every requires-approval tool is auto-approved (equivalent to
// yolo mode).
func NewRegistry(approval ApprovalChecker) *Registry {
	if approval == nil {
		approval = AutoApprove{}
	}
	return &Registry{
		tools:    make(map[string]Tool),
		schemas:  make(map[string]*jsonschema.Schema),
		approval: approval,
	}
}

// Register adds a tool under its own name; re-registering the same name
// overwrites the prior entry.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("tools: invalid tool name %q", name)
	}

	compiled, err := compileSchema(name, t.ParameterSchema())
	if err != nil {
		return fmt.Errorf("tools: compiling schema for %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = t
	r.schemas[name] = compiled
	return nil
}

// RegisterProviders applies each Provider's tools in ascending Order.
func (r *Registry) RegisterProviders(providers []Provider) error {
	sorted := make([]Provider, len(providers))
	copy(sorted, providers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order() < sorted[j].Order() })

	for _, p := range sorted {
		for _, t := range p.Tools() {
			if err := r.Register(t); err != nil {
				return err
			}
		}
	}
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}

// Schemas returns the JSON-schema description of each named tool, for
// the provider call's tool_schemas argument.
func (r *Registry) Schemas(names []string) []models.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ToolSchema, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		out = append(out, models.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.ParameterSchema(),
		})
	}
	return out
}

// Execute runs the five-step dispatch in spec §4.3: lookup, normalize,
// deserialize/validate, approval, run.
func (r *Registry) Execute(ctx context.Context, sessionID, name, rawArguments string) models.ToolResult {
	r.mu.RLock()
	t, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return models.ErrorResult("tool not found", "")
	}

	normalized := toolargs.Normalize(rawArguments, toolargs.ParamSchema{OrderedNames: t.ParameterOrder()})

	var args json.RawMessage = json.RawMessage(normalized)
	if schema != nil {
		var v any
		if err := json.Unmarshal(args, &v); err != nil {
			return models.ErrorResult("invalid arguments", err.Error())
		}
		if err := schema.Validate(v); err != nil {
			return models.ErrorResult("invalid arguments", err.Error())
		}
	}

	if t.RequiresApproval() {
		decision := r.approval.Check(ctx, sessionID, name, normalized)
		switch decision {
		case DecisionDenied:
			return models.RejectedResult(fmt.Sprintf("rejected: %s was not approved", name))
		case DecisionApprovedForSession:
			r.approval.RememberForSession(sessionID, name)
		case DecisionPending:
			return models.RejectedResult(fmt.Sprintf("rejected: %s approval is pending", name))
		}
	}

	return runWithRecover(ctx, t, args)
}

// runWithRecover executes the tool body, converting a panic into an
// Error result rather than letting it propagate (spec §7 ToolError).
func runWithRecover(ctx context.Context, t Tool, args json.RawMessage) (result models.ToolResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = models.ErrorResult(fmt.Sprintf("tool panicked: %v", rec), "")
		}
	}()
	return t.Execute(ctx, args)
}
