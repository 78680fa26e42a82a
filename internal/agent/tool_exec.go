package agent

import (
	"context"
	"sync"
	"time"

	"github.com/wisty/jimi/internal/models"
	"github.com/wisty/jimi/internal/tools"
)

// toolCallResult pairs a dispatched ToolCall with the ToolResult its
// execution produced, preserving the originating call for pairing.
type toolCallResult struct {
	call   models.ToolCall
	result models.ToolResult
}

// ExecutorMetrics tracks tool-dispatch counters across a session's
// lifetime, grounded on the teacher's internal/agent/executor.go
// ExecutorMetrics (supplemented feature, SPEC_FULL.md §5).
type ExecutorMetrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

func (m *ExecutorMetrics) recordExecution() {
	m.mu.Lock()
	m.TotalExecutions++
	m.mu.Unlock()
}

func (m *ExecutorMetrics) recordFailure() {
	m.mu.Lock()
	m.TotalFailures++
	m.mu.Unlock()
}

func (m *ExecutorMetrics) recordTimeout() {
	m.mu.Lock()
	m.TotalTimeouts++
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (m *ExecutorMetrics) Snapshot() ExecutorMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ExecutorMetrics{
		TotalExecutions: m.TotalExecutions,
		TotalFailures:   m.TotalFailures,
		TotalTimeouts:   m.TotalTimeouts,
		TotalPanics:     m.TotalPanics,
	}
}

// toolDispatcher fans out a step's tool calls to the registry, one
// goroutine per call bounded by a semaphore, and joins all results
// before the next step starts (spec §5 "Tool executions within one
// step run in parallel ... and are joined before the next step
// starts").
type toolDispatcher struct {
	registry *tools.Registry
	cfg      ToolExecConfig
	perTool  map[string]ToolConfig
	metrics  *ExecutorMetrics
}

func newToolDispatcher(registry *tools.Registry, cfg ToolExecConfig, metrics *ExecutorMetrics) *toolDispatcher {
	if metrics == nil {
		metrics = &ExecutorMetrics{}
	}
	return &toolDispatcher{
		registry: registry,
		cfg:      cfg,
		perTool:  make(map[string]ToolConfig),
		metrics:  metrics,
	}
}

// ConfigureTool sets a per-tool timeout override.
func (d *toolDispatcher) ConfigureTool(name string, cfg ToolConfig) {
	d.perTool[name] = cfg
}

func (d *toolDispatcher) timeoutFor(name string) time.Duration {
	if cfg, ok := d.perTool[name]; ok && cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return d.cfg.DefaultTimeout
}

// dispatchAll runs every call concurrently (bounded by MaxConcurrency)
// and returns one result per call, in the same order as calls. If ctx
// is cancelled mid-flight, in-flight calls are abandoned best-effort and
// their slots are filled with an Error("interrupted") result so the
// caller can still satisfy the pairing invariant (spec §5 cancellation
// semantics).
func (d *toolDispatcher) dispatchAll(ctx context.Context, sessionID string, calls []models.ToolCall) []toolCallResult {
	out := make([]toolCallResult, len(calls))
	sem := make(chan struct{}, d.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				out[i] = toolCallResult{call: call, result: models.ErrorResult("interrupted", "")}
				return
			}

			out[i] = toolCallResult{call: call, result: d.dispatchOne(ctx, sessionID, call)}
		}(i, call)
	}

	wg.Wait()
	return out
}

func (d *toolDispatcher) dispatchOne(ctx context.Context, sessionID string, call models.ToolCall) models.ToolResult {
	d.metrics.recordExecution()

	timeout := d.timeoutFor(call.FunctionName)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan models.ToolResult, 1)
	go func() {
		resultCh <- d.registry.Execute(callCtx, sessionID, call.FunctionName, call.Arguments)
	}()

	select {
	case result := <-resultCh:
		if result.IsError() {
			d.metrics.recordFailure()
		}
		return result
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return models.ErrorResult("interrupted", "")
		}
		d.metrics.recordTimeout()
		d.metrics.recordFailure()
		return models.ErrorResult("tool timed out", "")
	}
}
