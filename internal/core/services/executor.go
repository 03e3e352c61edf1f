package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sonika-ai/conductor/internal/core/domain"
	"github.com/sonika-ai/conductor/internal/core/ports"
)

// ToolExecutor runs validated tool calls. Calls within one batch run
// concurrently and in isolation: one call's failure never aborts its
// siblings, and ExecuteBatch itself never returns an error — every outcome,
// including rejection and exhaustion of retries, becomes a ToolCallResult.
type ToolExecutor struct {
	logger     *slog.Logger
	registry   *domain.ToolRegistry
	validator  *ToolValidator
	tracer     *TraceCollector
	observers  []ports.ToolObserver
	maxRetries int
}

// NewToolExecutor creates an executor over a registry. maxRetries is the
// number of extra attempts after the first failure; <= 0 disables retry.
func NewToolExecutor(logger *slog.Logger, registry *domain.ToolRegistry, tracer *TraceCollector, maxRetries int) *ToolExecutor {
	return &ToolExecutor{
		logger:     logger,
		registry:   registry,
		validator:  NewToolValidator(registry),
		tracer:     tracer,
		maxRetries: maxRetries,
	}
}

// AddObserver registers a tool lifecycle observer. Observers are advisory:
// panics and slow observers are the observer's problem, not the executor's.
func (e *ToolExecutor) AddObserver(obs ports.ToolObserver) {
	e.observers = append(e.observers, obs)
}

// ExecuteBatch runs all calls of one planner decision concurrently and
// returns results in the same order as the requests.
func (e *ToolExecutor) ExecuteBatch(ctx context.Context, calls []domain.ToolCallRequest) []domain.ToolCallResult {
	results := make([]domain.ToolCallResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.ExecuteOne(gctx, call)
			return nil
		})
	}
	// Workers never return errors; Wait is only a join point.
	_ = g.Wait()
	return results
}

// ExecuteOne validates and runs a single call, retrying failures up to the
// configured budget.
func (e *ToolExecutor) ExecuteOne(ctx context.Context, call domain.ToolCallRequest) domain.ToolCallResult {
	if call.ID == "" {
		call.ID = domain.NewCallID()
	}

	if rejected := e.validator.Validate(call); rejected != nil {
		e.logger.Warn("tool call rejected", "tool", call.Name, "reason", rejected.Error)
		e.notifyError(call.Name, rejected.Error)
		return *rejected
	}

	tool, _ := e.registry.GetTool(call.Name)
	argsJSON, _ := json.Marshal(call.Args)

	spanCtx, spanID := e.tracer.StartSpan(ctx, "tool."+call.Name, domain.SpanKindTool, map[string]string{
		"call_id": call.ID,
	})
	e.tracer.SetSpanInput(spanID, string(argsJSON))

	e.notifyStart(call.Name, string(argsJSON))

	var (
		output string
		err    error
	)
	attempts := 1 + e.maxRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			e.logger.Debug("retrying tool call", "tool", call.Name, "attempt", attempt+1)
		}
		output, err = e.invoke(spanCtx, tool, call.Args)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			// Context gone; further attempts cannot succeed.
			break
		}
	}

	if err != nil {
		e.logger.Error("tool call failed", "tool", call.Name, "error", err)
		e.tracer.EndSpan(spanID, domain.SpanStatusError, "", err.Error())
		e.notifyError(call.Name, err.Error())
		return domain.ToolCallResult{
			CallID: call.ID,
			Name:   call.Name,
			Status: domain.ToolCallFailed,
			Error:  err.Error(),
		}
	}

	e.tracer.EndSpan(spanID, domain.SpanStatusOK, output, "")
	e.notifyEnd(call.Name, output)
	return domain.ToolCallResult{
		CallID: call.ID,
		Name:   call.Name,
		Status: domain.ToolCallSuccess,
		Output: output,
	}
}

// invoke runs the tool function, converting a panic inside the tool into an
// error so one bad tool cannot take the turn down.
func (e *ToolExecutor) invoke(ctx context.Context, tool *domain.Tool, args map[string]any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %q panicked: %v", tool.Name, r)
		}
	}()
	start := time.Now()
	out, err = tool.Execute(ctx, args)
	e.logger.Debug("tool executed", "tool", tool.Name, "duration", time.Since(start), "ok", err == nil)
	return out, err
}

func (e *ToolExecutor) notifyStart(name, args string) {
	for _, obs := range e.observers {
		safeNotify(func() { obs.OnToolStart(name, args) })
	}
}

func (e *ToolExecutor) notifyEnd(name, output string) {
	for _, obs := range e.observers {
		safeNotify(func() { obs.OnToolEnd(name, output) })
	}
}

func (e *ToolExecutor) notifyError(name, errMsg string) {
	for _, obs := range e.observers {
		safeNotify(func() { obs.OnToolError(name, errMsg) })
	}
}

// safeNotify shields the core from observer panics.
func safeNotify(fn func()) {
	defer func() { _ = recover() }()
	fn()
}
