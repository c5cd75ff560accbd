package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harun/dbperms-mcp/internal/metrics"
	"github.com/harun/dbperms-mcp/internal/observability"
	"github.com/harun/dbperms-mcp/internal/tracing"
	"github.com/harun/dbperms-mcp/pkg/apierr"
	"github.com/harun/dbperms-mcp/pkg/commandqueue"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultTimeout bounds a tool call when no timeout option is given
const DefaultTimeout = 60 * time.Second

// Dispatcher runs tool calls against a Registry. It holds no per-call state
// and is safe for concurrent use.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	metrics  *metrics.Metrics
	audit    *observability.AuditLogger
	queue    *commandqueue.CommandQueue
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithTimeout bounds each tool call
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMetrics records tool call metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithAuditLogger records one audit event per tool call
func WithAuditLogger(a *observability.AuditLogger) Option {
	return func(d *Dispatcher) {
		d.audit = a
	}
}

// WithQueue runs handlers through q, read-only tools in the read lane and
// the rest in the write lane
func WithQueue(q *commandqueue.CommandQueue) Option {
	return func(d *Dispatcher) {
		d.queue = q
	}
}

// NewDispatcher creates a dispatcher over reg
func NewDispatcher(reg *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.metrics.SetRegisteredTools(reg.Len())
	return d
}

// Registry returns the tool table the dispatcher serves
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs one tool call and wraps the outcome in an Envelope
func (d *Dispatcher) Dispatch(ctx context.Context, name string, params map[string]interface{}) Envelope {
	start := time.Now()

	ctx = tracing.NewCallContext(ctx, name)
	ctx, span := tracing.StartSpan(ctx, "tool.call", attribute.String("tool.name", name))
	defer span.End()

	payload, err := d.call(ctx, name, params)

	var env Envelope
	if err != nil {
		env = Failure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(env.Kind))
	} else {
		env = Success(payload)
	}
	duration := time.Since(start)
	span.SetAttributes(attribute.String("tool.kind", string(env.Kind)))

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	switch env.Kind {
	case apierr.KindNone:
		logger.Info().Dur("duration", duration).Msg("Tool call completed")
	case apierr.KindValidation, apierr.KindUnknownTool:
		logger.Warn().Str("kind", string(env.Kind)).Dur("duration", duration).Err(err).Msg("Tool call rejected")
	default:
		logger.Error().Str("kind", string(env.Kind)).Int("http_status", apierr.StatusCode(err)).Dur("duration", duration).Err(err).Msg("Tool call failed")
	}

	d.metrics.RecordToolCall(name, string(env.Kind), duration)

	status := "success"
	if env.IsError() {
		status = "failure"
	}
	metadata := map[string]interface{}{
		"call_id":     tracing.GetCallID(ctx),
		"kind":        string(env.Kind),
		"duration_ms": duration.Milliseconds(),
	}
	if code := apierr.StatusCode(err); code > 0 {
		metadata["http_status"] = code
	}
	d.audit.RecordToolCall(ctx, name, CallerFromContext(ctx), status, metadata)

	return env
}

func (d *Dispatcher) call(ctx context.Context, name string, params map[string]interface{}) (json.RawMessage, error) {
	tool := d.registry.Get(name)
	if tool == nil {
		return nil, &apierr.Error{Kind: apierr.KindUnknownTool, Message: fmt.Sprintf("unknown tool: %s", name)}
	}

	if err := checkRequired(tool, params); err != nil {
		return nil, err
	}
	params = withoutNulls(params)
	if err := d.registry.validateParameters(name, params); err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type result struct {
		payload json.RawMessage
		err     error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: apierr.Internal(fmt.Errorf("tool %s panicked: %v", name, r))}
			}
		}()
		payload, err := d.run(timeoutCtx, tool, params)
		done <- result{payload: payload, err: err}
	}()

	select {
	case res := <-done:
		return res.payload, res.err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return nil, apierr.Transport("tool "+name, ctx.Err())
		}
		return nil, apierr.Transport("tool "+name, fmt.Errorf("tool execution timeout after %v", d.timeout))
	}
}

func (d *Dispatcher) run(ctx context.Context, tool *ToolDefinition, params map[string]interface{}) (json.RawMessage, error) {
	if d.queue == nil {
		return tool.Handler(ctx, params)
	}

	lane := commandqueue.LaneWrite
	if tool.ReadOnly {
		lane = commandqueue.LaneRead
	}
	payload, err := d.queue.Enqueue(ctx, lane, func(ctx context.Context) (json.RawMessage, error) {
		return tool.Handler(ctx, params)
	})

	var panicErr *commandqueue.PanicError
	if errors.As(err, &panicErr) {
		return nil, apierr.Internal(fmt.Errorf("tool %s panicked: %v", tool.Name, panicErr.Value))
	}
	return payload, err
}
