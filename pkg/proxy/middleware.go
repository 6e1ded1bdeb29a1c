package proxy

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/dispatch-proxy/pkg/logging"
)

// Invocation describes one handler call inside a batch
type Invocation struct {
	BatchID uuid.UUID
	Phase   Phase
	Index   int
	Target  common.Address
	Handler string
}

// Next is the remainder of the chain, ending in the handler itself
type Next func(ctx context.Context) ([]byte, error)

// Middleware wraps every handler invocation. It must call next unless it
// fails the invocation.
type Middleware func(ctx context.Context, inv *Invocation, next Next) ([]byte, error)

// Chain composes middleware. The first middleware is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, inv *Invocation, next Next) ([]byte, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) ([]byte, error) {
				return mw(ctx, inv, prev)
			}
		}
		return h(ctx)
	}
}

// Logging logs each invocation at debug level and failures at warn level.
func Logging(logger *logging.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Next) ([]byte, error) {
		fields := logging.Fields{
			"batch_id": inv.BatchID.String(),
			"phase":    string(inv.Phase),
			"index":    inv.Index,
			"target":   inv.Target.Hex(),
			"handler":  inv.Handler,
		}
		logger.Debug("Invoking handler", fields)

		start := time.Now()
		out, err := next(ctx)
		fields["elapsed"] = time.Since(start).String()

		if err != nil {
			logger.WithError(err).Warn("Handler failed", fields)
		} else {
			logger.Debug("Handler completed", fields)
		}
		return out, err
	}
}

// Recover converts a panicking handler into an ordinary failure so the
// batch is restored instead of crashing the process.
func Recover(logger *logging.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Next) (out []byte, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Handler panicked", logging.Fields{
					"batch_id": inv.BatchID.String(),
					"handler":  inv.Handler,
					"panic":    fmt.Sprint(r),
					"stack":    string(debug.Stack()),
				})
				out = nil
				retErr = fmt.Errorf("panic in handler %s: %v", inv.Handler, r)
			}
		}()
		return next(ctx)
	}
}

const tracerName = "github.com/psantana5/dispatch-proxy/pkg/proxy"

// Tracing wraps each invocation in a span using the global tracer provider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer wraps each invocation in a span from tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, inv *Invocation, next Next) ([]byte, error) {
		ctx, span := tracer.Start(ctx, "proxy.handler.invoke",
			trace.WithAttributes(
				attribute.String("proxy.batch_id", inv.BatchID.String()),
				attribute.String("proxy.phase", string(inv.Phase)),
				attribute.Int("proxy.index", inv.Index),
				attribute.String("proxy.target", inv.Target.Hex()),
				attribute.String("proxy.handler", inv.Handler),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		out, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return out, err
	}
}
