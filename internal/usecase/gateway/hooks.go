package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"audacity-mcp/internal/domain"
	"audacity-mcp/internal/infra/tracer"
	"audacity-mcp/internal/security"
)

// MetricsHook emits one (duration, success) event per call.
func MetricsHook(rec domain.MetricsRecorder) Hook {
	return func(next Handler) Handler {
		return func(ctx context.Context, command string) (string, error) {
			start := time.Now()
			text, err := next(ctx, command)
			rec.Record(time.Since(start), err == nil && !strings.HasPrefix(text, ErrorPrefix))
			return text, err
		}
	}
}

// TracingHook opens one span per call, tagged with the command verb.
func TracingHook() Hook {
	return func(next Handler) Handler {
		return func(ctx context.Context, command string) (string, error) {
			ctx, span := tracer.StartSpan(ctx, "gateway.send",
				trace.WithAttributes(tracer.StringAttr("command.verb", security.ParseVerb(command))),
			)
			defer span.End()

			text, err := next(ctx, command)
			if err != nil {
				span.SetAttributes(tracer.StringAttr("error.code", string(domain.ErrorCodeOf(err))))
				tracer.RecordError(span, fmt.Errorf("%s", security.RedactPaths(err.Error())))
				return text, err
			}
			span.SetAttributes(tracer.IntAttr("response.bytes", len(text)))
			tracer.SetOK(span)
			return text, nil
		}
	}
}

// ValidationHook rejects commands for which check returns an error. The
// rejection wraps both domain.ErrCommandRejected and the reason.
func ValidationHook(check func(command string) error) Hook {
	return func(next Handler) Handler {
		return func(ctx context.Context, command string) (string, error) {
			if err := check(command); err != nil {
				return "", fmt.Errorf("%w: %w", domain.ErrCommandRejected, err)
			}
			return next(ctx, command)
		}
	}
}

// RateLimitHook fails fast once the token bucket is empty.
func RateLimitHook(limiter *rate.Limiter) Hook {
	return func(next Handler) Handler {
		return func(ctx context.Context, command string) (string, error) {
			if !limiter.Allow() {
				return "", domain.NewDomainError("Gateway.Send", domain.ErrRateLimit,
					fmt.Sprintf("more than %.4g commands per second", float64(limiter.Limit())))
			}
			return next(ctx, command)
		}
	}
}

// NewRateLimitHook builds a RateLimitHook from a per-second rate and burst.
func NewRateLimitHook(perSecond float64, burst int) Hook {
	return RateLimitHook(rate.NewLimiter(rate.Limit(perSecond), burst))
}
