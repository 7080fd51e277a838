package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"audacity-mcp/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker behavior.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive transport failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration
}

// Breaker stops forwarding commands after repeated transport failures so a
// closed Audacity is not hit with a full timeout on every call.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[string]
}

// NewBreaker creates a Breaker. Zero config fields take defaults.
func NewBreaker(cfg BreakerConfig, logger *slog.Logger) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "audacity-pipe",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Only the pipe pair itself counts against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsTransportFailure(err)
		},
	})
	return &Breaker{cb: cb}
}

// Hook routes calls through the breaker.
func (b *Breaker) Hook() Hook {
	return func(next Handler) Handler {
		return func(ctx context.Context, command string) (string, error) {
			text, err := b.cb.Execute(func() (string, error) {
				return next(ctx, command)
			})
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return "", domain.NewDomainError("Gateway.Send", domain.ErrCircuitOpen, err.Error())
			}
			return text, err
		}
	}
}

// State returns the current breaker state for monitoring.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
