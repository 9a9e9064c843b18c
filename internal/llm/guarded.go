package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting
// calls to protect the model endpoint from cascading failures.
var ErrCircuitOpen = errors.New("llm circuit breaker is open")

// GuardConfig configures the guarded client.
type GuardConfig struct {
	// MaxFailures is the number of consecutive failures required to trip the
	// circuit (default: 3).
	MaxFailures uint32

	// OpenTimeout is how long the circuit stays open before allowing test
	// requests (default: 30s).
	OpenTimeout time.Duration

	// CallTimeout bounds each completion call. The core has no internal
	// timeouts; this is where the collaborator's contract is enforced
	// (default: 30s).
	CallTimeout time.Duration

	// RequestsPerMinute paces calls to the model endpoint (default: 60).
	RequestsPerMinute int
}

// DefaultGuardConfig returns the standard guard settings.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxFailures:       3,
		OpenTimeout:       30 * time.Second,
		CallTimeout:       30 * time.Second,
		RequestsPerMinute: 60,
	}
}

// GuardedClient wraps a TextGenerator with a circuit breaker, a rate
// limiter, and a per-call timeout. It implements TextGenerator, so it drops
// in wherever the bare client would.
type GuardedClient struct {
	inner   TextGenerator
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGuardedClient wraps inner with the given guard settings. Zero-valued
// fields are replaced with defaults.
func NewGuardedClient(inner TextGenerator, config GuardConfig) *GuardedClient {
	defaults := DefaultGuardConfig()
	if config.MaxFailures == 0 {
		config.MaxFailures = defaults.MaxFailures
	}
	if config.OpenTimeout == 0 {
		config.OpenTimeout = defaults.OpenTimeout
	}
	if config.CallTimeout == 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	if config.RequestsPerMinute == 0 {
		config.RequestsPerMinute = defaults.RequestsPerMinute
	}

	settings := gobreaker.Settings{
		Name:    "llm",
		Timeout: config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
	}

	return &GuardedClient{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60.0), 1),
		timeout: config.CallTimeout,
	}
}

// Complete waits for a rate token, then runs the completion through the
// circuit breaker under the call timeout.
func (g *GuardedClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Complete(callCtx, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrCircuitOpen
		}
		return "", err
	}

	return result.(string), nil
}

// GetModel reports the wrapped client's model name.
func (g *GuardedClient) GetModel() string {
	return g.inner.GetModel()
}
