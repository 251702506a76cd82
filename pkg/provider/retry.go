package provider

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/hivehq/hive/internal/observability"
)

// RetryConfig bounds the retry behavior of the wrapper. Values are
// configuration, not constants: callers tune them per deployment.
type RetryConfig struct {
	// MaxAttempts is the total number of call attempts, including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the doubling backoff.
	MaxBackoff time.Duration
	// BackoffFactor multiplies the backoff after each attempt.
	BackoffFactor float64
	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64
}

// DefaultRetryConfig is the standard retry configuration.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// BackoffFor returns the jittered delay before retry number attempt,
// counting from zero. Callers outside the wrapper use it to apply the same
// backoff policy to coarser retry loops.
func (c RetryConfig) BackoffFor(attempt int) time.Duration {
	c = c.withDefaults()
	backoff := c.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * c.BackoffFactor)
		if backoff >= c.MaxBackoff {
			backoff = c.MaxBackoff
			break
		}
	}
	return applyJitter(backoff, c.Jitter)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultRetryConfig.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultRetryConfig.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultRetryConfig.MaxBackoff
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = DefaultRetryConfig.BackoffFactor
	}
	return c
}

// RetryClient wraps a raw Client with classified-error retry. Transient
// failures are retried with exponential backoff and only surface as a
// single EventRecoverableError once the attempt budget is spent; the caller
// therefore never has to distinguish "the model had nothing to say" from
// "every attempt transiently failed" - that distinction is resolved here.
// Non-transient failures surface immediately as EventFatalError.
type RetryClient struct {
	inner  Client
	config RetryConfig
	logger zerolog.Logger
}

// NewRetryClient wraps inner with the given retry configuration.
func NewRetryClient(inner Client, config RetryConfig, logger zerolog.Logger) *RetryClient {
	observability.EnsureRegistered()
	return &RetryClient{
		inner:  inner,
		config: config.withDefaults(),
		logger: logger,
	}
}

// Name returns the wrapped provider's name.
func (c *RetryClient) Name() string {
	return c.inner.Name()
}

// Stream issues the call, retrying transient failures. The caller must
// drain the returned channel until it closes. Once any content or tool call
// has been forwarded downstream the attempt can no longer be restarted
// without duplicating output, so a transient failure after that point
// surfaces as EventRecoverableError and the judge path decides what to do
// with the partial response.
func (c *RetryClient) Stream(ctx context.Context, req Request) <-chan StreamEvent {
	out := make(chan StreamEvent)

	go func() {
		defer close(out)

		backoff := c.config.InitialBackoff

		for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				out <- StreamEvent{Type: EventFatalError, Err: err}
				return
			}

			forwarded, err := c.runAttempt(ctx, req, out)
			if err == nil {
				return
			}

			kind := Classify(err)
			observability.RecordProviderFailure(c.inner.Name(), string(kind))

			if !kind.Transient() {
				out <- StreamEvent{Type: EventFatalError, Err: err}
				return
			}
			if forwarded {
				// Partial response already downstream; restarting would
				// duplicate it.
				out <- StreamEvent{Type: EventRecoverableError, Err: err}
				return
			}
			if attempt == c.config.MaxAttempts-1 {
				c.logger.Warn().
					Str("provider", c.inner.Name()).
					Str("kind", string(kind)).
					Int("attempts", c.config.MaxAttempts).
					Err(err).
					Msg("Provider retries exhausted")
				out <- StreamEvent{Type: EventRecoverableError, Err: err}
				return
			}

			sleep := applyJitter(backoff, c.config.Jitter)
			c.logger.Info().
				Str("provider", c.inner.Name()).
				Str("kind", string(kind)).
				Int("attempt", attempt+1).
				Dur("backoff", sleep).
				Msg("Retrying provider call")
			observability.RecordProviderRetry(c.inner.Name(), string(kind))

			select {
			case <-ctx.Done():
				out <- StreamEvent{Type: EventFatalError, Err: ctx.Err()}
				return
			case <-time.After(sleep):
			}

			backoff = time.Duration(float64(backoff) * c.config.BackoffFactor)
			if backoff > c.config.MaxBackoff {
				backoff = c.config.MaxBackoff
			}
		}
	}()

	return out
}

// runAttempt drives one inner call, forwarding events downstream. It
// returns whether any content was forwarded and the attempt's error, if any.
func (c *RetryClient) runAttempt(ctx context.Context, req Request, out chan<- StreamEvent) (bool, error) {
	forwarded := false

	for event := range c.inner.Stream(ctx, req) {
		switch event.Type {
		case EventContentDelta, EventToolCall:
			forwarded = true
			out <- event
		case EventDone:
			out <- event
			return forwarded, nil
		case EventError:
			return forwarded, event.Err
		}
	}

	// Channel closed without a terminal event; treat as a dropped
	// connection on the provider side.
	return forwarded, NewError(c.inner.Name(), KindProviderConnection, errStreamTruncated)
}

func applyJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	amount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + amount)
}
