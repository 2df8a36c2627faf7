package sink

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// Default circuit breaker settings.
const (
	defaultMaxFailures uint32        = 5
	defaultOpenTimeout time.Duration = 30 * time.Second
)

// Breaker wraps a Sink so a dead broker fails fast instead of stalling the
// inbound path on every line.
type Breaker struct {
	inner   Sink
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreaker opens the circuit after maxFailures consecutive failures and
// probes again after openTimeout. Zero values select the defaults.
func NewBreaker(inner Sink, maxFailures uint32, openTimeout time.Duration, log logrus.FieldLogger) *Breaker {
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	if openTimeout == 0 {
		openTimeout = defaultOpenTimeout
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "sink",
		MaxRequests: 1, // one probe in half-open state
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state change")
		},
	})

	return &Breaker{inner: inner, breaker: cb}
}

func (b *Breaker) Publish(ctx context.Context, topic, payload string, qos byte) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.Publish(ctx, topic, payload, qos)
	})
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

func (b *Breaker) Close() error {
	return b.inner.Close()
}
