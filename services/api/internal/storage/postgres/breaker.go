package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker rejects calls before probing.
	OpenTimeout time.Duration
	MaxProbes   uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "ledger-store",
		ConsecutiveFailures: 5,
		OpenTimeout:         10 * time.Second,
		MaxProbes:           1,
	}
}

// Breaker stops sending work to a store that keeps failing to answer. Only
// ErrStoreUnavailable counts as a failure; business and lock errors mean the
// store is healthy.
type Breaker struct {
	cb  *gobreaker.CircuitBreaker
	log *zap.Logger
}

func NewBreaker(cfg BreakerConfig, log *zap.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Breaker{log: log}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxProbes,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrStoreUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return b
}

func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}

// Healthy reports whether the breaker lets calls through.
func (b *Breaker) Healthy() bool {
	return b.cb.State() == gobreaker.StateClosed
}
