package mailer

import (
	"context"
	"errors"
	"time"

	"medprice-service/internal/util"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerConfig tunes the circuit breaker around a transport
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
}

// BreakerSender stops calling a failing transport until it has had time to recover
type BreakerSender struct {
	next    Sender
	breaker *gobreaker.CircuitBreaker[Result]
}

// NewBreakerSender wraps next with a circuit breaker
func NewBreakerSender(next Sender, cfg BreakerConfig) *BreakerSender {
	if cfg.Name == "" {
		cfg.Name = "email-transport"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	logger := util.ComponentLogger("mail-breaker")

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Email circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &BreakerSender{next: next, breaker: gobreaker.NewCircuitBreaker[Result](settings)}
}

// Send passes msg to the wrapped transport unless the breaker is open
func (b *BreakerSender) Send(ctx context.Context, msg Message) Result {
	// a malformed message says nothing about the transport
	if err := validate(msg); err != nil {
		return Failed(err)
	}
	res, err := b.breaker.Execute(func() (Result, error) {
		r := b.next.Send(ctx, msg)
		if !r.Success {
			return r, errors.New(r.Error)
		}
		return r, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Result{Success: false, Error: "email transport unavailable: " + err.Error()}
	}
	return res
}

// State reports the breaker state for health output
func (b *BreakerSender) State() string {
	return b.breaker.State().String()
}
