package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// AckMode selects how a slash command envelope is acknowledged before its
// handler finishes.
type AckMode string

const (
	AckSilent   AckMode = "silent"
	AckEphemeral AckMode = "ephemeral"
	AckCustom   AckMode = "custom"
)

// AckStrategy is the auto-ack behavior applied to a slash command envelope.
// CustomFn is only consulted when Mode is AckCustom.
type AckStrategy struct {
	Mode     AckMode
	Body     string                                      // default body for AckEphemeral
	CustomFn func(ctx context.Context, payload any) (any, error)
	Post     func(ctx context.Context, body any, env Envelope) error // posts the ack body via Web API
}

// AckRegistry maps envelope type (normally just "slash_commands") to its
// configured AckStrategy.
type AckRegistry struct {
	mu         sync.RWMutex
	strategies map[string]AckStrategy
}

// NewAckRegistry creates an empty AckRegistry.
func NewAckRegistry() *AckRegistry {
	return &AckRegistry{strategies: make(map[string]AckStrategy)}
}

// Set registers the ack strategy for envelopeType.
func (r *AckRegistry) Set(envelopeType string, strategy AckStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[envelopeType] = strategy
}

// Apply runs the configured strategy for env.Type, if any.
func (r *AckRegistry) Apply(ctx context.Context, env Envelope) error {
	r.mu.RLock()
	strategy, ok := r.strategies[env.Type]
	r.mu.RUnlock()
	if !ok || strategy.Mode == AckSilent || strategy.Mode == "" {
		return nil
	}

	var body any
	switch strategy.Mode {
	case AckEphemeral:
		body = strategy.Body
	case AckCustom:
		if strategy.CustomFn == nil {
			return fmt.Errorf("pipeline: ack: custom mode with no CustomFn for %q", env.Type)
		}
		b, err := strategy.CustomFn(ctx, env.Payload)
		if err != nil {
			return fmt.Errorf("pipeline: ack: custom fn: %w", err)
		}
		body = b
	default:
		return fmt.Errorf("pipeline: ack: unknown mode %q", strategy.Mode)
	}

	if strategy.Post == nil {
		return nil
	}
	if err := strategy.Post(ctx, body, env); err != nil {
		return fmt.Errorf("pipeline: ack: post: %w", err)
	}
	return nil
}
