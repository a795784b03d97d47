package cache

import (
	"context"
	"fmt"
	"time"
)

// MutationKind identifies the operation a Mutation applies to the Provider.
type MutationKind string

const (
	MutationJoinChannel  MutationKind = "join_channel"
	MutationLeaveChannel MutationKind = "leave_channel"
	MutationPutUser      MutationKind = "put_user"
	MutationDropUser     MutationKind = "drop_user"
	MutationPutMetadata  MutationKind = "put_metadata"
)

// Mutation is a single write destined for the Provider, applied in the
// order the queue's worker goroutine pulls it off the channel.
type Mutation struct {
	Kind      MutationKind
	ChannelID string
	UserID    string
	Data      any
	ExpiresAt time.Time
	MetaKey   string
	MetaValue any
}

// MutationQueue serializes writes to a Provider through a single worker
// goroutine, so the connection manager's socket loop never blocks on cache
// writes: Enqueue is a non-blocking fire-and-forget send, and Apply is a
// blocking send that waits for the mutation to be processed.
type MutationQueue struct {
	provider *Provider
	ch       chan queuedMutation
}

type queuedMutation struct {
	m     Mutation
	reply chan struct{}
}

// NewMutationQueue creates a MutationQueue bound to provider and starts its
// worker goroutine. bufferSize bounds the async Enqueue channel; a full
// buffer causes Enqueue to drop the mutation (logged by the caller, since
// this package has no logger dependency of its own).
func NewMutationQueue(provider *Provider, bufferSize int) *MutationQueue {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	q := &MutationQueue{provider: provider, ch: make(chan queuedMutation, bufferSize)}
	go q.run()
	return q
}

func (q *MutationQueue) run() {
	for qm := range q.ch {
		q.apply(qm.m)
		if qm.reply != nil {
			close(qm.reply)
		}
	}
}

func (q *MutationQueue) apply(m Mutation) {
	switch m.Kind {
	case MutationJoinChannel:
		q.provider.JoinChannel(m.ChannelID)
	case MutationLeaveChannel:
		q.provider.LeaveChannel(m.ChannelID)
	case MutationPutUser:
		q.provider.PutUser(m.UserID, m.Data, m.ExpiresAt)
	case MutationDropUser:
		q.provider.DropUser(m.UserID)
	case MutationPutMetadata:
		q.provider.PutMetadata(m.MetaKey, m.MetaValue)
	}
}

// Apply submits a mutation and blocks until the worker has processed it, or
// ctx is cancelled.
func (q *MutationQueue) Apply(ctx context.Context, m Mutation) error {
	qm := queuedMutation{m: m, reply: make(chan struct{})}
	select {
	case q.ch <- qm:
	case <-ctx.Done():
		return fmt.Errorf("cache: mutation queue: enqueue: %w", ctx.Err())
	}
	select {
	case <-qm.reply:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cache: mutation queue: await apply: %w", ctx.Err())
	}
}

// Enqueue submits a mutation without waiting for it to be applied. Returns
// false if the queue's buffer is full (the caller decides whether that's
// loggable or fatal).
func (q *MutationQueue) Enqueue(m Mutation) bool {
	select {
	case q.ch <- queuedMutation{m: m}:
		return true
	default:
		return false
	}
}
