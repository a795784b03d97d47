// Package cache holds the workspace users/channels snapshot: a Provider
// guarding the in-memory state, a MutationQueue serializing writes against
// it, and background sync workers that page through Slack's users/channels
// APIs to keep the snapshot warm.
package cache

import (
	"sync"
	"time"
)

// UserEntry is a cached user record with its own expiry, independent of the
// channels set.
type UserEntry struct {
	Data      any
	ExpiresAt time.Time
}

// Provider owns the cache's in-memory state: the channel membership set,
// the user map, and free-form metadata. All mutation goes through the
// MutationQueue; Provider itself only guarantees single-goroutine-safe
// reads and writes via its mutex — callers needing ordering across
// concurrent writers use the queue, not Provider directly.
type Provider struct {
	mu       sync.Mutex
	channels map[string]struct{}
	users    map[string]UserEntry
	metadata map[string]any
	now      func() time.Time
}

// NewProvider creates an empty Provider.
func NewProvider(now func() time.Time) *Provider {
	if now == nil {
		now = time.Now
	}
	return &Provider{
		channels: make(map[string]struct{}),
		users:    make(map[string]UserEntry),
		metadata: make(map[string]any),
		now:      now,
	}
}

// JoinChannel records that the bot is a member of channelID. Idempotent.
func (p *Provider) JoinChannel(channelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[channelID] = struct{}{}
}

// LeaveChannel removes channelID from the membership set. Idempotent.
func (p *Provider) LeaveChannel(channelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.channels, channelID)
}

// PutUser upserts a user record with an absolute expiry.
func (p *Provider) PutUser(userID string, data any, expiresAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[userID] = UserEntry{Data: data, ExpiresAt: expiresAt}
}

// DropUser removes a user record outright (e.g. on team_leave).
func (p *Provider) DropUser(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, userID)
}

// PutMetadata upserts a free-form metadata entry.
func (p *Provider) PutMetadata(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metadata[key] = value
}

// Channels returns a snapshot of the current membership set.
func (p *Provider) Channels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.channels))
	for id := range p.channels {
		out = append(out, id)
	}
	return out
}

// Users returns a snapshot of all non-expired user records, pruning expired
// ones inline.
func (p *Provider) Users() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	out := make(map[string]any, len(p.users))
	for id, entry := range p.users {
		if now.After(entry.ExpiresAt) {
			delete(p.users, id)
			continue
		}
		out[id] = entry.Data
	}
	return out
}

// UserEntry returns a single user's data, applying the same expiry pruning
// as Users.
func (p *Provider) UserEntry(userID string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.users[userID]
	if !ok {
		return nil, false
	}
	if p.now().After(entry.ExpiresAt) {
		delete(p.users, userID)
		return nil, false
	}
	return entry.Data, true
}

// Metadata returns a snapshot of the free-form metadata map.
func (p *Provider) Metadata() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]any, len(p.metadata))
	for k, v := range p.metadata {
		out[k] = v
	}
	return out
}
