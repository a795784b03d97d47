// Package configstore holds the runtime's live Config snapshot behind an
// atomic pointer, so reads are wait-free and a reload can swap the whole
// snapshot without taking a lock on the read path.
package configstore

import (
	"fmt"
	"sync/atomic"

	"github.com/slackcore/runtime/internal/config"
)

// Store is a read-mostly holder for the active Config. All components read
// through Snapshot() on demand — the core never caches Config fields across
// a suspension point, since Reload can replace the whole snapshot between
// awaits.
type Store struct {
	ptr atomic.Pointer[config.Config]
}

// New creates a Store seeded with the given initial Config.
func New(initial config.Config) *Store {
	s := &Store{}
	s.ptr.Store(&initial)
	return s
}

// Snapshot returns the currently active Config. Wait-free.
func (s *Store) Snapshot() config.Config {
	return *s.ptr.Load()
}

// Reload validates the candidate via Parse-equivalent rules (the caller is
// expected to have already run it through config.Parse, which applies
// defaults and validation) and atomically publishes it. A failed validation
// leaves the previous snapshot untouched.
func (s *Store) Reload(next config.Config) error {
	if next.AppToken == "" || next.BotToken == "" {
		return fmt.Errorf("configstore: reload: app_token and bot_token are required")
	}
	s.ptr.Store(&next)
	return nil
}
