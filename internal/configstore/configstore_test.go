package configstore

import (
	"sync"
	"testing"

	"github.com/slackcore/runtime/internal/config"
)

func TestStore_SnapshotReturnsInitial(t *testing.T) {
	s := New(config.Config{AppToken: "a", BotToken: "b", InstanceName: "one"})
	got := s.Snapshot()
	if got.InstanceName != "one" {
		t.Fatalf("InstanceName = %q, want one", got.InstanceName)
	}
}

func TestStore_ReloadSwapsAtomically(t *testing.T) {
	s := New(config.Config{AppToken: "a", BotToken: "b", InstanceName: "one"})
	if err := s.Reload(config.Config{AppToken: "a", BotToken: "b", InstanceName: "two"}); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := s.Snapshot().InstanceName; got != "two" {
		t.Fatalf("InstanceName after reload = %q, want two", got)
	}
}

func TestStore_ReloadRejectsInvalid_KeepsOldSnapshot(t *testing.T) {
	s := New(config.Config{AppToken: "a", BotToken: "b", InstanceName: "one"})
	err := s.Reload(config.Config{InstanceName: "bad"})
	if err == nil {
		t.Fatal("expected error for missing tokens")
	}
	if got := s.Snapshot().InstanceName; got != "one" {
		t.Fatalf("snapshot should be unchanged, got InstanceName = %q", got)
	}
}

func TestStore_ConcurrentReadsDuringReload(t *testing.T) {
	s := New(config.Config{AppToken: "a", BotToken: "b", InstanceName: "start"})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Reload(config.Config{AppToken: "a", BotToken: "b", InstanceName: "end"})
	}()
	wg.Wait()
}
