package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestLimiter_SerializesSameKey(t *testing.T) {
	l := New(Opts{
		TierRates: map[Tier]rate.Limit{Tier4: rate.Inf},
		TierBurst: map[Tier]int{Tier4: 1000},
	})
	ctx := context.Background()

	var active int32
	var maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "shared-key", Tier4)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("max concurrent holders of same key = %d, want 1", maxActive)
	}
}

func TestLimiter_SameKeyCompletesInArrivalOrder(t *testing.T) {
	l := New(Opts{
		TierRates: map[Tier]rate.Limit{Tier4: rate.Inf},
		TierBurst: map[Tier]int{Tier4: 1000},
	})
	ctx := context.Background()

	// Hold the key so every subsequent Acquire queues up behind it on
	// ks.sem. Goroutines are spawned one at a time with a pause long enough
	// for each to reach its blocking receive before the next is started, so
	// spawn order is wait-queue order.
	first, err := l.Acquire(ctx, "fifo-key", Tier4)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	const waiters = 8
	var order []int
	var orderMu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			release, err := l.Acquire(ctx, "fifo-key", Tier4)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			orderMu.Lock()
			order = append(order, i)
			orderMu.Unlock()
			release()
		}(i)
		time.Sleep(5 * time.Millisecond)
	}

	first()
	wg.Wait()

	orderMu.Lock()
	defer orderMu.Unlock()
	if len(order) != waiters {
		t.Fatalf("got %d completions, want %d", len(order), waiters)
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("completion order = %v, want strictly arrival order 0..%d", order, waiters-1)
		}
	}
}

func TestLimiter_DoesNotSerializeDifferentKeys(t *testing.T) {
	l := New(Opts{
		TierRates: map[Tier]rate.Limit{Tier4: rate.Inf},
		TierBurst: map[Tier]int{Tier4: 1000},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 5; i++ {
		wg.Add(1)
		key := string(rune('a' + i))
		go func(key string) {
			defer wg.Done()
			release, err := l.Acquire(ctx, key, Tier4)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			time.Sleep(30 * time.Millisecond)
			release()
		}(key)
	}
	wg.Wait()
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("distinct keys took %v, want roughly parallel (<100ms)", elapsed)
	}
}

func TestLimiter_UnknownTierErrors(t *testing.T) {
	l := New(Opts{})
	_, err := l.Acquire(context.Background(), "k", Tier("bogus"))
	if err == nil {
		t.Fatal("Acquire with unknown tier = nil error, want error")
	}
}

func TestLimiter_ContextCancelDuringWait(t *testing.T) {
	l := New(Opts{
		TierRates: map[Tier]rate.Limit{Tier1: 0},
		TierBurst: map[Tier]int{Tier1: 0},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := l.Acquire(ctx, "k", Tier1)
	if err == nil {
		t.Fatal("Acquire with exhausted bucket and cancelled context = nil error, want error")
	}
}

func TestMethodTier_KnownAndDefault(t *testing.T) {
	if tier := MethodTier("chat.postMessage"); tier != TierPost {
		t.Fatalf("MethodTier(chat.postMessage) = %v, want %v", tier, TierPost)
	}
	if tier := MethodTier("some.unlisted.method"); tier != Tier3 {
		t.Fatalf("MethodTier(unlisted) = %v, want Tier3 default", tier)
	}
}

func TestLimiter_KeyMapDoesNotLeak(t *testing.T) {
	l := New(Opts{
		TierRates: map[Tier]rate.Limit{Tier4: rate.Inf},
		TierBurst: map[Tier]int{Tier4: 1000},
	})
	ctx := context.Background()
	release, err := l.Acquire(ctx, "ephemeral", Tier4)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()

	l.mu.Lock()
	_, stillThere := l.keys["ephemeral"]
	l.mu.Unlock()
	if stillThere {
		t.Fatal("key entry still present after release with no other holders")
	}
}

func TestLimiter_SuspendKeyBlocksSubsequentAcquire(t *testing.T) {
	l := New(Opts{
		TierRates: map[Tier]rate.Limit{Tier4: rate.Inf},
		TierBurst: map[Tier]int{Tier4: 1000},
	})
	ctx := context.Background()

	release, err := l.Acquire(ctx, "rl-key", Tier4)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l.SuspendKey("rl-key", 40*time.Millisecond)
	release()

	start := time.Now()
	release2, err := l.Acquire(ctx, "rl-key", Tier4)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	release2()
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("second Acquire returned after %v, want >= ~40ms suspension", elapsed)
	}
}

func TestLimiter_SuspendTierBlocksAllKeys(t *testing.T) {
	l := New(Opts{
		TierRates: map[Tier]rate.Limit{Tier4: rate.Inf},
		TierBurst: map[Tier]int{Tier4: 1000},
	})
	ctx := context.Background()
	l.SuspendTier(Tier4, 40*time.Millisecond)

	start := time.Now()
	release, err := l.Acquire(ctx, "any-key", Tier4)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("Acquire returned after %v, want >= ~40ms suspension", elapsed)
	}
}
