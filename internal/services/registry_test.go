package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryGateWindow(t *testing.T) {
	g := NewMemoryGate()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := g.Admit(ctx, "fetch:1:INBOX", 15*time.Second); !ok {
		t.Fatal("First admit should pass")
	}
	now = now.Add(10 * time.Second)
	if ok, _ := g.Admit(ctx, "fetch:1:INBOX", 15*time.Second); ok {
		t.Fatal("Admit inside the window should be rejected")
	}
	// A rejected call does not extend the window
	now = now.Add(6 * time.Second)
	if ok, _ := g.Admit(ctx, "fetch:1:INBOX", 15*time.Second); !ok {
		t.Error("Admit after the original window should pass")
	}
}

func TestMemoryGateStampActiveClear(t *testing.T) {
	g := NewMemoryGate()
	ctx := context.Background()

	_ = g.Stamp(ctx, catalogKey(1), time.Minute)
	_ = g.Stamp(ctx, fetchKey(1, "INBOX"), time.Minute)
	_ = g.Stamp(ctx, fetchKey(12, "INBOX"), time.Minute)

	if active, _ := g.Active(ctx, catalogKey(1)); !active {
		t.Error("Stamped key should be active")
	}
	_ = g.Clear(ctx, fetchUserPrefix(1))
	if active, _ := g.Active(ctx, fetchKey(1, "INBOX")); active {
		t.Error("Cleared key should be inactive")
	}
	if active, _ := g.Active(ctx, fetchKey(12, "INBOX")); !active {
		t.Error("Clear must not touch other users sharing a numeric prefix")
	}
	if active, _ := g.Active(ctx, catalogKey(1)); !active {
		t.Error("Clear must not touch other key families")
	}
}

func TestMemoryLatch(t *testing.T) {
	l := NewMemoryLatch()
	ctx := context.Background()

	if ok, _ := l.TryAcquire(ctx, "k"); !ok {
		t.Fatal("First acquire should succeed")
	}
	if ok, _ := l.TryAcquire(ctx, "k"); ok {
		t.Fatal("Second acquire should fail while held")
	}
	if held, _ := l.Held(ctx, "k"); !held {
		t.Error("Latch should report held")
	}
	_ = l.Release(ctx, "k")
	if ok, _ := l.TryAcquire(ctx, "k"); !ok {
		t.Error("Acquire after release should succeed")
	}
}

func TestRedisGateAndLatch(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := NewRedisClient(mr.Addr(), "", 0)
	defer rdb.Close()
	ctx := context.Background()

	g := NewRedisGate(rdb, "mailsync:gate:")
	if ok, err := g.Admit(ctx, fetchKey(1, "INBOX"), 15*time.Second); err != nil || !ok {
		t.Fatalf("First admit should pass: ok=%v err=%v", ok, err)
	}
	if ok, _ := g.Admit(ctx, fetchKey(1, "INBOX"), 15*time.Second); ok {
		t.Fatal("Admit inside the window should be rejected")
	}
	mr.FastForward(16 * time.Second)
	if ok, _ := g.Admit(ctx, fetchKey(1, "INBOX"), 15*time.Second); !ok {
		t.Error("Admit after expiry should pass")
	}

	_ = g.Stamp(ctx, catalogKey(1), time.Minute)
	if active, _ := g.Active(ctx, catalogKey(1)); !active {
		t.Error("Stamped catalog key should be active")
	}
	if err := g.Clear(ctx, catalogUserPrefix(1)); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if active, _ := g.Active(ctx, catalogKey(1)); active {
		t.Error("Cleared catalog key should be inactive")
	}
	if active, _ := g.Active(ctx, fetchKey(1, "INBOX")); !active {
		t.Error("Clear must only drop the given prefix")
	}

	l := NewRedisLatch(rdb, "mailsync:latch:", time.Minute)
	if ok, _ := l.TryAcquire(ctx, syncKey(1, "INBOX")); !ok {
		t.Fatal("First acquire should succeed")
	}
	// A second instance sharing the store sees the latch
	other := NewRedisLatch(NewRedisClient(mr.Addr(), "", 0), "mailsync:latch:", time.Minute)
	if ok, _ := other.TryAcquire(ctx, syncKey(1, "INBOX")); ok {
		t.Fatal("Latch should be shared across instances")
	}
	_ = l.Release(ctx, syncKey(1, "INBOX"))
	if held, _ := other.Held(ctx, syncKey(1, "INBOX")); held {
		t.Error("Released latch should not be held")
	}

	// A crashed holder's latch expires
	_, _ = l.TryAcquire(ctx, syncKey(2, "INBOX"))
	mr.FastForward(2 * time.Minute)
	if ok, _ := other.TryAcquire(ctx, syncKey(2, "INBOX")); !ok {
		t.Error("Expired latch should be acquirable")
	}
}

func TestRedisLatchReleaseKeepsSuccessor(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	key := syncKey(3, "INBOX")

	first := NewRedisLatch(NewRedisClient(mr.Addr(), "", 0), "mailsync:latch:", time.Minute)
	second := NewRedisLatch(NewRedisClient(mr.Addr(), "", 0), "mailsync:latch:", time.Minute)

	if ok, _ := first.TryAcquire(ctx, key); !ok {
		t.Fatal("First acquire should succeed")
	}
	// The first holder stalls past the TTL and a second instance takes over
	mr.FastForward(2 * time.Minute)
	if ok, _ := second.TryAcquire(ctx, key); !ok {
		t.Fatal("Expired latch should be acquirable")
	}

	if err := first.Release(ctx, key); err != nil {
		t.Fatalf("Stale release failed: %v", err)
	}
	if held, _ := second.Held(ctx, key); !held {
		t.Fatal("A stale holder must not release its successor's latch")
	}
	if ok, _ := first.TryAcquire(ctx, key); ok {
		t.Error("Latch should still belong to the second instance")
	}

	// Releasing a key never acquired is a no-op
	if err := first.Release(ctx, syncKey(4, "INBOX")); err != nil {
		t.Errorf("Release of an unheld key failed: %v", err)
	}

	if err := second.Release(ctx, key); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if held, _ := second.Held(ctx, key); held {
		t.Error("Owner release should drop the latch")
	}
}
