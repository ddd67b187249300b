package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ThrottleGate keeps short-lived timestamp windows per key.
// Fetch dispatches use Admit, the folder catalog uses Stamp/Active for its cooldown.
type ThrottleGate interface {
	// Admit stamps key for window and returns true, unless a window is already open
	Admit(ctx context.Context, key string, window time.Duration) (bool, error)
	// Stamp opens a window for key regardless of its current state
	Stamp(ctx context.Context, key string, window time.Duration) error
	// Active reports whether a window is open for key
	Active(ctx context.Context, key string) (bool, error)
	// Clear drops every window whose key starts with prefix
	Clear(ctx context.Context, prefix string) error
}

// Latch is a non-blocking mutual exclusion per key
type Latch interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
	Held(ctx context.Context, key string) (bool, error)
}

func fetchKey(userID uint, folder string) string {
	return fmt.Sprintf("fetch:%d:%s", userID, folder)
}

func fetchUserPrefix(userID uint) string {
	return fmt.Sprintf("fetch:%d:", userID)
}

func catalogKey(userID uint) string {
	return fmt.Sprintf("catalog:%d:folders", userID)
}

func catalogUserPrefix(userID uint) string {
	return fmt.Sprintf("catalog:%d:", userID)
}

func syncKey(userID uint, folder string) string {
	return fmt.Sprintf("sync:%d:%s", userID, folder)
}

// MemoryGate is the in-process ThrottleGate
type MemoryGate struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewMemoryGate creates an empty in-process gate
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (g *MemoryGate) Admit(_ context.Context, key string, window time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if until, ok := g.until[key]; ok && now.Before(until) {
		return false, nil
	}
	if window > 0 {
		g.until[key] = now.Add(window)
	}
	return true, nil
}

func (g *MemoryGate) Stamp(_ context.Context, key string, window time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if window <= 0 {
		delete(g.until, key)
		return nil
	}
	g.until[key] = g.now().Add(window)
	return nil
}

func (g *MemoryGate) Active(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.until[key]
	if !ok {
		return false, nil
	}
	if !g.now().Before(until) {
		delete(g.until, key)
		return false, nil
	}
	return true, nil
}

func (g *MemoryGate) Clear(_ context.Context, prefix string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.until {
		if strings.HasPrefix(key, prefix) {
			delete(g.until, key)
		}
	}
	return nil
}

// MemoryLatch is the in-process Latch
type MemoryLatch struct {
	held sync.Map
}

// NewMemoryLatch creates an empty in-process latch set
func NewMemoryLatch() *MemoryLatch {
	return &MemoryLatch{}
}

func (l *MemoryLatch) TryAcquire(_ context.Context, key string) (bool, error) {
	_, loaded := l.held.LoadOrStore(key, true)
	return !loaded, nil
}

func (l *MemoryLatch) Release(_ context.Context, key string) error {
	l.held.Delete(key)
	return nil
}

func (l *MemoryLatch) Held(_ context.Context, key string) (bool, error) {
	_, ok := l.held.Load(key)
	return ok, nil
}
