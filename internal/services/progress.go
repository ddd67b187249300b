package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/creativable/mailsync/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

const (
	// DefaultProgressCeiling closes a subscription that has seen no terminal event
	DefaultProgressCeiling = 2 * time.Minute

	progressBuffer = 16
)

// ProgressEvent is pushed to subscribers while a sync advances
type ProgressEvent struct {
	RunID       string `json:"run_id,omitempty"`
	Progress    int    `json:"progress"`
	EmailsCount int    `json:"emails_count"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	Synthetic   bool   `json:"synthetic,omitempty"`
}

// Terminal reports whether the event ends a subscription
func (e ProgressEvent) Terminal() bool {
	return e.Error != "" || e.Progress >= 100
}

// CloseCause is why a subscription ended
type CloseCause int

const (
	CauseNone CloseCause = iota
	CauseCompleted
	CauseFailed
	CauseTimeout
	CauseDetached
)

func (c CloseCause) String() string {
	switch c {
	case CauseCompleted:
		return "completed"
	case CauseFailed:
		return "failed"
	case CauseTimeout:
		return "timeout"
	case CauseDetached:
		return "detached"
	default:
		return "open"
	}
}

// Subscription is one consumer's view of progress for a user and folder
type Subscription struct {
	ID  string
	key string

	mu     sync.Mutex
	events chan ProgressEvent
	done   chan struct{}
	closed bool
	cause  CloseCause
	timer  *time.Timer
	owner  *ProgressBroadcaster
}

// Events is closed once the subscription ends
func (s *Subscription) Events() <-chan ProgressEvent { return s.events }

// Done is closed together with Events
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cause returns CauseNone while the subscription is open
func (s *Subscription) Cause() CloseCause {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Cancel detaches the consumer; the sync is unaffected
func (s *Subscription) Cancel() {
	s.close(CauseDetached)
}

func (s *Subscription) deliver(ev ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.events <- ev:
	default:
		if !ev.Terminal() {
			// Slow consumer: intermediate progress is lossy
			return
		}
		select {
		case <-s.events:
		default:
		}
		select {
		case s.events <- ev:
		default:
		}
	}

	if ev.Error != "" {
		s.closeLocked(CauseFailed)
	} else if ev.Progress >= 100 {
		s.closeLocked(CauseCompleted)
	}
}

func (s *Subscription) close(cause CloseCause) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(cause)
}

func (s *Subscription) closeLocked(cause CloseCause) {
	if s.closed {
		return
	}
	s.closed = true
	s.cause = cause
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.events)
	close(s.done)
	s.owner.remove(s)
}

// ProgressBroadcaster fans progress events out to subscribers keyed by user and folder
type ProgressBroadcaster struct {
	mu      sync.Mutex
	subs    map[string]map[string]*Subscription
	ceiling time.Duration
	active  atomic.Int64
}

// NewProgressBroadcaster creates a broadcaster; ceiling <= 0 uses DefaultProgressCeiling
func NewProgressBroadcaster(ceiling time.Duration) *ProgressBroadcaster {
	if ceiling <= 0 {
		ceiling = DefaultProgressCeiling
	}
	return &ProgressBroadcaster{
		subs:    make(map[string]map[string]*Subscription),
		ceiling: ceiling,
	}
}

func progressKey(userID uint, folder string) string {
	return fmt.Sprintf("%d:%s", userID, folder)
}

// Subscribe opens a subscription that ends on completion, error, the ceiling, or ctx cancellation
func (b *ProgressBroadcaster) Subscribe(ctx context.Context, userID uint, folder string) *Subscription {
	sub := &Subscription{
		ID:     uuid.NewString(),
		key:    progressKey(userID, folder),
		events: make(chan ProgressEvent, progressBuffer),
		done:   make(chan struct{}),
		owner:  b,
	}

	b.mu.Lock()
	if b.subs[sub.key] == nil {
		b.subs[sub.key] = make(map[string]*Subscription)
	}
	b.subs[sub.key][sub.ID] = sub
	b.mu.Unlock()
	metrics.SetProgressSubscribers(b.active.Inc())

	sub.mu.Lock()
	sub.timer = time.AfterFunc(b.ceiling, func() { sub.close(CauseTimeout) })
	sub.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.close(CauseDetached)
		case <-sub.done:
		}
	}()

	return sub
}

// Publish delivers ev to every open subscription of the key without blocking
func (b *ProgressBroadcaster) Publish(userID uint, folder string, ev ProgressEvent) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs[progressKey(userID, folder)]))
	for _, sub := range b.subs[progressKey(userID, folder)] {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(ev)
	}
}

// Subscribers returns the number of open subscriptions
func (b *ProgressBroadcaster) Subscribers() int64 {
	return b.active.Load()
}

func (b *ProgressBroadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.subs[sub.key]; ok {
		if _, ok := m[sub.ID]; ok {
			delete(m, sub.ID)
			metrics.SetProgressSubscribers(b.active.Dec())
		}
		if len(m) == 0 {
			delete(b.subs, sub.key)
		}
	}
}
