package workers

import (
	"container/heap"
	"context"
	"log/slog"
	"time"

	"negochat/domain"
	"negochat/domain/event"
)

// parkDuration is how long the tracker sleeps when nobody is typing.
const parkDuration = time.Minute

type typingKey struct {
	Key    domain.ConversationKey
	UserID string
}

type typingEntry struct {
	key     typingKey
	expiry  time.Time
	version uint64
}

// expiryHeap orders pending auto-clear deadlines. Renewals don't remove
// the superseded entry; it is dropped lazily when popped with a stale
// version, so a renewal is O(log n) instead of a scan.
type expiryHeap []*typingEntry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].expiry.Before(h[j].expiry) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(*typingEntry)) }
func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// TypingTracker owns the ephemeral per-(conversation, user) typing state.
// A refresh re-broadcasts the indicator and pushes the auto-clear deadline
// back; silence past the TTL broadcasts a clear on the user's behalf, so
// members still converge when the explicit stop signal is lost.
// Nothing here is ever persisted.
type TypingTracker struct {
	log      *slog.Logger
	commands chan domain.SetTyping
	events   chan event.DomainEvent
	ttl      time.Duration

	active  map[typingKey]uint64
	pending expiryHeap
	version uint64
}

func NewTypingTracker(commands chan domain.SetTyping,
	events chan event.DomainEvent, ttl time.Duration, log *slog.Logger) *TypingTracker {
	return &TypingTracker{
		log:      log,
		commands: commands,
		events:   events,
		ttl:      ttl,
		active:   make(map[typingKey]uint64),
	}
}

func (w *TypingTracker) Run(ctx context.Context) error {
	timer := time.NewTimer(parkDuration)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping typing tracker")
			return ctx.Err()
		case cmd, ok := <-w.commands:
			if !ok {
				return nil
			}
			if err := w.handle(ctx, cmd); err != nil {
				return err
			}
		case now := <-timer.C:
			if err := w.expire(ctx, now); err != nil {
				return err
			}
		}
		w.rearm(timer)
	}
}

func (w *TypingTracker) handle(ctx context.Context, cmd domain.SetTyping) error {
	k := typingKey{Key: cmd.Key, UserID: cmd.UserID}

	if !cmd.IsTyping {
		// Explicit stop. Only broadcast when there was state to clear.
		if _, ok := w.active[k]; !ok {
			return nil
		}
		delete(w.active, k)
		return w.emit(ctx, event.TypingChanged{
			Key: cmd.Key, UserID: cmd.UserID, IsTyping: false, OriginConn: cmd.OriginConn,
		})
	}

	// Start or renewal: every signal is re-broadcast so receivers can push
	// their own clear deadline back.
	w.version++
	w.active[k] = w.version
	heap.Push(&w.pending, &typingEntry{key: k, expiry: time.Now().Add(w.ttl), version: w.version})
	return w.emit(ctx, event.TypingChanged{
		Key: cmd.Key, UserID: cmd.UserID, IsTyping: true, OriginConn: cmd.OriginConn,
	})
}

func (w *TypingTracker) expire(ctx context.Context, now time.Time) error {
	for w.pending.Len() > 0 {
		next := w.pending[0]
		if next.expiry.After(now) {
			return nil
		}
		heap.Pop(&w.pending)
		// A stale version means the user renewed since this deadline was set.
		if current, ok := w.active[next.key]; !ok || current != next.version {
			continue
		}
		delete(w.active, next.key)
		if err := w.emit(ctx, event.TypingChanged{
			Key:      next.key.Key,
			UserID:   next.key.UserID,
			IsTyping: false,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (w *TypingTracker) rearm(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	if w.pending.Len() == 0 {
		timer.Reset(parkDuration)
		return
	}
	until := time.Until(w.pending[0].expiry)
	if until < 0 {
		until = 0
	}
	timer.Reset(until)
}

func (w *TypingTracker) emit(ctx context.Context, e event.DomainEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.events <- e:
		return nil
	}
}
