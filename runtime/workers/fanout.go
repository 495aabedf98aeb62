package workers

import (
	"context"
	"log/slog"
	"time"

	"negochat/contract"
	"negochat/domain/event"
)

// Fanout is the delivery broadcaster. For every event it resolves the room
// membership once, at the moment of broadcast, and delivers at most once to
// each member present in that snapshot. A member joining right after misses
// the event and reconciles via the history endpoint; there are no retries
// at this layer, durability lives in the store.
//
// Permanent sinks (the search index) receive every event regardless of
// membership.
type Fanout struct {
	log         *slog.Logger
	rooms       contract.RoomDirectory
	permanent   []contract.EventSink
	events      chan event.DomainEvent
	sinkTimeout time.Duration
}

func NewFanout(log *slog.Logger, rooms contract.RoomDirectory,
	permanent []contract.EventSink, events chan event.DomainEvent,
	sinkTimeout time.Duration) *Fanout {
	return &Fanout{
		log:         log,
		rooms:       rooms,
		permanent:   permanent,
		events:      events,
		sinkTimeout: sinkTimeout,
	}
}

func (w *Fanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping fanout")
			return ctx.Err()
		case evt, ok := <-w.events:
			if !ok {
				return nil
			}
			w.Broadcast(ctx, evt)
		}
	}
}

// Broadcast delivers one event to the permanent sinks and the current room
// members. Typing indicators skip the connection that produced them.
func (w *Fanout) Broadcast(ctx context.Context, evt event.DomainEvent) {
	for _, sink := range w.permanent {
		w.consume(ctx, sink, evt)
	}

	originConn := ""
	if typing, ok := evt.(event.TypingChanged); ok {
		originConn = typing.OriginConn
	}

	for _, member := range w.rooms.MembersOf(evt.Conversation()) {
		if originConn != "" && member.ConnID == originConn {
			continue
		}
		w.consume(ctx, member.Sink, evt)
	}
}

func (w *Fanout) consume(ctx context.Context, sink contract.EventSink, evt event.DomainEvent) {
	sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
	defer cancel()
	if err := sink.Consume(sinkCtx, evt); err != nil {
		w.log.Debug("Sink refused event",
			"conversation", evt.Conversation().String(),
			"error", err)
	}
}
