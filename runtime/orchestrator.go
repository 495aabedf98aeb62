// Package runtime wires commands, workers, and broadcast channels. It
// orchestrates the system without containing domain rules.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"negochat/contract"
	"negochat/domain"
	"negochat/domain/event"
	"negochat/moderation"
	"negochat/repositories"
	"negochat/runtime/workers"
)

// Options groups the tunables the orchestrator needs; everything is
// explicit, nothing is read from ambient state.
type Options struct {
	BufferSize     int
	SinkTimeout    time.Duration
	TypingTTL      time.Duration
	ModeratedTerms []string
	Replacement    rune
}

// Orchestrator owns the command pipeline:
//
//	sessions -> raw commands -> moderation -> store (single writer) -> events -> fanout
//	sessions -> typing commands -> typing tracker -> events -> fanout
//
// and the registry consulted by the fanout at broadcast time.
type Orchestrator struct {
	mu             sync.Mutex
	log            *slog.Logger
	opts           Options
	registry       *Registry
	supervisor     contract.ISupervisor
	repository     repositories.IMessageRepository
	permanentSinks []contract.EventSink

	rawCommands    chan domain.Command
	storeCommands  chan domain.Command
	typingCommands chan domain.SetTyping
	events         chan event.DomainEvent
}

func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor,
	registry *Registry, repository repositories.IMessageRepository, opts Options) *Orchestrator {
	return &Orchestrator{
		log:            log,
		opts:           opts,
		registry:       registry,
		supervisor:     supervisor,
		repository:     repository,
		rawCommands:    make(chan domain.Command, opts.BufferSize),
		storeCommands:  make(chan domain.Command, opts.BufferSize),
		typingCommands: make(chan domain.SetTyping, opts.BufferSize),
		events:         make(chan event.DomainEvent, opts.BufferSize),
	}
}

// AddSinks registers permanent sinks that receive every event regardless
// of room membership. Must be called before Start.
func (o *Orchestrator) AddSinks(sinks ...contract.EventSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.permanentSinks = append(o.permanentSinks, sinks...)
}

// Start builds the moderation automaton, registers all workers, and hands
// them to the supervisor. The supervision loop runs in the background
// until the context is canceled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	moderator, err := moderation.NewModerator(o.opts.ModeratedTerms, o.opts.Replacement)
	if err != nil {
		return fmt.Errorf("moderation setup failed: %w", err)
	}

	o.mu.Lock()
	o.supervisor.Add(
		workers.NewModerationWorker(moderator, o.rawCommands, o.storeCommands, o.log),
		workers.NewStoreWorker(o.repository, o.storeCommands, o.events, o.log),
		workers.NewTypingTracker(o.typingCommands, o.events, o.opts.TypingTTL, o.log),
		workers.NewFanout(o.log, o.registry, o.permanentSinks, o.events, o.opts.SinkTimeout),
	)
	o.mu.Unlock()

	o.log.Info("Starting orchestrator and all supervised workers")
	go o.supervisor.Run(ctx)
	return nil
}

// Stop cancels the supervision context; workers drain and exit.
func (o *Orchestrator) Stop() {
	o.log.Info("Requesting orchestrator shutdown")
	o.supervisor.Stop()
}

// Dispatch routes a command to its pipeline. Typing goes straight to the
// tracker; everything else passes through moderation first. A full buffer
// drops the command: messages carry a reply channel whose silence the
// session converts into an error, typing is ephemeral by nature.
func (o *Orchestrator) Dispatch(cmd domain.Command) {
	switch c := cmd.(type) {
	case domain.SetTyping:
		select {
		case o.typingCommands <- c:
		default:
			o.log.Warn("Typing channel full, dropping signal", "conversation", c.Key.String())
		}
	default:
		select {
		case o.rawCommands <- cmd:
		default:
			o.log.Warn("Command channel full, dropping command", "conversation", cmd.Conversation().String())
		}
	}
}

// History reads a page of the conversation log, ascending.
func (o *Orchestrator) History(key domain.ConversationKey, cursor *string, limit int) ([]domain.Message, *string, error) {
	return o.repository.ListSince(key, cursor, limit)
}

// JoinRoom records the membership and announces the join to the room,
// including the joiner. Authorization happened at the transport edge.
func (o *Orchestrator) JoinRoom(connID, userID string, key domain.ConversationKey, sink contract.EventSink) {
	o.registry.Subscribe(connID, userID, key, sink)
	o.emit(event.MemberJoined{Key: key, UserID: userID})
}

// LeaveRoom removes one membership and clears any typing state the user
// left behind.
func (o *Orchestrator) LeaveRoom(connID, userID string, key domain.ConversationKey) {
	o.registry.Unsubscribe(connID, key)
	o.Dispatch(domain.SetTyping{Key: key, UserID: userID, IsTyping: false})
	o.emit(event.MemberLeft{Key: key, UserID: userID})
}

// DropConnection is the teardown path for a dead transport: every
// membership goes away, typing state is reset, departures are announced.
func (o *Orchestrator) DropConnection(connID string) {
	for _, departure := range o.registry.DropConnection(connID) {
		o.Dispatch(domain.SetTyping{Key: departure.Key, UserID: departure.UserID, IsTyping: false})
		o.emit(event.MemberLeft{Key: departure.Key, UserID: departure.UserID})
	}
}

func (o *Orchestrator) emit(e event.DomainEvent) {
	select {
	case o.events <- e:
	default:
		o.log.Warn("Event channel full, dropping membership event",
			"conversation", e.Conversation().String())
	}
}
