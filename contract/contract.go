//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"negochat/domain"
	"negochat/domain/event"
)

// Worker doesn't protect itself.
// Can be silly, focused.
type Worker interface {
	Run(ctx context.Context) error
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// GetWorkerName uses reflection to retrieve the type name of the worker,
// avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives broadcast events. Implementations decide what to do
// with events they don't understand; returning an error never stops the
// fan-out for other sinks.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Member is one live subscription of a connection to a conversation, as
// seen by the broadcaster.
type Member struct {
	ConnID string
	UserID string
	Sink   EventSink
}

// RoomDirectory is the broadcaster's view of the registry: a consistent
// snapshot of who is in a room at the moment of the call.
type RoomDirectory interface {
	MembersOf(key domain.ConversationKey) []Member
}
