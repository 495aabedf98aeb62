package runtime

import (
	"sync"

	"negochat/contract"
	"negochat/domain"
)

// Registry maps conversation keys to the connections currently joined.
// Membership is ephemeral: it exists only while the transport session
// lives, and a reconnect requires an explicit re-join.
type Registry struct {
	mu sync.RWMutex
	// Sessions maps a connection id to its delivery sink.
	Sessions map[string]contract.EventSink
	// RoomMembers maps a conversation key to connID -> userID.
	RoomMembers map[domain.ConversationKey]map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		Sessions:    make(map[string]contract.EventSink),
		RoomMembers: make(map[domain.ConversationKey]map[string]string),
	}
}

// Subscribe records a membership. Joining twice with the same connection
// and key is a no-op.
func (r *Registry) Subscribe(connID, userID string, key domain.ConversationKey, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Sessions[connID] = sink
	if _, ok := r.RoomMembers[key]; !ok {
		r.RoomMembers[key] = make(map[string]string)
	}
	r.RoomMembers[key][connID] = userID
}

// Unsubscribe removes one membership. Empty rooms are dropped entirely so
// the map doesn't accumulate dead conversation keys.
func (r *Registry) Unsubscribe(connID string, key domain.ConversationKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(connID, key)
}

// Departure describes one membership removed by DropConnection.
type Departure struct {
	Key    domain.ConversationKey
	UserID string
}

// DropConnection removes every membership held by a connection, typically
// on transport teardown, and returns what was removed so the caller can
// announce the departures. No dangling membership survives a dead
// connection.
func (r *Registry) DropConnection(connID string) []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []Departure
	for key, members := range r.RoomMembers {
		if userID, ok := members[connID]; ok {
			dropped = append(dropped, Departure{Key: key, UserID: userID})
			r.removeLocked(connID, key)
		}
	}
	delete(r.Sessions, connID)
	return dropped
}

// MembersOf returns a snapshot of the room at the moment of the call.
// Mutations after the snapshot affect the next broadcast, never one
// already in flight.
func (r *Registry) MembersOf(key domain.ConversationKey) []contract.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.RoomMembers[key]
	if !ok {
		return nil
	}
	snapshot := make([]contract.Member, 0, len(members))
	for connID, userID := range members {
		sink, exists := r.Sessions[connID]
		if !exists {
			continue
		}
		snapshot = append(snapshot, contract.Member{ConnID: connID, UserID: userID, Sink: sink})
	}
	return snapshot
}

func (r *Registry) removeLocked(connID string, key domain.ConversationKey) {
	if members, ok := r.RoomMembers[key]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.RoomMembers, key)
		}
	}
}
