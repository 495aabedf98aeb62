package runtime

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"negochat/domain"
	"negochat/domain/event"
)

type nopSink struct{ name string }

func (s *nopSink) Consume(_ context.Context, _ event.DomainEvent) error { return nil }

func Test_Subscribe_One_Room_One_Connection(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	connID := uuid.NewString()
	key := domain.ConversationKey{CampaignID: 42, ProposalID: 7}
	sink := &nopSink{}

	// Given no connection is registered
	req.Empty(registry.Sessions)
	req.Empty(registry.RoomMembers)

	// When a connection joins the room
	registry.Subscribe(connID, "influencer-1", key, sink)

	// Then the membership and the sink are recorded
	req.Len(registry.Sessions, 1)
	members := registry.MembersOf(key)
	req.Len(members, 1)
	req.Equal("influencer-1", members[0].UserID)
	req.Same(sink, members[0].Sink.(*nopSink))
}

func Test_Subscribe_Twice_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	connID := uuid.NewString()
	key := domain.ConversationKey{CampaignID: 42, ProposalID: 7}
	sink := &nopSink{}

	// When the same connection joins the same room twice
	registry.Subscribe(connID, "influencer-1", key, sink)
	registry.Subscribe(connID, "influencer-1", key, sink)

	// Then exactly one membership entry exists
	req.Len(registry.MembersOf(key), 1)
	req.Len(registry.RoomMembers[key], 1)
}

func Test_Unsubscribe_Removes_Empty_Room(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	connID := uuid.NewString()
	key := domain.ConversationKey{CampaignID: 1, ProposalID: 2}

	registry.Subscribe(connID, "brand-1", key, &nopSink{})

	// When the only member leaves
	registry.Unsubscribe(connID, key)

	// Then the room entry is gone entirely
	req.Empty(registry.RoomMembers)
	req.Nil(registry.MembersOf(key))
}

func Test_DropConnection_Removes_All_Memberships(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	connID := uuid.NewString()
	other := uuid.NewString()
	keyA := domain.ConversationKey{CampaignID: 1, ProposalID: 1}
	keyB := domain.ConversationKey{CampaignID: 1, ProposalID: 2}

	// Given one connection in two rooms and another connection in one
	registry.Subscribe(connID, "brand-1", keyA, &nopSink{})
	registry.Subscribe(connID, "brand-1", keyB, &nopSink{})
	registry.Subscribe(other, "influencer-1", keyA, &nopSink{})

	// When the first connection is torn down
	dropped := registry.DropConnection(connID)

	// Then both of its memberships are reported and removed
	req.Len(dropped, 2)
	req.Len(registry.MembersOf(keyA), 1)
	req.Equal("influencer-1", registry.MembersOf(keyA)[0].UserID)
	req.Nil(registry.MembersOf(keyB))
	req.NotContains(registry.Sessions, connID)
}

func Test_MembersOf_Returns_A_Snapshot(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	connID := uuid.NewString()
	key := domain.ConversationKey{CampaignID: 9, ProposalID: 9}

	registry.Subscribe(connID, "brand-1", key, &nopSink{})
	snapshot := registry.MembersOf(key)

	// When the membership changes after the snapshot was taken
	registry.Unsubscribe(connID, key)

	// Then the snapshot is unaffected
	req.Len(snapshot, 1)
	req.Nil(registry.MembersOf(key))
}
