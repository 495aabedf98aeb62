package workers

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"negochat/contract"
	"negochat/domain"
	"negochat/domain/event"
)

// staticRooms is a fixed membership snapshot.
type staticRooms map[domain.ConversationKey][]contract.Member

func (r staticRooms) MembersOf(key domain.ConversationKey) []contract.Member {
	return r[key]
}

// memorySink records every event it consumes.
type memorySink struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (s *memorySink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// blockingSink never returns before its context expires.
type blockingSink struct{}

func (blockingSink) Consume(ctx context.Context, _ event.DomainEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

func newFanout(rooms contract.RoomDirectory, permanent ...contract.EventSink) *Fanout {
	return NewFanout(slog.Default(), rooms, permanent, make(chan event.DomainEvent), 100*time.Millisecond)
}

func Test_Broadcast_Reaches_Every_Current_Member(t *testing.T) {
	req := require.New(t)
	key := domain.ConversationKey{CampaignID: 1, ProposalID: 1}

	brand, influencer := &memorySink{}, &memorySink{}
	rooms := staticRooms{key: {
		{ConnID: "c1", UserID: "brand-1", Sink: brand},
		{ConnID: "c2", UserID: "influencer-1", Sink: influencer},
	}}

	fanout := newFanout(rooms)
	fanout.Broadcast(context.Background(), event.MessageStored{Message: domain.Message{Key: key, SenderID: "brand-1", Body: "hi"}})

	// Both members got it exactly once, the sender included
	req.Equal(1, brand.count())
	req.Equal(1, influencer.count())
}

func Test_Broadcast_Uses_Membership_At_Broadcast_Time(t *testing.T) {
	req := require.New(t)
	key := domain.ConversationKey{CampaignID: 1, ProposalID: 1}

	early, late := &memorySink{}, &memorySink{}
	rooms := staticRooms{key: {{ConnID: "c1", UserID: "brand-1", Sink: early}}}

	fanout := newFanout(rooms)
	fanout.Broadcast(context.Background(), event.MemberJoined{Key: key, UserID: "brand-1"})

	// A member added afterwards does not receive past events
	rooms[key] = append(rooms[key], contract.Member{ConnID: "c2", UserID: "influencer-1", Sink: late})
	fanout.Broadcast(context.Background(), event.MemberJoined{Key: key, UserID: "influencer-1"})

	req.Equal(2, early.count())
	req.Equal(1, late.count())
}

func Test_Broadcast_Skips_Typing_Origin(t *testing.T) {
	req := require.New(t)
	key := domain.ConversationKey{CampaignID: 1, ProposalID: 1}

	origin, other := &memorySink{}, &memorySink{}
	rooms := staticRooms{key: {
		{ConnID: "c1", UserID: "brand-1", Sink: origin},
		{ConnID: "c2", UserID: "influencer-1", Sink: other},
	}}

	fanout := newFanout(rooms)
	fanout.Broadcast(context.Background(), event.TypingChanged{
		Key: key, UserID: "brand-1", IsTyping: true, OriginConn: "c1",
	})

	req.Zero(origin.count())
	req.Equal(1, other.count())
}

func Test_Permanent_Sinks_Receive_Events_Without_Membership(t *testing.T) {
	req := require.New(t)
	key := domain.ConversationKey{CampaignID: 1, ProposalID: 1}

	index := &memorySink{}
	fanout := newFanout(staticRooms{}, index)

	// No member in the room at all
	fanout.Broadcast(context.Background(), event.MessageStored{Message: domain.Message{Key: key, Body: "archived"}})

	req.Equal(1, index.count())
}

func Test_Slow_Sink_Cannot_Stall_The_Broadcast(t *testing.T) {
	req := require.New(t)
	key := domain.ConversationKey{CampaignID: 1, ProposalID: 1}

	healthy := &memorySink{}
	rooms := staticRooms{key: {
		{ConnID: "c1", UserID: "brand-1", Sink: blockingSink{}},
		{ConnID: "c2", UserID: "influencer-1", Sink: healthy},
	}}

	fanout := newFanout(rooms)
	done := make(chan struct{})
	go func() {
		fanout.Broadcast(context.Background(), event.MessageStored{Message: domain.Message{Key: key, Body: "hi"}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a dead sink")
	}
	req.Equal(1, healthy.count())
}
