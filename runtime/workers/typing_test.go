package workers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"negochat/domain"
	"negochat/domain/event"
)

func startTracker(t *testing.T, ttl time.Duration) (chan domain.SetTyping, chan event.DomainEvent) {
	t.Helper()
	commands := make(chan domain.SetTyping, 16)
	events := make(chan event.DomainEvent, 16)
	tracker := NewTypingTracker(commands, events, ttl, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = tracker.Run(ctx) }()
	return commands, events
}

func nextTyping(t *testing.T, events chan event.DomainEvent, within time.Duration) event.TypingChanged {
	t.Helper()
	select {
	case e := <-events:
		typing, ok := e.(event.TypingChanged)
		require.True(t, ok, "expected TypingChanged, got %T", e)
		return typing
	case <-time.After(within):
		t.Fatal("no typing event within deadline")
		return event.TypingChanged{}
	}
}

func Test_Typing_Start_Is_Broadcast(t *testing.T) {
	req := require.New(t)
	commands, events := startTracker(t, time.Minute)
	key := domain.ConversationKey{CampaignID: 1, ProposalID: 1}

	// When a user starts typing
	commands <- domain.SetTyping{Key: key, UserID: "brand-1", IsTyping: true, OriginConn: "c1"}

	// Then the indicator goes out with its origin attached
	got := nextTyping(t, events, time.Second)
	req.True(got.IsTyping)
	req.Equal("brand-1", got.UserID)
	req.Equal("c1", got.OriginConn)
}

func Test_Typing_Expires_After_Ttl(t *testing.T) {
	req := require.New(t)
	commands, events := startTracker(t, 150*time.Millisecond)
	key := domain.ConversationKey{CampaignID: 1, ProposalID: 1}

	commands <- domain.SetTyping{Key: key, UserID: "brand-1", IsTyping: true}
	start := nextTyping(t, events, time.Second)
	req.True(start.IsTyping)

	// The tracker clears the state by itself once the user goes silent
	stop := nextTyping(t, events, time.Second)
	req.False(stop.IsTyping)
	req.Equal("brand-1", stop.UserID)
	// Auto-clear has no origin; everyone receives it, the typist included
	req.Empty(stop.OriginConn)
}

func Test_Typing_Renewal_Pushes_Expiry_Back(t *testing.T) {
	req := require.New(t)
	commands, events := startTracker(t, 300*time.Millisecond)
	key := domain.ConversationKey{CampaignID: 1, ProposalID: 1}

	// Given a start and a renewal mid-ttl
	commands <- domain.SetTyping{Key: key, UserID: "brand-1", IsTyping: true}
	req.True(nextTyping(t, events, time.Second).IsTyping)

	time.Sleep(200 * time.Millisecond)
	commands <- domain.SetTyping{Key: key, UserID: "brand-1", IsTyping: true}
	req.True(nextTyping(t, events, time.Second).IsTyping)

	// The original deadline passes without a clear
	select {
	case e := <-events:
		typing := e.(event.TypingChanged)
		req.True(typing.IsTyping, "cleared too early, the renewal was ignored")
	case <-time.After(150 * time.Millisecond):
	}

	// The renewed deadline still fires
	stop := nextTyping(t, events, time.Second)
	req.False(stop.IsTyping)
}

func Test_Typing_Explicit_Stop_Clears_Once(t *testing.T) {
	req := require.New(t)
	commands, events := startTracker(t, time.Minute)
	key := domain.ConversationKey{CampaignID: 1, ProposalID: 1}

	commands <- domain.SetTyping{Key: key, UserID: "brand-1", IsTyping: true, OriginConn: "c1"}
	req.True(nextTyping(t, events, time.Second).IsTyping)

	commands <- domain.SetTyping{Key: key, UserID: "brand-1", IsTyping: false, OriginConn: "c1"}
	stop := nextTyping(t, events, time.Second)
	req.False(stop.IsTyping)

	// A second stop for the same user is a no-op
	commands <- domain.SetTyping{Key: key, UserID: "brand-1", IsTyping: false}
	select {
	case e := <-events:
		t.Fatalf("unexpected event %T after redundant stop", e)
	case <-time.After(200 * time.Millisecond):
	}
}

func Test_Typing_State_Is_Scoped_Per_User_And_Conversation(t *testing.T) {
	req := require.New(t)
	commands, events := startTracker(t, time.Minute)
	keyA := domain.ConversationKey{CampaignID: 1, ProposalID: 1}
	keyB := domain.ConversationKey{CampaignID: 1, ProposalID: 2}

	commands <- domain.SetTyping{Key: keyA, UserID: "brand-1", IsTyping: true}
	commands <- domain.SetTyping{Key: keyB, UserID: "brand-1", IsTyping: true}
	req.True(nextTyping(t, events, time.Second).IsTyping)
	req.True(nextTyping(t, events, time.Second).IsTyping)

	// Stopping in one conversation leaves the other alone
	commands <- domain.SetTyping{Key: keyA, UserID: "brand-1", IsTyping: false}
	stop := nextTyping(t, events, time.Second)
	req.Equal(keyA, stop.Key)
	req.False(stop.IsTyping)

	select {
	case e := <-events:
		t.Fatalf("unexpected event %T for the untouched conversation", e)
	case <-time.After(200 * time.Millisecond):
	}
}
