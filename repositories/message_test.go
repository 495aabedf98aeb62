package repositories

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"negochat/domain"
	"negochat/errors"
)

func newTestRepository(t *testing.T) *MessageRepository {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() {
		repoCleanup(db)
	})
	repository := NewMessageRepository(db, slog.Default())
	t.Cleanup(repository.Close)
	return repository
}

func repoCleanup(db *badger.DB) {
	_ = db.Close()
}

func Test_Append_Assigns_Strictly_Increasing_Sequence(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)
	key := domain.ConversationKey{CampaignID: 42, ProposalID: 7}

	// Given messages whose client clocks are skewed backwards
	at := time.Now().UTC()
	inputs := []domain.Message{
		{Key: key, SenderID: "influencer-1", RecipientID: "brand-1", Body: "first", CreatedAt: at},
		{Key: key, SenderID: "brand-1", RecipientID: "influencer-1", Body: "second", CreatedAt: at.Add(-time.Hour)},
		{Key: key, SenderID: "influencer-1", RecipientID: "brand-1", Body: "third", CreatedAt: at.Add(-2 * time.Hour)},
	}

	// When they are appended in order
	var lastSeq uint64
	for i, in := range inputs {
		stored, err := repository.Append(in)
		req.NoError(err)
		if i > 0 {
			req.Greater(stored.Seq, lastSeq)
		}
		lastSeq = stored.Seq
	}

	// Then history comes back in append order, not timestamp order
	messages, cursor, err := repository.ListSince(key, nil, 0)
	req.NoError(err)
	req.Nil(cursor)
	req.Len(messages, 3)
	req.Equal("first", messages[0].Body)
	req.Equal("second", messages[1].Body)
	req.Equal("third", messages[2].Body)
}

func Test_Append_Rejects_Empty_Message(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)
	key := domain.ConversationKey{CampaignID: 1, ProposalID: 1}

	_, err := repository.Append(domain.Message{Key: key, SenderID: "a", RecipientID: "b"})
	req.ErrorIs(err, errors.ErrEmptyMessage)

	// And the store was not mutated
	messages, _, err := repository.ListSince(key, nil, 0)
	req.NoError(err)
	req.Empty(messages)
}

func Test_Append_Accepts_Attachment_Only_Message(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)
	key := domain.ConversationKey{CampaignID: 1, ProposalID: 2}

	stored, err := repository.Append(domain.Message{
		Key:         key,
		SenderID:    "influencer-1",
		RecipientID: "brand-1",
		Attachment: &domain.Attachment{
			URL:  "/uploads/rate-card.pdf",
			Name: "rate-card.pdf",
			Kind: domain.AttachmentPDF,
			Size: 52_318,
		},
	})
	req.NoError(err)

	messages, _, err := repository.ListSince(key, nil, 0)
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal(stored.ID, messages[0].ID)
	req.NotNil(messages[0].Attachment)
	req.Equal(domain.AttachmentPDF, messages[0].Attachment.Kind)
	req.Equal(int64(52_318), messages[0].Attachment.Size)
}

func Test_ListSince_Cursor_Pagination_Is_Restartable(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)
	key := domain.ConversationKey{CampaignID: 5, ProposalID: 9}

	for i := 0; i < 5; i++ {
		_, err := repository.Append(domain.Message{
			Key: key, SenderID: "a", RecipientID: "b",
			Body: string(rune('a' + i)),
		})
		req.NoError(err)
	}

	// When paging with a limit of 2
	var collected []domain.Message
	var cursor *string
	pages := 0
	for {
		page, next, err := repository.ListSince(key, cursor, 2)
		req.NoError(err)
		collected = append(collected, page...)
		pages++
		if next == nil {
			break
		}
		cursor = next
	}

	// Then every message arrives exactly once, in order
	req.Len(collected, 5)
	req.Equal(3, pages)
	bodies := lo.Map(collected, func(m domain.Message, _ int) string { return m.Body })
	req.Equal([]string{"a", "b", "c", "d", "e"}, bodies)
}

func Test_ListSince_Isolates_Conversations(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)
	keyA := domain.ConversationKey{CampaignID: 1, ProposalID: 1}
	keyB := domain.ConversationKey{CampaignID: 1, ProposalID: 2}

	_, err := repository.Append(domain.Message{Key: keyA, SenderID: "a", RecipientID: "b", Body: "for A"})
	req.NoError(err)
	_, err = repository.Append(domain.Message{Key: keyB, SenderID: "a", RecipientID: "b", Body: "for B"})
	req.NoError(err)

	messages, _, err := repository.ListSince(keyA, nil, 0)
	req.NoError(err)
	req.Len(messages, 1)
	req.Equal("for A", messages[0].Body)
}

func Test_MarkRead_Is_Recipient_Scoped_And_Idempotent(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)
	key := domain.ConversationKey{CampaignID: 42, ProposalID: 7}

	stored, err := repository.Append(domain.Message{
		Key: key, SenderID: "influencer-1", RecipientID: "brand-1",
		Body: "Interested, can we discuss rate?",
	})
	req.NoError(err)

	// When the sender tries to mark their own message read
	acknowledged, err := repository.MarkRead(key, []uuid.UUID{stored.ID}, "influencer-1")
	req.NoError(err)
	req.Empty(acknowledged)

	messages, _, err := repository.ListSince(key, nil, 0)
	req.NoError(err)
	req.False(messages[0].Read)

	// When the recipient acknowledges, twice
	acknowledged, err = repository.MarkRead(key, []uuid.UUID{stored.ID}, "brand-1")
	req.NoError(err)
	req.Equal([]uuid.UUID{stored.ID}, acknowledged)

	again, err := repository.MarkRead(key, []uuid.UUID{stored.ID}, "brand-1")
	req.NoError(err)
	req.Equal(acknowledged, again)

	// Then the flag is set exactly once
	messages, _, err = repository.ListSince(key, nil, 0)
	req.NoError(err)
	req.True(messages[0].Read)
}

func Test_MarkRead_Skips_Unknown_Ids(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)
	key := domain.ConversationKey{CampaignID: 3, ProposalID: 3}

	acknowledged, err := repository.MarkRead(key, []uuid.UUID{uuid.New()}, "brand-1")
	req.NoError(err)
	req.Empty(acknowledged)
}
