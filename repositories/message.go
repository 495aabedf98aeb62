//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"negochat/domain"
)

// seqBandwidth is how many sequence numbers badger leases per conversation
// at a time. Gaps after a crash are fine: ordering matters, density doesn't.
const seqBandwidth = 128

type IMessageRepository interface {
	Append(message domain.Message) (domain.Message, error)
	ListSince(key domain.ConversationKey, cursor *string, limit int) ([]domain.Message, *string, error)
	MarkRead(key domain.ConversationKey, ids []uuid.UUID, readerID string) ([]uuid.UUID, error)
}

// MessageRepository persists the ordered message log in BadgerDB.
//
// Primary keys are formatted as "msg:{campaign}:{proposal}:{seq_padded}":
//  1. The 19-digit zero padding makes lexicographic order equal append order.
//  2. The sequence comes from a per-conversation badger Sequence, so order
//     is independent of client-supplied timestamps (clock skew cannot
//     reorder history).
//
// A secondary index "idx:{campaign}:{proposal}:{uuid}" resolves message ids
// to primary keys for read receipts.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger

	mu        sync.Mutex
	sequences map[domain.ConversationKey]*badger.Sequence
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{
		db:        db,
		log:       log,
		sequences: make(map[domain.ConversationKey]*badger.Sequence),
	}
}

// Close releases leased sequence ranges back to badger.
func (m *MessageRepository) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, seq := range m.sequences {
		if err := seq.Release(); err != nil {
			m.log.Warn("Failed to release sequence", "conversation", key.String(), "error", err)
		}
	}
	m.sequences = make(map[domain.ConversationKey]*badger.Sequence)
}

type storedMessage struct {
	ID          string `json:"id"`
	CampaignID  int    `json:"campaign_id"`
	ProposalID  int    `json:"proposal_id"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Message     string `json:"message"`
	Seq         uint64 `json:"seq"`
	Timestamp   int64  `json:"timestamp"`
	Read        bool   `json:"read"`
	Lang        string `json:"lang,omitempty"`
	FileURL     string `json:"file_url,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	FileType    string `json:"file_type,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
}

// Append validates the message, assigns its id and definitive sequence
// number, and persists it together with the id index entry in one
// transaction. The returned message is the persisted form.
func (m *MessageRepository) Append(message domain.Message) (domain.Message, error) {
	if err := message.Validate(); err != nil {
		return domain.Message{}, err
	}

	seq, err := m.nextSeq(message.Key)
	if err != nil {
		return domain.Message{}, fmt.Errorf("sequence allocation failed: %w", err)
	}

	message.ID = uuid.New()
	message.Seq = seq
	message.Read = false
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	value, err := json.Marshal(fromDomain(message))
	if err != nil {
		return domain.Message{}, err
	}

	primary := primaryKey(message.Key, seq)
	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(primary, value); err != nil {
			return err
		}
		return txn.Set(indexKey(message.Key, message.ID), primary)
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("message append failed: %w", err)
	}
	return message, nil
}

// ListSince walks a conversation in ascending append order, starting just
// after the cursor (or from the beginning when nil). It returns at most
// limit messages and the cursor to resume from, nil when the log is
// exhausted.
func (m *MessageRepository) ListSince(key domain.ConversationKey, cursor *string, limit int) ([]domain.Message, *string, error) {
	var values [][]byte
	var lastSeq string
	more := false

	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("msg:%d:%d:", key.CampaignID, key.ProposalID))
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := prefix
		if cursor != nil {
			after, err := strconv.ParseUint(*cursor, 10, 64)
			if err != nil {
				return fmt.Errorf("malformed cursor %q: %w", *cursor, err)
			}
			seekKey = primaryKey(key, after+1)
		}

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(values) == limit {
				more = true
				break
			}
			item := it.Item()
			lastSeq = string(item.Key()[len(prefix):])
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, value)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("history read failed: %w", err)
	}

	messages := make([]domain.Message, 0, len(values))
	for _, value := range values {
		var stored storedMessage
		if err := json.Unmarshal(value, &stored); err != nil {
			return nil, nil, err
		}
		message, err := toDomain(stored)
		if err != nil {
			return nil, nil, err
		}
		messages = append(messages, message)
	}

	if !more {
		return messages, nil, nil
	}
	return messages, lo.ToPtr(lastSeq), nil
}

// MarkRead flips the read flag of the given messages on behalf of readerID.
// Only messages addressed to the reader are honored; marking a message the
// reader sent themselves is silently skipped, never an error. The call is
// idempotent: re-acknowledging already-read messages returns them again
// without changing stored state.
func (m *MessageRepository) MarkRead(key domain.ConversationKey, ids []uuid.UUID, readerID string) ([]uuid.UUID, error) {
	var acknowledged []uuid.UUID
	err := m.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(indexKey(key, id))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			primary, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			record, err := txn.Get(primary)
			if err != nil {
				return err
			}
			var stored storedMessage
			if err := record.Value(func(value []byte) error {
				return json.Unmarshal(value, &stored)
			}); err != nil {
				return err
			}

			if stored.RecipientID != readerID {
				continue
			}
			acknowledged = append(acknowledged, id)
			if stored.Read {
				continue
			}
			stored.Read = true
			value, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			if err := txn.Set(primary, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark read failed: %w", err)
	}
	return acknowledged, nil
}

func (m *MessageRepository) nextSeq(key domain.ConversationKey) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.sequences[key]
	if !ok {
		var err error
		seqKey := []byte(fmt.Sprintf("seq:%d:%d", key.CampaignID, key.ProposalID))
		seq, err = m.db.GetSequence(seqKey, seqBandwidth)
		if err != nil {
			return 0, err
		}
		m.sequences[key] = seq
	}
	return seq.Next()
}

func primaryKey(key domain.ConversationKey, seq uint64) []byte {
	return []byte(fmt.Sprintf("msg:%d:%d:%019d", key.CampaignID, key.ProposalID, seq))
}

func indexKey(key domain.ConversationKey, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("idx:%d:%d:%s", key.CampaignID, key.ProposalID, id))
}

func fromDomain(message domain.Message) storedMessage {
	stored := storedMessage{
		ID:          message.ID.String(),
		CampaignID:  message.Key.CampaignID,
		ProposalID:  message.Key.ProposalID,
		SenderID:    message.SenderID,
		RecipientID: message.RecipientID,
		Message:     message.Body,
		Seq:         message.Seq,
		Timestamp:   message.CreatedAt.UnixNano(),
		Read:        message.Read,
		Lang:        message.Lang,
	}
	if message.Attachment != nil {
		stored.FileURL = message.Attachment.URL
		stored.FileName = message.Attachment.Name
		stored.FileType = string(message.Attachment.Kind)
		stored.FileSize = message.Attachment.Size
	}
	return stored
}

func toDomain(stored storedMessage) (domain.Message, error) {
	parsedID, err := uuid.Parse(stored.ID)
	if err != nil {
		return domain.Message{}, err
	}
	message := domain.Message{
		ID:          parsedID,
		Key:         domain.ConversationKey{CampaignID: stored.CampaignID, ProposalID: stored.ProposalID},
		SenderID:    stored.SenderID,
		RecipientID: stored.RecipientID,
		Body:        stored.Message,
		Seq:         stored.Seq,
		CreatedAt:   time.Unix(0, stored.Timestamp).UTC(),
		Read:        stored.Read,
		Lang:        stored.Lang,
	}
	if stored.FileURL != "" {
		message.Attachment = &domain.Attachment{
			URL:  stored.FileURL,
			Name: stored.FileName,
			Kind: domain.AttachmentKind(stored.FileType),
			Size: stored.FileSize,
		}
	}
	return message, nil
}
