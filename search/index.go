// Package search maintains a full-text index over stored messages. It is
// a permanent fan-out sink: durability still lives in the message store,
// the index can always be rebuilt from it.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/blugelabs/bluge"

	"negochat/domain"
	"negochat/domain/event"
)

type Hit struct {
	MessageID string
	SenderID  string
	Body      string
	Seq       uint64
}

type Index struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewIndex(path string, log *slog.Logger) (*Index, error) {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(path))
	if err != nil {
		return nil, fmt.Errorf("search index unavailable: %w", err)
	}
	return &Index{writer: writer, log: log}, nil
}

func (i *Index) Close() error {
	return i.writer.Close()
}

// Consume indexes stored messages; every other event is ignored.
// Attachment-only messages are skipped, there is nothing to search.
func (i *Index) Consume(_ context.Context, e event.DomainEvent) error {
	stored, ok := e.(event.MessageStored)
	if !ok {
		return nil
	}
	message := stored.Message
	if message.Body == "" {
		return nil
	}

	doc := bluge.NewDocument(message.ID.String()).
		AddField(bluge.NewKeywordField("conversation", message.Key.String())).
		AddField(bluge.NewTextField("body", message.Body).StoreValue()).
		AddField(bluge.NewKeywordField("sender", message.SenderID).StoreValue()).
		AddField(bluge.NewKeywordField("seq", strconv.FormatUint(message.Seq, 10)).StoreValue())

	if err := i.writer.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("index update failed: %w", err)
	}
	return nil
}

// Search runs a full-text query scoped to one conversation and returns at
// most limit hits by relevance.
func (i *Index) Search(ctx context.Context, key domain.ConversationKey, terms string, limit int) ([]Hit, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("index reader unavailable: %w", err)
	}
	defer reader.Close()

	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewTermQuery(key.String()).SetField("conversation")).
		AddMust(bluge.NewMatchQuery(terms).SetField("body"))

	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, query))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var hits []Hit
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}

		var hit Hit
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.MessageID = string(value)
			case "body":
				hit.Body = string(value)
			case "sender":
				hit.SenderID = string(value)
			case "seq":
				hit.Seq, _ = strconv.ParseUint(string(value), 10, 64)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
