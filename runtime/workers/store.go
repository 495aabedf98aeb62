package workers

import (
	"context"
	"log/slog"

	"negochat/domain"
	"negochat/domain/event"
	"negochat/repositories"
)

// StoreWorker is the single writer of the message log. Running exactly one
// of it linearizes concurrent appends from different senders; the sequence
// a message gets here is its definitive position in the conversation.
type StoreWorker struct {
	repository repositories.IMessageRepository
	commands   chan domain.Command
	events     chan event.DomainEvent
	log        *slog.Logger
}

func NewStoreWorker(repository repositories.IMessageRepository,
	commands chan domain.Command, events chan event.DomainEvent, log *slog.Logger) *StoreWorker {
	return &StoreWorker{repository: repository, commands: commands, events: events, log: log}
}

func (w *StoreWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping store worker")
			return ctx.Err()
		case cmd, ok := <-w.commands:
			if !ok {
				return nil
			}
			switch c := cmd.(type) {
			case domain.PostMessage:
				if err := w.append(ctx, c); err != nil {
					w.log.Error("Append failed",
						"conversation", c.Key.String(),
						"sender", c.SenderID,
						"error", err)
				}
			case domain.MarkRead:
				w.markRead(ctx, c)
			}
		}
	}
}

func (w *StoreWorker) append(ctx context.Context, c domain.PostMessage) error {
	stored, err := w.repository.Append(domain.Message{
		Key:         c.Key,
		SenderID:    c.SenderID,
		RecipientID: c.RecipientID,
		Body:        c.Body,
		Attachment:  c.Attachment,
		CreatedAt:   c.CreatedAt,
		Lang:        c.Lang,
	})
	if c.Reply != nil {
		select {
		case c.Reply <- err:
		default:
			// The session gave up waiting; the outcome is still logged.
		}
	}
	if err != nil {
		return err
	}
	return w.emit(ctx, event.MessageStored{Message: stored})
}

// markRead is fire-and-forget towards the reader: non-honored ids are
// silently skipped, and only an actual store failure is worth logging.
func (w *StoreWorker) markRead(ctx context.Context, c domain.MarkRead) {
	acknowledged, err := w.repository.MarkRead(c.Key, c.MessageIDs, c.ReaderID)
	if err != nil {
		w.log.Error("Mark read failed",
			"conversation", c.Key.String(),
			"reader", c.ReaderID,
			"error", err)
		return
	}
	if len(acknowledged) == 0 {
		return
	}
	if err := w.emit(ctx, event.MessagesRead{
		Key:        c.Key,
		ReaderID:   c.ReaderID,
		MessageIDs: acknowledged,
	}); err != nil {
		w.log.Debug("Read receipt not broadcast, shutting down")
	}
}

func (w *StoreWorker) emit(ctx context.Context, e event.DomainEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.events <- e:
		return nil
	}
}
