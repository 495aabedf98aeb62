package domain

import (
	"time"

	"github.com/google/uuid"
)

// Command is an intent emitted by a connected session towards the runtime.
type Command interface {
	Conversation() ConversationKey
}

// PostMessage asks the store to append a new message. CreatedAt is the
// client-observed wall clock, kept for display only; ordering comes from
// the sequence assigned at append time.
type PostMessage struct {
	Key         ConversationKey
	SenderID    string
	RecipientID string
	Body        string
	Attachment  *Attachment
	CreatedAt   time.Time
	// Lang is filled in by the moderation stage, never by clients.
	Lang string
	// Reply receives the append outcome exactly once. Buffered by the
	// issuing session; a store failure must reach the caller, silent
	// message loss is not acceptable.
	Reply chan error
}

func (c PostMessage) Conversation() ConversationKey { return c.Key }

// MarkRead acknowledges messages on behalf of ReaderID. Only messages whose
// recipient is the reader are honored; the rest are silently skipped.
type MarkRead struct {
	Key        ConversationKey
	ReaderID   string
	MessageIDs []uuid.UUID
}

func (c MarkRead) Conversation() ConversationKey { return c.Key }

// SetTyping refreshes or clears the ephemeral typing state of one user.
// OriginConn lets the broadcaster skip the connection that produced it.
type SetTyping struct {
	Key        ConversationKey
	UserID     string
	IsTyping   bool
	OriginConn string
}

func (c SetTyping) Conversation() ConversationKey { return c.Key }
