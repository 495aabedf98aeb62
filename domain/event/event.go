// Package event defines the facts broadcast to room members after the
// store or the typing tracker accepted a command.
package event

import (
	"github.com/google/uuid"

	"negochat/domain"
)

type DomainEvent interface {
	Conversation() domain.ConversationKey
}

// MessageStored is emitted once per appended message, after moderation
// and sequence assignment. Every current room member receives it,
// including the sender; the sender treats it as the delivery confirmation.
type MessageStored struct {
	Message domain.Message
}

func (e MessageStored) Conversation() domain.ConversationKey { return e.Message.Key }

// MessagesRead carries the ids a recipient acknowledged.
type MessagesRead struct {
	Key        domain.ConversationKey
	ReaderID   string
	MessageIDs []uuid.UUID
}

func (e MessagesRead) Conversation() domain.ConversationKey { return e.Key }

// TypingChanged reflects the ephemeral typing state of one user. Expiry
// in the tracker produces the same event with IsTyping false.
// OriginConn is excluded from the fan-out.
type TypingChanged struct {
	Key        domain.ConversationKey
	UserID     string
	IsTyping   bool
	OriginConn string
}

func (e TypingChanged) Conversation() domain.ConversationKey { return e.Key }

// MemberJoined announces a successful join to the rest of the room.
type MemberJoined struct {
	Key    domain.ConversationKey
	UserID string
}

func (e MemberJoined) Conversation() domain.ConversationKey { return e.Key }

// MemberLeft announces an explicit leave or a connection teardown.
type MemberLeft struct {
	Key    domain.ConversationKey
	UserID string
}

func (e MemberLeft) Conversation() domain.ConversationKey { return e.Key }
