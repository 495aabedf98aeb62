// Package domain contains core concepts of the negotiation chat.
// This file defines Message entities and their invariants.
package domain

import (
	"time"

	"github.com/google/uuid"

	"negochat/errors"
)

// AttachmentKind is a coarse rendering hint derived from file content,
// never from the declared filename.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentPDF   AttachmentKind = "pdf"
	AttachmentOther AttachmentKind = "other"
)

// Attachment is the stable reference returned by the upload handler and
// carried by at most one message.
type Attachment struct {
	URL  string
	Name string
	Kind AttachmentKind
	Size int64
}

// Message is an immutable chat event once stored; only the read flag moves.
// Seq is assigned by the store at append time and is the definitive order
// within a conversation, independent of client clocks.
type Message struct {
	ID          uuid.UUID
	Key         ConversationKey
	SenderID    string
	RecipientID string
	Body        string
	Attachment  *Attachment
	Seq         uint64
	CreatedAt   time.Time
	Read        bool
	Lang        string
}

// Validate enforces the core invariant: a message carries a text body,
// an attachment, or both.
func (m Message) Validate() error {
	if m.Body == "" && m.Attachment == nil {
		return errors.ErrEmptyMessage
	}
	return nil
}
