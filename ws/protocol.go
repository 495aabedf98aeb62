package ws

import (
	"time"

	"github.com/go-playground/validator/v10"

	"negochat/domain"
	"negochat/domain/event"
)

// Client commands carried over the socket. The field names are the wire
// contract with the web frontend; do not rename them.
const (
	CmdJoinChat    = "join_chat"
	CmdLeaveChat   = "leave_chat"
	CmdSendMessage = "send_message"
	CmdTyping      = "typing"
	CmdMarkRead    = "mark_read"
)

// Server events.
const (
	EvtConnected    = "connected"
	EvtJoinedChat   = "joined_chat"
	EvtLeftChat     = "left_chat"
	EvtNewMessage   = "new_message"
	EvtUserTyping   = "user_typing"
	EvtMessagesRead = "messages_read"
	EvtUserJoined   = "user_joined"
	EvtUserLeft     = "user_left"
	EvtError        = "error"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Envelope is the single inbound frame shape; Type selects which optional
// fields matter. One shape keeps the frontend decoder trivial.
type Envelope struct {
	Type       string             `json:"type" validate:"required,oneof=join_chat leave_chat send_message typing mark_read"`
	CampaignID int                `json:"campaign_id" validate:"required,min=1"`
	ProposalID int                `json:"proposal_id" validate:"required,min=1"`
	Message    string             `json:"message,omitempty"`
	Attachment *AttachmentPayload `json:"attachment,omitempty"`
	IsTyping   bool               `json:"is_typing,omitempty"`
	MessageIDs []string           `json:"message_ids,omitempty"`
}

func (e Envelope) Validate() error {
	return validate.Struct(e)
}

func (e Envelope) conversation() domain.ConversationKey {
	return domain.ConversationKey{CampaignID: e.CampaignID, ProposalID: e.ProposalID}
}

// AttachmentPayload mirrors domain.Attachment on the wire. Clients echo
// back exactly what the upload endpoint returned.
type AttachmentPayload struct {
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
}

func (a *AttachmentPayload) toDomain() *domain.Attachment {
	if a == nil {
		return nil
	}
	return &domain.Attachment{
		URL:  a.FileURL,
		Name: a.FileName,
		Kind: domain.AttachmentKind(a.FileType),
		Size: a.FileSize,
	}
}

func attachmentPayload(a *domain.Attachment) *AttachmentPayload {
	if a == nil {
		return nil
	}
	return &AttachmentPayload{
		FileURL:  a.URL,
		FileName: a.Name,
		FileType: string(a.Kind),
		FileSize: a.Size,
	}
}

// Frame is the outbound shape shared by every server event.
type Frame struct {
	Type       string          `json:"type"`
	CampaignID int             `json:"campaign_id,omitempty"`
	ProposalID int             `json:"proposal_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	IsTyping   bool            `json:"is_typing,omitempty"`
	MessageIDs []string        `json:"message_ids,omitempty"`
	Message    *MessagePayload `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// MessagePayload is the JSON rendering of one stored message, used by both
// the socket events and the history endpoint.
type MessagePayload struct {
	ID          string `json:"id"`
	CampaignID  int    `json:"campaign_id"`
	ProposalID  int    `json:"proposal_id"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	Seq         uint64 `json:"seq"`
	Read        bool   `json:"read"`
	Lang        string `json:"lang,omitempty"`
	FileURL     string `json:"file_url,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	FileType    string `json:"file_type,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
}

func messagePayload(m domain.Message) *MessagePayload {
	p := &MessagePayload{
		ID:          m.ID.String(),
		CampaignID:  m.Key.CampaignID,
		ProposalID:  m.Key.ProposalID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Message:     m.Body,
		Timestamp:   m.CreatedAt.UTC().Format(time.RFC3339Nano),
		Seq:         m.Seq,
		Read:        m.Read,
		Lang:        m.Lang,
	}
	if m.Attachment != nil {
		p.FileURL = m.Attachment.URL
		p.FileName = m.Attachment.Name
		p.FileType = string(m.Attachment.Kind)
		p.FileSize = m.Attachment.Size
	}
	return p
}

// frameFor renders a domain event as an outbound frame, or nil for events
// this transport does not surface.
func frameFor(e event.DomainEvent) *Frame {
	key := e.Conversation()
	frame := &Frame{CampaignID: key.CampaignID, ProposalID: key.ProposalID}

	switch evt := e.(type) {
	case event.MessageStored:
		frame.Type = EvtNewMessage
		frame.Message = messagePayload(evt.Message)
	case event.MessagesRead:
		frame.Type = EvtMessagesRead
		frame.UserID = evt.ReaderID
		for _, id := range evt.MessageIDs {
			frame.MessageIDs = append(frame.MessageIDs, id.String())
		}
	case event.TypingChanged:
		frame.Type = EvtUserTyping
		frame.UserID = evt.UserID
		frame.IsTyping = evt.IsTyping
	case event.MemberJoined:
		frame.Type = EvtUserJoined
		frame.UserID = evt.UserID
	case event.MemberLeft:
		frame.Type = EvtUserLeft
		frame.UserID = evt.UserID
	default:
		return nil
	}
	return frame
}
