package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"negochat/directory"
	"negochat/domain"
	"negochat/domain/event"
	"negochat/errors"
	"negochat/runtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 32 << 10
	sendBufferSize = 64

	// How long a sender waits for the store to acknowledge an append.
	replyWait = 5 * time.Second
)

// Session is one authenticated socket. It feeds commands into the
// orchestrator and, as an event sink, renders broadcast events back onto
// the wire. A slow or dead socket never blocks the fan-out: frames are
// dropped once the send buffer is full and the connection is torn down.
type Session struct {
	id        string
	userID    string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	orch      *runtime.Orchestrator
	proposals directory.ProposalDirectory
	log       *slog.Logger

	// joined caches the proposal per room this session sits in. Only the
	// read pump touches it, no lock needed.
	joined map[domain.ConversationKey]directory.Proposal
}

func NewSession(conn *websocket.Conn, userID string, orch *runtime.Orchestrator,
	proposals directory.ProposalDirectory, log *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		userID:    userID,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		orch:      orch,
		proposals: proposals,
		log:       log.With("conn", id, "user", userID),
		joined:    make(map[domain.ConversationKey]directory.Proposal),
	}
}

// Consume implements the event sink consulted by the fan-out.
func (s *Session) Consume(_ context.Context, e event.DomainEvent) error {
	frame := frameFor(e)
	if frame == nil {
		return nil
	}
	return s.push(frame)
}

func (s *Session) push(frame *Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return fmt.Errorf("connection %s is closed", s.id)
	case s.send <- payload:
		return nil
	default:
		s.log.Warn("Send buffer full, closing slow connection")
		_ = s.conn.Close()
		return fmt.Errorf("send buffer full on connection %s", s.id)
	}
}

// Run drives both pumps and blocks until the socket dies. Teardown drops
// every membership first, so the fan-out stops consulting this sink
// before the pumps go away.
func (s *Session) Run(ctx context.Context) {
	_ = s.push(&Frame{Type: EvtConnected, UserID: s.userID})

	go s.writePump()
	s.readPump(ctx)

	s.orch.DropConnection(s.id)
	close(s.done)
}

func (s *Session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Connection dropped unexpectedly", "error", err)
			}
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			s.fail(envelope, fmt.Errorf("malformed frame: %w", err))
			continue
		}
		if err := envelope.Validate(); err != nil {
			s.fail(envelope, fmt.Errorf("invalid frame: %w", err))
			continue
		}
		if err := s.handle(ctx, envelope); err != nil {
			s.fail(envelope, err)
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, envelope Envelope) error {
	key := envelope.conversation()

	switch envelope.Type {
	case CmdJoinChat:
		return s.join(ctx, key)
	case CmdLeaveChat:
		s.leave(key)
		return nil
	case CmdSendMessage:
		return s.sendMessage(key, envelope)
	case CmdTyping:
		return s.typing(key, envelope.IsTyping)
	case CmdMarkRead:
		return s.markRead(key, envelope.MessageIDs)
	default:
		return fmt.Errorf("unknown command %q", envelope.Type)
	}
}

// join authorizes against the proposal directory before any registry
// mutation: only the campaign brand and the proposal influencer get in.
func (s *Session) join(ctx context.Context, key domain.ConversationKey) error {
	proposal, err := s.proposals.Lookup(ctx, key)
	if err != nil {
		return err
	}
	if !proposal.HasParticipant(s.userID) {
		return errors.ErrUnauthorized
	}

	s.joined[key] = proposal
	s.orch.JoinRoom(s.id, s.userID, key, s)
	s.log.Info("Joined conversation", "conversation", key.String())

	return s.push(&Frame{Type: EvtJoinedChat, CampaignID: key.CampaignID, ProposalID: key.ProposalID})
}

func (s *Session) leave(key domain.ConversationKey) {
	if _, ok := s.joined[key]; !ok {
		return
	}
	delete(s.joined, key)
	s.orch.LeaveRoom(s.id, s.userID, key)
	_ = s.push(&Frame{Type: EvtLeftChat, CampaignID: key.CampaignID, ProposalID: key.ProposalID})
}

func (s *Session) sendMessage(key domain.ConversationKey, envelope Envelope) error {
	proposal, ok := s.joined[key]
	if !ok {
		return errors.ErrUnauthorized
	}
	if !proposal.Negotiable() {
		return errors.ErrConversationClosed
	}
	recipient, err := proposal.OtherParty(s.userID)
	if err != nil {
		return err
	}

	reply := make(chan error, 1)
	s.orch.Dispatch(domain.PostMessage{
		Key:         key,
		SenderID:    s.userID,
		RecipientID: recipient,
		Body:        envelope.Message,
		Attachment:  envelope.Attachment.toDomain(),
		CreatedAt:   time.Now(),
		Reply:       reply,
	})

	// The pipeline is asynchronous but a lost message must not fail
	// silently; the sender blocks here until the store answers.
	select {
	case err := <-reply:
		return err
	case <-time.After(replyWait):
		return fmt.Errorf("message was not acknowledged within %s", replyWait)
	}
}

func (s *Session) typing(key domain.ConversationKey, isTyping bool) error {
	if _, ok := s.joined[key]; !ok {
		return errors.ErrUnauthorized
	}
	s.orch.Dispatch(domain.SetTyping{
		Key:        key,
		UserID:     s.userID,
		IsTyping:   isTyping,
		OriginConn: s.id,
	})
	return nil
}

func (s *Session) markRead(key domain.ConversationKey, rawIDs []string) error {
	if _, ok := s.joined[key]; !ok {
		return errors.ErrUnauthorized
	}
	ids := make([]uuid.UUID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid message id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	s.orch.Dispatch(domain.MarkRead{Key: key, ReaderID: s.userID, MessageIDs: ids})
	return nil
}

func (s *Session) fail(envelope Envelope, err error) {
	s.log.Warn("Command rejected", "type", envelope.Type, "error", err)
	_ = s.push(&Frame{
		Type:       EvtError,
		CampaignID: envelope.CampaignID,
		ProposalID: envelope.ProposalID,
		Error:      err.Error(),
	})
}
