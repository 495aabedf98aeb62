//go:generate go run go.uber.org/mock/mockgen -source=directory.go -destination=../mocks/mock_directory.go -package=mocks

// Package directory answers who may sit in a conversation. It fronts the
// campaign/proposal resource service; the chat core never stores this data.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"negochat/domain"
	"negochat/errors"
)

type ProposalStatus string

const (
	StatusNegotiating ProposalStatus = "negotiating"
	StatusAccepted    ProposalStatus = "accepted"
	StatusRejected    ProposalStatus = "rejected"
)

// Proposal is the slice of the resource service the chat needs: the two
// parties and whether the negotiation is still open.
type Proposal struct {
	Key          domain.ConversationKey
	BrandID      string
	InfluencerID string
	Status       ProposalStatus
}

// HasParticipant reports whether userID is the campaign's brand or the
// proposal's influencer. Everyone else is refused at join time.
func (p Proposal) HasParticipant(userID string) bool {
	return userID == p.BrandID || userID == p.InfluencerID
}

// OtherParty derives the recipient of a message sent by userID.
func (p Proposal) OtherParty(userID string) (string, error) {
	switch userID {
	case p.BrandID:
		return p.InfluencerID, nil
	case p.InfluencerID:
		return p.BrandID, nil
	default:
		return "", errors.ErrUnauthorized
	}
}

// Negotiable reports whether the conversation still accepts new messages.
// Resolved proposals keep their history readable but become read-only.
func (p Proposal) Negotiable() bool {
	return p.Status == StatusNegotiating
}

type ProposalDirectory interface {
	Lookup(ctx context.Context, key domain.ConversationKey) (Proposal, error)
}

// StaticDirectory serves proposals from memory. Used in tests and in
// single-binary deployments where the resource service pushes updates.
type StaticDirectory struct {
	mu        sync.RWMutex
	proposals map[domain.ConversationKey]Proposal
}

func NewStaticDirectory(proposals ...Proposal) *StaticDirectory {
	d := &StaticDirectory{proposals: make(map[domain.ConversationKey]Proposal)}
	for _, p := range proposals {
		d.proposals[p.Key] = p
	}
	return d
}

func (d *StaticDirectory) Upsert(p Proposal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.proposals[p.Key] = p
}

func (d *StaticDirectory) Lookup(_ context.Context, key domain.ConversationKey) (Proposal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.proposals[key]
	if !ok {
		return Proposal{}, errors.ErrProposalNotFound
	}
	return p, nil
}

// HTTPDirectory resolves proposals against the marketplace REST backend.
type HTTPDirectory struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPDirectory(baseURL, serviceToken string, timeout time.Duration) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		token:   serviceToken,
		client:  &http.Client{Timeout: timeout},
	}
}

type proposalPayload struct {
	BrandUserID      string `json:"brand_user_id"`
	InfluencerUserID string `json:"influencer_user_id"`
	Status           string `json:"status"`
}

func (d *HTTPDirectory) Lookup(ctx context.Context, key domain.ConversationKey) (Proposal, error) {
	url := fmt.Sprintf("%s/api/campaigns/%d/proposals/%d", d.baseURL, key.CampaignID, key.ProposalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Proposal{}, err
	}
	req.Header.Set("Authorization", "Bearer "+d.token)

	resp, err := d.client.Do(req)
	if err != nil {
		return Proposal{}, fmt.Errorf("proposal lookup failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Proposal{}, errors.ErrProposalNotFound
	default:
		return Proposal{}, fmt.Errorf("proposal lookup returned status %d", resp.StatusCode)
	}

	var payload proposalPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Proposal{}, fmt.Errorf("malformed proposal payload: %w", err)
	}
	return Proposal{
		Key:          key,
		BrandID:      payload.BrandUserID,
		InfluencerID: payload.InfluencerUserID,
		Status:       ProposalStatus(payload.Status),
	}, nil
}
