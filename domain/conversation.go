package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ConversationKey identifies one negotiation room: a proposal inside a
// campaign. Every message, membership, and typing state is scoped to it.
type ConversationKey struct {
	CampaignID int
	ProposalID int
}

func (k ConversationKey) String() string {
	return fmt.Sprintf("%d/%d", k.CampaignID, k.ProposalID)
}

// ParseConversationKey parses the "campaign/proposal" form produced by
// String.
func ParseConversationKey(s string) (ConversationKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return ConversationKey{}, fmt.Errorf("malformed conversation key %q", s)
	}
	campaignID, err := strconv.Atoi(parts[0])
	if err != nil {
		return ConversationKey{}, fmt.Errorf("malformed campaign id in %q: %w", s, err)
	}
	proposalID, err := strconv.Atoi(parts[1])
	if err != nil {
		return ConversationKey{}, fmt.Errorf("malformed proposal id in %q: %w", s, err)
	}
	return ConversationKey{CampaignID: campaignID, ProposalID: proposalID}, nil
}
