package moderation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Censor_Masks_Blocked_Term(t *testing.T) {
	req := require.New(t)
	moderator, err := NewModerator([]string{"venmo"}, '*')
	req.NoError(err)

	censored, found := moderator.Censor("just Venmo me the difference")

	req.True(found)
	req.Equal("just ***** me the difference", censored)
}

func Test_Censor_Ignores_Clean_Text(t *testing.T) {
	req := require.New(t)
	moderator, err := NewModerator([]string{"venmo"}, '*')
	req.NoError(err)

	censored, found := moderator.Censor("happy to discuss the rate here")

	req.False(found)
	req.Equal("happy to discuss the rate here", censored)
}

func Test_Censor_Catches_Spaced_Out_Variant(t *testing.T) {
	req := require.New(t)
	moderator, err := NewModerator([]string{"offplatform"}, '*')
	req.NoError(err)

	// Given a term split by punctuation to dodge the filter
	censored, found := moderator.Censor("let's go off-platform for this")

	req.True(found)
	req.NotContains(strings.ToLower(censored), "off-platform")
}

func Test_Censor_Is_Case_Insensitive(t *testing.T) {
	req := require.New(t)
	moderator, err := NewModerator([]string{"scam"}, '*')
	req.NoError(err)

	censored, found := moderator.Censor("this is NOT a SCAM")

	req.True(found)
	req.Equal("this is NOT a ****", censored)
}

func Test_DefaultTerms_Skips_Comments_And_Blanks(t *testing.T) {
	req := require.New(t)
	terms := DefaultTerms()

	req.NotEmpty(terms)
	for _, term := range terms {
		req.NotEmpty(term)
		req.False(strings.HasPrefix(term, "#"))
	}
}
