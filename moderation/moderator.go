// Package moderation censors configured terms in message bodies before
// they reach the store. Classification is lexical only; nothing here makes
// security decisions.
package moderation

import (
	"bufio"
	"bytes"
	_ "embed"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

//go:embed blocked_terms.txt
var defaultTerms []byte

// Moderator masks blocked terms with a replacement rune. Matching is
// case-insensitive and ignores punctuation and whitespace inside a term,
// so spaced-out variants are still caught.
type Moderator struct {
	matcher     *goahocorasick.Machine
	replacement rune
}

// DefaultTerms returns the embedded blocked-term list, one term per line,
// '#' starting a comment.
func DefaultTerms() []string {
	var terms []string
	scanner := bufio.NewScanner(bytes.NewReader(defaultTerms))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	return terms
}

// NewModerator builds the Aho-Corasick automaton over the normalized term
// list. Building is the expensive part; Censor is cheap and safe for
// concurrent use.
func NewModerator(terms []string, replacement rune) (Moderator, error) {
	patterns := make([][]rune, 0, len(terms))
	for _, term := range terms {
		normalized, _ := normalize(term)
		if len(normalized) == 0 {
			continue
		}
		patterns = append(patterns, normalized)
	}

	// No terms means nothing to mask; the automaton cannot be built empty.
	if len(patterns) == 0 {
		return Moderator{replacement: replacement}, nil
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return Moderator{}, err
	}
	return Moderator{matcher: machine, replacement: replacement}, nil
}

// Censor replaces every character of a matched term in the original text,
// preserving length and spacing. The second return reports whether
// anything was masked.
func (m Moderator) Censor(original string) (string, bool) {
	if m.matcher == nil {
		return original, false
	}
	normalized, origIdx := normalize(original)
	if len(normalized) == 0 {
		return original, false
	}

	spans := m.matcher.MultiPatternSearch(normalized, false)
	if len(spans) == 0 {
		return original, false
	}

	runes := []rune(original)
	for _, span := range spans {
		start := span.Pos
		end := start + len(span.Word)
		if start < 0 || end > len(origIdx) {
			continue
		}
		for i := origIdx[start]; i <= origIdx[end-1]; i++ {
			runes[i] = m.replacement
		}
	}
	return string(runes), true
}

// normalize lowercases the input and strips noise characters, keeping a
// mapping from normalized positions back to original rune positions.
func normalize(input string) ([]rune, []int) {
	runes := []rune(input)
	normalized := make([]rune, 0, len(runes))
	origIdx := make([]int, 0, len(runes))
	for i, r := range runes {
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		normalized = append(normalized, unicode.ToLower(r))
		origIdx = append(origIdx, i)
	}
	return normalized, origIdx
}
