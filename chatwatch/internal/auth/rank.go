package auth

import (
	"slices"
	"strings"
)

// Capability tags an interactive element.
type Capability string

const (
	Clickable   Capability = "clickable"
	Visible     Capability = "visible"
	Editable    Capability = "editable"
	MatchesText Capability = "matches-text"
)

// Element is one interactive element found on the page.
type Element struct {
	Selector  string `json:"selector"`
	Tag       string `json:"tag"`
	Type      string `json:"type"`
	Text      string `json:"text"` // label, placeholder, aria-label, name
	Visible   bool   `json:"visible"`
	Clickable bool   `json:"clickable"`
	Editable  bool   `json:"editable"`
}

// Criteria describe the element being looked for.
type Criteria struct {
	// Require lists capabilities a candidate must have.
	Require []Capability

	// Texts are case-insensitive substrings; earlier entries score higher.
	// A candidate containing any of them has MatchesText.
	Texts []string

	// Types, when non-empty, restricts candidates to these input types.
	Types []string

	// Tags are preferred element tags.
	Tags []string
}

// Capabilities returns the tags of e under c.
func Capabilities(e Element, c Criteria) []Capability {
	var caps []Capability
	if e.Clickable {
		caps = append(caps, Clickable)
	}
	if e.Visible {
		caps = append(caps, Visible)
	}
	if e.Editable {
		caps = append(caps, Editable)
	}
	if textRank(e.Text, c.Texts) >= 0 {
		caps = append(caps, MatchesText)
	}
	return caps
}

// Rank returns the best candidate for c, or false when none qualifies.
// Candidates missing a required capability or a listed type are dropped.
// The rest score by text match (earlier texts weigh more), then type,
// then tag; ties keep document order.
func Rank(candidates []Element, c Criteria) (Element, bool) {
	best, bestScore := Element{}, -1
	for _, e := range candidates {
		caps := Capabilities(e, c)
		if !hasAll(caps, c.Require) {
			continue
		}
		typ := strings.ToLower(e.Type)
		if len(c.Types) > 0 && !slices.Contains(c.Types, typ) {
			continue
		}
		score := 0
		if r := textRank(e.Text, c.Texts); r >= 0 {
			score += 10 + 2*(len(c.Texts)-r)
		}
		if len(c.Types) > 0 {
			score += 2 * (len(c.Types) - slices.Index(c.Types, typ))
		}
		if slices.Contains(c.Tags, strings.ToLower(e.Tag)) {
			score++
		}
		if score > bestScore {
			best, bestScore = e, score
		}
	}
	return best, bestScore >= 0
}

func hasAll(caps, required []Capability) bool {
	for _, r := range required {
		if !slices.Contains(caps, r) {
			return false
		}
	}
	return true
}

// textRank is the index of the first text contained in s, or -1.
func textRank(s string, texts []string) int {
	s = strings.ToLower(s)
	for i, t := range texts {
		if t != "" && strings.Contains(s, strings.ToLower(t)) {
			return i
		}
	}
	return -1
}
