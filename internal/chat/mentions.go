package chat

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"devfusion/app/pkg/logger"
)

// Composer tracks the message draft and drives @mention autocompletion.
// Suggestions come from the project's member roster, prefix-matched
// case-insensitively against the token being typed after the last "@".
type Composer struct {
	store     Store
	log       *logger.Logger
	projectID string
	limit     int

	text        string
	mentionAt   int // byte offset of the active "@", -1 when inactive
	suggestions []Author
	highlighted int
}

// NewComposer creates a composer for one project. limit caps the
// suggestion list (default 8).
func NewComposer(st Store, projectID string, limit int, log *logger.Logger) *Composer {
	if limit <= 0 {
		limit = 8
	}
	return &Composer{
		store:     st,
		log:       log.WithProject(projectID),
		projectID: projectID,
		limit:     limit,
		mentionAt: -1,
	}
}

// Text returns the current draft.
func (c *Composer) Text() string { return c.text }

// Suggestions returns the active suggestion list, empty when no mention
// is being composed.
func (c *Composer) Suggestions() []Author { return c.suggestions }

// Highlighted returns the index of the highlighted suggestion.
func (c *Composer) Highlighted() int { return c.highlighted }

// SetText replaces the draft and refreshes mention suggestions. A trailing
// "@prefix" token (no whitespace since the "@") opens the suggestion list;
// anything else closes it.
func (c *Composer) SetText(ctx context.Context, text string) {
	c.text = text

	at, prefix, ok := activeMention(text)
	if !ok {
		c.reset()
		return
	}
	c.mentionAt = at

	members, err := c.store.SearchMembers(ctx, c.projectID, prefix, c.limit)
	if err != nil {
		c.log.LogError(err, "mention search failed", "prefix", prefix)
		c.suggestions = nil
		c.highlighted = 0
		return
	}
	c.suggestions = members
	if c.highlighted >= len(members) {
		c.highlighted = 0
	}
}

// MoveHighlight shifts the highlighted suggestion by delta, clamped to
// the list.
func (c *Composer) MoveHighlight(delta int) {
	if len(c.suggestions) == 0 {
		return
	}
	c.highlighted += delta
	if c.highlighted < 0 {
		c.highlighted = 0
	}
	if c.highlighted >= len(c.suggestions) {
		c.highlighted = len(c.suggestions) - 1
	}
}

// Accept splices the highlighted suggestion into the draft, replacing the
// "@prefix" token with "@username " and closing the list. It returns the
// updated draft.
func (c *Composer) Accept() string {
	if c.mentionAt < 0 || len(c.suggestions) == 0 {
		return c.text
	}
	chosen := c.suggestions[c.highlighted]
	c.text = c.text[:c.mentionAt] + "@" + chosen.Username + " "
	c.reset()
	return c.text
}

// Clear drops the draft and any open suggestion list.
func (c *Composer) Clear() {
	c.text = ""
	c.reset()
}

func (c *Composer) reset() {
	c.mentionAt = -1
	c.suggestions = nil
	c.highlighted = 0
}

// activeMention finds a trailing mention token: the last "@" with no
// whitespace between it and the end of the text, preceded by start-of-text
// or whitespace. It returns the "@" offset and the typed prefix.
func activeMention(text string) (int, string, bool) {
	at := strings.LastIndexByte(text, '@')
	if at < 0 {
		return -1, "", false
	}
	if at > 0 {
		before, _ := utf8.DecodeLastRuneInString(text[:at])
		if !unicode.IsSpace(before) {
			return -1, "", false
		}
	}
	prefix := text[at+1:]
	if strings.IndexFunc(prefix, unicode.IsSpace) >= 0 {
		return -1, "", false
	}
	return at, prefix, true
}
