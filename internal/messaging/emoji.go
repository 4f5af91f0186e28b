package messaging

import (
	"strings"

	"github.com/yuin/goldmark-emoji/definition"
)

var emojis = definition.Github()

func (o *Orchestrator) ToggleEmojiPicker() {
	o.mu.Lock()
	o.emojiOpen = !o.emojiOpen
	o.mu.Unlock()
}

// CloseEmojiPicker closes the picker, e.g. on a click outside it.
func (o *Orchestrator) CloseEmojiPicker() {
	o.mu.Lock()
	o.emojiOpen = false
	o.mu.Unlock()
}

// InsertEmoji appends an emoji to the draft and closes the picker. It accepts
// a glyph or a GitHub style :shortcode:.
func (o *Orchestrator) InsertEmoji(emoji string) {
	glyph := Emoji(emoji)
	o.mu.Lock()
	o.draft += glyph
	o.emojiOpen = false
	o.mu.Unlock()
}

// Emoji resolves a :shortcode: to its glyph. Anything else is returned as is.
func Emoji(s string) string {
	name := strings.TrimSpace(s)
	if len(name) < 3 || !strings.HasPrefix(name, ":") || !strings.HasSuffix(name, ":") {
		return s
	}
	e, ok := emojis.Get(strings.Trim(name, ":"))
	if !ok || len(e.Unicode) == 0 {
		return s
	}
	return string(e.Unicode)
}
