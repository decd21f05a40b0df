package frame

import "regexp"

// emoteToken matches inline emote markup: [emote:<id>:<name>].
var emoteToken = regexp.MustCompile(`\[emote:\d+:([^\[\]]+)\]`)

// NormalizeEmotes replaces every [emote:<id>:<name>] token with <name>.
// Text that only resembles a token is left untouched. Replacement repeats
// until no token remains, so the result is a fixed point:
// NormalizeEmotes(NormalizeEmotes(s)) == NormalizeEmotes(s).
func NormalizeEmotes(content string) string {
	for emoteToken.MatchString(content) {
		content = emoteToken.ReplaceAllString(content, "$1")
	}
	return content
}

// NormalizeChat rewrites the content of a chat message event in place.
// Other variants are returned unchanged.
func NormalizeChat(ev Event) Event {
	if m, ok := ev.ChatMessage(); ok {
		m.Content = NormalizeEmotes(m.Content)
	}
	return ev
}
