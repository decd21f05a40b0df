package kick

import "strings"

// Command is a chat message addressed to the bot, e.g. "!so alice".
type Command struct {
	Name string
	Args []string
}

// ParseCommand reports whether content starts with prefix and splits the
// rest into a lower-cased command name and its arguments. A bare prefix is
// not a command.
func ParseCommand(prefix, content string) (Command, bool) {
	if prefix == "" {
		return Command{}, false
	}
	rest, ok := strings.CutPrefix(strings.TrimSpace(content), prefix)
	if !ok {
		return Command{}, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 || rest[0] == ' ' {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}
