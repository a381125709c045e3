package handlers

import "strings"

// ParsedCommand is the decomposition of a command-shaped message: spec
// §4.8 fixes the syntax as "/name[@botusername] [args...]".
type ParsedCommand struct {
	Name        string
	Args        string
	BotUsername string // empty when the message omitted the @botusername suffix
}

// ParseCommand reports whether text looks like a command and, if so,
// decomposes it. It does not itself enforce disambiguation — callers check
// Disambiguated against the chat kind and the adapter's own username.
func ParseCommand(text string) (ParsedCommand, bool) {
	if text == "" || text[0] != '/' {
		return ParsedCommand{}, false
	}

	fields := strings.SplitN(text, " ", 2)
	head := fields[0][1:]
	args := ""
	if len(fields) == 2 {
		args = strings.TrimSpace(fields[1])
	}

	name := head
	botUsername := ""
	if i := strings.IndexByte(head, '@'); i >= 0 {
		name = head[:i]
		botUsername = head[i+1:]
	}
	if name == "" {
		return ParsedCommand{}, false
	}

	return ParsedCommand{Name: strings.ToLower(name), Args: args, BotUsername: botUsername}, true
}

// Disambiguated reports whether the command is addressed to this bot. In
// private chats any name matches; in groups the @botusername suffix is
// mandatory and must match selfUsername (spec §4.8: "name-disambiguation by
// bot username is mandatory in group chats").
func (p ParsedCommand) Disambiguated(isGroup bool, selfUsername string) bool {
	if !isGroup {
		return true
	}
	if p.BotUsername == "" {
		return false
	}
	return strings.EqualFold(p.BotUsername, selfUsername)
}

// Fields splits Args on whitespace into up to n fields, like strings.Fields
// but capped so trailing free-text arguments (a draw prompt, a reminder
// body) stay intact in the last field.
func Fields(args string, n int) []string {
	if n <= 0 {
		return strings.Fields(args)
	}
	return strings.SplitN(strings.TrimSpace(args), " ", n)
}
