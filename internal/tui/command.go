package tui

import "strings"

// Command is a parsed prompt line.
type Command struct {
	Name string
	Args []string
}

// ParseCommand parses a command string (without the leading ':'). Double
// quotes group words into one argument.
func ParseCommand(input string) Command {
	var (
		fields []string
		cur    strings.Builder
		quoted bool
		inWord bool
	)
	flush := func() {
		if inWord {
			fields = append(fields, cur.String())
			cur.Reset()
			inWord = false
		}
	}
	for _, r := range strings.TrimSpace(input) {
		switch {
		case r == '"':
			quoted = !quoted
			inWord = true
		case r == ' ' && !quoted:
			flush()
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	flush()

	if len(fields) == 0 {
		return Command{}
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}
}
