package security

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"audacity-mcp/internal/domain"
)

// safeVerbs lists the verbs that may carry parameters. Verbs that take
// filesystem paths (Export2, Import2, OpenProject2, SaveProject2, ...) or
// alter state outside the project are deliberately absent.
var safeVerbs = map[string]bool{
	"Help":                true,
	"GetInfo":             true,
	"SelectAll":           true,
	"SelectNone":          true,
	"Play":                true,
	"Stop":                true,
	"Pause":               true,
	"Record":              true,
	"Undo":                true,
	"Redo":                true,
	"SetTrack":            true,
	"GetTrackVisualState": true,
}

// commandPattern matches a bare verb optionally followed by ": key=value" groups.
// Values may not contain semicolons or quotes.
var commandPattern = regexp.MustCompile(`^[A-Za-z0-9]+(:[ \t]*[A-Za-z0-9]+=[^;"']+)*$`)

// SafeVerbs returns the allowlist in sorted order.
func SafeVerbs() []string {
	out := make([]string, 0, len(safeVerbs))
	for v := range safeVerbs {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// IsSafeVerb reports whether verb may be sent with parameters.
func IsSafeVerb(verb string) bool {
	return safeVerbs[verb]
}

// ParseVerb returns the whitespace-trimmed text before the first colon.
func ParseVerb(command string) string {
	verb, _, _ := strings.Cut(command, ":")
	return strings.TrimSpace(verb)
}

// Validate reports whether command is safe to forward to Audacity.
func Validate(command string) bool {
	return Check(command) == nil
}

// Check validates command and returns the reason it is unsafe, or nil.
// The returned error wraps domain.ErrCommandNotAllowed or domain.ErrInvalidCommand.
func Check(command string) error {
	if command == "" {
		return domain.NewDomainError("Validator.Check", domain.ErrInvalidCommand, "empty command")
	}
	if !utf8.ValidString(command) {
		return domain.NewDomainError("Validator.Check", domain.ErrInvalidCommand, "invalid utf-8")
	}

	// Parameterized commands are held to the allowlist; bare verbs are not.
	verb := ParseVerb(command)
	if strings.Contains(command, ":") && !safeVerbs[verb] {
		return domain.NewDomainError("Validator.Check", domain.ErrCommandNotAllowed,
			fmt.Sprintf("verb %q may not take parameters", verb))
	}

	return CheckGrammar(command)
}

// CheckGrammar applies the structural pattern without the allowlist and
// rejects control characters anywhere in the command, which the pattern
// alone admits inside values.
func CheckGrammar(command string) error {
	if strings.IndexFunc(command, isControl) >= 0 {
		return domain.NewDomainError("Validator.Check", domain.ErrInvalidCommand, "control character in command")
	}
	if !commandPattern.MatchString(command) {
		return domain.NewDomainError("Validator.Check", domain.ErrInvalidCommand, "malformed command")
	}
	return nil
}

// tab is the only control character the pattern itself permits, after a colon.
func isControl(r rune) bool {
	return unicode.IsControl(r) && r != '\t'
}

// IsBareValue reports whether s can be sent as an unquoted parameter value.
// Audacity splits unquoted values at whitespace, and the grammar forbids
// quotes and semicolons, so none of those may appear.
func IsBareValue(s string) bool {
	if s == "" || !utf8.ValidString(s) {
		return false
	}
	return !strings.ContainsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r) || r == ';' || r == '"' || r == '\''
	})
}
