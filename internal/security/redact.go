package security

import "regexp"

// RedactedPath replaces any absolute path removed by RedactPaths.
const RedactedPath = "[REDACTED_PATH]"

var pathPattern = regexp.MustCompile(`(/[a-zA-Z0-9._\-]+)+|([A-Z]:\\[a-zA-Z0-9._\- \\]+)`)

// RedactPaths strips absolute POSIX and Windows drive paths from text so
// error messages and logs do not leak user directory names.
func RedactPaths(text string) string {
	return pathPattern.ReplaceAllString(text, RedactedPath)
}
