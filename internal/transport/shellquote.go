package transport

import "strings"

// ShellQuote wraps s in single quotes for safe embedding in a POSIX sh
// command line run via `adb shell`, escaping any single quotes it
// contains. This replaces interpolating bare paths into shell strings,
// which breaks on whitespace and shell metacharacters.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
