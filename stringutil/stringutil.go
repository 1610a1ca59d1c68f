// Package stringutil holds small string-formatting helpers used when
// logging hashes and ids without flooding the log with 64 hex chars.
package stringutil

import "fmt"

const shortenLogLength = 16

// ShortenLog shortens a hex/base58 string for logging, keeping enough of
// the head and tail to disambiguate by eye across nearby log lines.
func ShortenLog(s string) string {
	half := shortenLogLength / 2
	if len(s) <= shortenLogLength {
		return s
	}
	return fmt.Sprintf("%s...%s", s[:half], s[len(s)-half:])
}
