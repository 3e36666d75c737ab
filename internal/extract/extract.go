// Package extract pulls a Telegram handle out of free-form message text.
package extract

import "regexp"

var (
	// Only recognised at the very start of the text. A longer run of handle
	// characters is not a handle, so it must not be cut down to 32.
	handlePattern = regexp.MustCompile(`^@([A-Za-z0-9_]{5,32})(?:[^A-Za-z0-9_]|$)`)
	// Recognised anywhere in the text.
	linkPattern = regexp.MustCompile(`https?://(?:www\.)?t\.me/([A-Za-z0-9_]{5,32})(?:[^A-Za-z0-9_]|$)`)
)

// Handle returns the canonical handle (no leading @) found in text. A leading
// "@handle" wins over a t.me link appearing later in the same text.
func Handle(text string) (string, bool) {
	if m := handlePattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := linkPattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	return "", false
}
