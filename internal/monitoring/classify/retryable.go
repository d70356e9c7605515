package classify

import "strings"

// retryableWords are transient conditions reported by chain clients in free text.
var retryableWords = []string{
	"network",
	"timeout",
	"connection",
	"temporary",
	"busy",
	"rate limit",
	"too many requests",
	"nonce too low",
}

// retryableText reports whether msg describes a condition worth retrying,
// regardless of how the error was otherwise categorised.
func retryableText(msg string) bool {
	lower := strings.ToLower(msg)
	for _, w := range retryableWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
