package util

import (
	"fmt"
	"unicode/utf8"
)

// DefaultLogMaxLen is the default maximum length for truncated log output (1KB)
const DefaultLogMaxLen = 1024

// MaxErrorMessageLen bounds error text persisted on requests and usage logs.
const MaxErrorMessageLen = 1024

// TruncateLog truncates long strings for logging, never splitting a UTF-8 sequence.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return cut(s, maxLen) + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// ErrorMessage renders err for storage, capped at MaxErrorMessageLen bytes.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) <= MaxErrorMessageLen {
		return msg
	}
	return cut(msg, MaxErrorMessageLen)
}

func cut(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
