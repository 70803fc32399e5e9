// Package providers drives the chat web interfaces of the supported providers
// through a browser resource.
package providers

import (
	"fmt"
	"strings"
)

// Kind identifies a chat provider.
type Kind string

const (
	ChatGPT  Kind = "chatgpt"
	Claude   Kind = "claude"
	Gemini   Kind = "gemini"
	DeepSeek Kind = "deepseek"
)

// Auto asks the selector to pick a provider from the configured order.
const Auto = "auto"

var allKinds = []Kind{ChatGPT, Claude, Gemini, DeepSeek}

// AllKinds returns every supported provider.
func AllKinds() []Kind {
	return append([]Kind(nil), allKinds...)
}

// Valid reports whether k is a supported provider.
func (k Kind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }

// ParseKind normalizes s and rejects unknown tags.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
	return k, nil
}
