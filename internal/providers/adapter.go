package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/pysugar/chat-relay/internal/browser"
)

// Result is a completed exchange.
type Result struct {
	Text   string
	Tokens int64 // estimated, see EstimateTokens
	Model  string
}

// Adapter submits a prompt through a provider's web interface and extracts
// the reply.
type Adapter interface {
	Kind() Kind
	Run(ctx context.Context, res browser.Resource, prompt string) (Result, error)
}

// EstimateTokens approximates usage as one token per four characters of
// prompt and response combined, rounded up.
func EstimateTokens(prompt, response string) int64 {
	n := utf8.RuneCountInString(prompt) + utf8.RuneCountInString(response)
	return int64((n + 3) / 4)
}

// Registry maps provider kinds to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Kind]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Kind]Adapter)}
}

// Register adds a. Unknown kinds and second registrations are rejected.
func (r *Registry) Register(a Adapter) error {
	k := a.Kind()
	if !k.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, k)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[k]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, k)
	}
	r.adapters[k] = a
	return nil
}

func (r *Registry) Get(k Kind) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotEnabled, k)
	}
	return a, nil
}

// Kinds lists registered providers in name order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
