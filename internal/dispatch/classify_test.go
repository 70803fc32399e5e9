package dispatch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pysugar/chat-relay/internal/providers"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"adapter auth", fmt.Errorf("%w: claude input not visible", providers.ErrAuthenticationLost), FailureAuthLost},
		{"foreign session expired", errors.New("Session expired - not logged in to Claude"), FailureAuthLost},
		{"foreign not logged in", errors.New("user NOT LOGGED IN"), FailureAuthLost},
		{"timeout", fmt.Errorf("%w: generation", providers.ErrTimeout), FailureTimeout},
		{"extraction", fmt.Errorf("%w: empty", providers.ErrExtractionFailed), FailureExtraction},
		{"acquisition", fmt.Errorf("%w: launch", ErrResourceAcquisition), FailureAcquisition},
		{"other", errors.New("boom"), FailureOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
