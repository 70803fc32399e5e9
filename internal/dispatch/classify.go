package dispatch

import (
	"errors"

	"github.com/pysugar/chat-relay/internal/providers"
)

// ErrResourceAcquisition marks a job that failed before automation started
// because no browser could be obtained for the account.
var ErrResourceAcquisition = errors.New("resource acquisition failed")

// Failure classes.
const (
	FailureAuthLost    = "authentication_lost"
	FailureExtraction  = "extraction_failed"
	FailureTimeout     = "timeout"
	FailureAcquisition = "resource_acquisition"
	FailureOther       = "other"
)

// Classify maps a job error onto the failure taxonomy. Errors from outside
// the adapters are matched on their message.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, providers.ErrAuthenticationLost), providers.LooksLoggedOut(err):
		return FailureAuthLost
	case errors.Is(err, ErrResourceAcquisition):
		return FailureAcquisition
	case errors.Is(err, providers.ErrTimeout):
		return FailureTimeout
	case errors.Is(err, providers.ErrExtractionFailed):
		return FailureExtraction
	}
	return FailureOther
}
