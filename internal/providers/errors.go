package providers

import "errors"

// Every error returned by an Adapter wraps exactly one of these.
var (
	// ErrAuthenticationLost means the site showed a logged-out page.
	ErrAuthenticationLost = errors.New("session expired: not logged in")
	ErrExtractionFailed   = errors.New("failed to extract response")
	ErrTimeout            = errors.New("provider timed out")
)

var (
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrDuplicateProvider  = errors.New("provider already registered")
	ErrProviderNotEnabled = errors.New("provider not registered")
)
