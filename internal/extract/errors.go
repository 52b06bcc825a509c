package extract

import "errors"

var (
	// ErrNoBackendConfigured indicates the configured extraction backend is
	// not one this build knows how to talk to.
	ErrNoBackendConfigured = errors.New("no extraction backend configured")

	// ErrMalformedResponse indicates the model reply could not be parsed
	// into the expected field set.
	ErrMalformedResponse = errors.New("malformed model response")
)
