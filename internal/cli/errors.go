package cli

import "errors"

var (
	ErrUnknownDriver     = errors.New("unknown store driver")
	ErrUnknownSource     = errors.New("unknown schedule source")
	ErrNotPersistent     = errors.New("memory store does not outlive the process")
	ErrMissingGatewayURL = errors.New("gateway url is required")
	ErrInvalidPayload    = errors.New("payload must be valid JSON")
)
