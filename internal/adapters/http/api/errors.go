package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest       = errors.New("bad request")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMissingHeaders   = errors.New("missing delivery or event type header")
)
