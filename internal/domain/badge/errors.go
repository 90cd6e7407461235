package badge

import "errors"

var (
	// ErrUnknownCriteria reports a criteria type the evaluator cannot judge.
	ErrUnknownCriteria = errors.New("unknown badge criteria type")

	// ErrUnknownBadge reports a badge id absent from the catalog.
	ErrUnknownBadge = errors.New("unknown badge")

	// ErrAlreadyAwarded reports a duplicate manual grant.
	ErrAlreadyAwarded = errors.New("badge already awarded")

	// ErrMissingJustification rejects manual grants and revocations without
	// a justification.
	ErrMissingJustification = errors.New("justification required")

	// ErrInvalidCatalog reports a malformed badge catalog file.
	ErrInvalidCatalog = errors.New("invalid badge catalog")
)
