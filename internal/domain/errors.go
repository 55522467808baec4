package domain

import "errors"

// Input errors: recoverable locally, reported to the caller, never logged as
// security events
var (
	ErrInvalidURL   = errors.New("invalid URL")
	ErrInvalidInput = errors.New("invalid input")
)

// Classifier artifact errors. Missing and broken artifacts are kept apart so
// operators can tell "not deployed yet" from "deployed but broken".
var (
	ErrModelUnavailable = errors.New("model unavailable")
	ErrModelCorrupt     = errors.New("model artifact corrupt")
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrNegativeDelta = errors.New("risk delta must be non-negative")
)
