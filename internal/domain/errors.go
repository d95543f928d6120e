package domain

import "errors"

// Sentinel errors for the domain layer. Every error returned by the core wraps
// exactly one of these so callers can classify it with errors.Is.
var (
	// ErrAuth is returned when a credential is missing, invalid or expired.
	ErrAuth = errors.New("authentication failed")
	// ErrProtocol is returned for frames that cannot be parsed.
	ErrProtocol = errors.New("malformed frame")
	// ErrValidation is returned when a well-formed request breaks a business rule.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a user or profile lookup misses.
	ErrNotFound = errors.New("requested resource not found")
	// ErrStore is returned when the persistence layer fails.
	ErrStore = errors.New("store failure")
)
