package core

import "errors"

var (
	// ErrChatNotFound covers both a missing chat and a chat owned by someone else.
	ErrChatNotFound = errors.New("chat not found or unauthorized")
	ErrValidation   = errors.New("validation failed")
)

// Failures reported by a Completer. Callers match them with errors.Is and
// never show the wrapped upstream text to end users.
var (
	ErrAIConfiguration = errors.New("ai service configuration error")
	ErrAIRateLimited   = errors.New("ai service rate limited")
	ErrAIUnavailable   = errors.New("ai service unavailable")
)
