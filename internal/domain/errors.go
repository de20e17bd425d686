package domain

import "errors"

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidAccount  = errors.New("invalid account")

	// Session and transport failures.
	ErrConnection       = errors.New("gateway connection failed")
	ErrHandshakeTimeout = errors.New("gateway handshake timed out")
	ErrSend             = errors.New("gateway send failed")
	ErrSessionClosed    = errors.New("gateway session closed")

	ErrInteractionTimeout = errors.New("interaction timed out")
	ErrNoMatchingAccount  = errors.New("no matching account")
)

var ErrAffinityNotFound = errors.New("affinity not found")
