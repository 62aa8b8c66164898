package discovery

import "errors"

// Errors surfaced by the discovery service.
var (
	ErrSessionNotFound = errors.New("discovery: session not found")
	ErrSessionExpired  = errors.New("discovery: session expired")
	ErrRateLimited     = errors.New("discovery: rate limited")
	ErrInvalidRequest  = errors.New("discovery: invalid request")
	ErrInboxFull       = errors.New("discovery: relay inbox at capacity for this session")
)
