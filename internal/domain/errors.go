package domain

import "errors"

var (
	// ErrMemberNotFound is returned when a member lookup finds no row.
	ErrMemberNotFound = errors.New("member not found")
	// ErrVoiceNotFound is returned when a voice lookup finds no row.
	ErrVoiceNotFound = errors.New("voice not found")
	// ErrStoreUnavailable wraps persistence failures. Callers log and treat
	// the operation as not having happened.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrPartyFull rejects party additions past the configured cap.
	ErrPartyFull = errors.New("party is full")
	// ErrNotConnected means a chat operation fired before the platform
	// connection was established. The surrounding retry supervisor catches it.
	ErrNotConnected = errors.New("chat platform not connected")
)
