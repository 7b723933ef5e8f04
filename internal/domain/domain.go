// Package domain holds the core model types and the collaborator interfaces
// the orchestration layer calls or is called by. It has no dependencies on
// adapters, so every component can be exercised against fakes.
package domain

import (
	"context"
	"time"
)

// MemberStore abstracts member persistence. All operations may fail with a
// wrapped ErrStoreUnavailable, which callers log and treat as "operation did
// not happen", never silent partial state.
type MemberStore interface {
	// Upsert creates the member on first chat interaction or refreshes the
	// avatar of an existing one. Name is normalized before lookup.
	Upsert(ctx context.Context, name, pfpURL string) (*Member, error)
	// Fetch returns ErrMemberNotFound if no member with the name exists.
	Fetch(ctx context.Context, name string) (*Member, error)
	// UpdatePreferredVoice persists a member's voice association.
	UpdatePreferredVoice(ctx context.Context, name, voiceID string) error
	// CompleteSession increments the member's session counter and stamps the
	// last-session time.
	CompleteSession(ctx context.Context, name string, at time.Time) error
	// List returns a page of members ordered by name, optionally filtered by
	// a name substring.
	List(ctx context.Context, nameFilter string, page, perPage int) ([]*Member, error)
	// Delete removes a member. Administrative action only.
	Delete(ctx context.Context, name string) error
}

// VoiceStore abstracts voice persistence.
type VoiceStore interface {
	Upsert(ctx context.Context, v Voice) error
	// FetchByUID returns ErrVoiceNotFound if no voice has the uid.
	FetchByUID(ctx context.Context, uid string) (*Voice, error)
	FetchByName(ctx context.Context, name string, source VoiceSource) (*Voice, error)
	ListBySource(ctx context.Context, source VoiceSource) ([]Voice, error)
	// Delete removes a voice and clears any member preference referencing it.
	Delete(ctx context.Context, uid string, source VoiceSource) error
}

// AudioChunk is one piece of a synthesized utterance along with its playback
// duration, derived from the chunk's byte length and audio format.
type AudioChunk struct {
	Data     []byte
	Duration time.Duration
}

// SpeechStream is a finite, non-restartable sequence of audio chunks. Header
// is the fixed-format audio header prefixed to the binary overlay stream.
type SpeechStream struct {
	Header []byte
	Chunks <-chan AudioChunk
}

// Speaker is the uniform streaming-audio capability of one TTS source.
type Speaker interface {
	Source() VoiceSource
	// GetStream synthesizes text into a stream of audio chunks. A new call is
	// required per utterance.
	GetStream(ctx context.Context, text, voiceID string) (*SpeechStream, error)
	// ListVoices maps friendly names to source-specific voice ids.
	ListVoices(ctx context.Context) (map[string]string, error)
}

// ChatUser is the invoking-user identity attached to an inbound command.
type ChatUser struct {
	ID          string
	Name        string
	DisplayName string
}

// ChatMessage is one inbound chat line, with a reply channel back to the user.
type ChatMessage struct {
	User ChatUser
	Text string
	// Reply sends a user-facing response threaded to this message.
	Reply func(ctx context.Context, text string) error
}

// ChatSender is the outbound half of the chat platform.
type ChatSender interface {
	SendMessage(ctx context.Context, text string) error
}
