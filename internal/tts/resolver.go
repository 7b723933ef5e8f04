package tts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
)

// Resolver turns a user-supplied voice parameter into a stored voice id. The
// lookup order is fixed: the StreamElements id pattern is checked first, then
// local friendly names, then an ElevenLabs id lookup. Ids from different
// sources can collide in format, so reordering would change which source wins.
type Resolver struct {
	se     *StreamElements
	local  *LocalEngine
	eleven *ElevenLabs
	voices domain.VoiceStore
}

// NewResolver builds the resolver. Any speaker may be nil; its step is
// skipped.
func NewResolver(se *StreamElements, local *LocalEngine, eleven *ElevenLabs, voices domain.VoiceStore) *Resolver {
	return &Resolver{se: se, local: local, eleven: eleven, voices: voices}
}

// Resolve returns the voice id for param, or domain.ErrVoiceNotFound when no
// source recognizes it. A successful ElevenLabs lookup also imports the voice
// into the store so it shows up in listings.
func (r *Resolver) Resolve(ctx context.Context, param string) (string, error) {
	if r.se != nil {
		if id := r.se.ResolveVoiceID(param); id != "" {
			return id, nil
		}
	}

	if r.local != nil {
		if id := r.local.VoiceIDByFriendlyName(param); id != "" {
			return id, nil
		}
	}

	if r.eleven != nil && r.eleven.Configured() && IsVoiceID(param) {
		voice, err := r.eleven.LookupVoice(ctx, param)
		if errors.Is(err, domain.ErrVoiceNotFound) {
			return "", domain.ErrVoiceNotFound
		}
		if err != nil {
			return "", err
		}
		if r.voices != nil {
			if err := r.voices.Upsert(ctx, *voice); err != nil {
				slog.Error("Failed to import resolved voice", "voice", voice.Name, "error", err)
			}
		}
		return voice.UID, nil
	}

	return "", domain.ErrVoiceNotFound
}
