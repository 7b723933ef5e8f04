package tts

import (
	"context"
	"log/slog"

	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
)

// defaultElevenLabsVoice seeds the store when an account has voices synced
// but none imported yet, so the voice-set command has something to resolve.
var defaultElevenLabsVoice = domain.Voice{
	Name:   "Will",
	UID:    "bIHbv24MWmeRgasZH58o",
	Source: domain.SourceElevenLabs,
}

// SyncVoices reconciles the voice store with what each speaker currently
// offers: known voices are upserted, and voices that disappeared from a
// provider's account are removed along with member preferences pointing at
// them. A failing speaker is logged and skipped; the others still sync.
func SyncVoices(ctx context.Context, voices domain.VoiceStore, reg Registry) {
	for source, speaker := range reg {
		listed, err := speaker.ListVoices(ctx)
		if err != nil {
			slog.Warn("Voice listing failed, skipping sync", "source", source, "error", err)
			continue
		}

		current := make(map[string]bool, len(listed))
		for name, uid := range listed {
			current[uid] = true
			if err := voices.Upsert(ctx, domain.Voice{Name: name, UID: uid, Source: source}); err != nil {
				slog.Error("Failed to upsert voice", "source", source, "voice", name, "error", err)
			}
		}

		stored, err := voices.ListBySource(ctx, source)
		if err != nil {
			slog.Error("Failed to list stored voices", "source", source, "error", err)
			continue
		}
		for _, v := range stored {
			if current[v.UID] {
				continue
			}
			slog.Info("Removing voice no longer offered by provider", "source", source, "voice", v.Name)
			if err := voices.Delete(ctx, v.UID, source); err != nil {
				slog.Error("Failed to delete stale voice", "source", source, "voice", v.Name, "error", err)
			}
		}

		if source == domain.SourceElevenLabs && len(listed) == 0 {
			if err := voices.Upsert(ctx, defaultElevenLabsVoice); err != nil {
				slog.Error("Failed to seed default voice", "error", err)
			}
		}
	}
}
