package domain

// VoiceSource identifies the TTS backend a voice belongs to. Voice ids are
// only unique within a source.
type VoiceSource string

const (
	SourceLocal          VoiceSource = "local"
	SourceStreamElements VoiceSource = "streamelements"
	SourceElevenLabs     VoiceSource = "elevenlabs"
)

// Sources lists all known voice sources in resolution fallback order.
var Sources = []VoiceSource{SourceStreamElements, SourceLocal, SourceElevenLabs}

// Valid reports whether the source is one of the known backends.
func (s VoiceSource) Valid() bool {
	switch s {
	case SourceLocal, SourceStreamElements, SourceElevenLabs:
		return true
	}
	return false
}

// Voice is a speakable voice identity scoped to a TTS source.
// Equality is by the full (Name, UID, Source) triple.
type Voice struct {
	Name   string
	UID    string
	Source VoiceSource
}
