package bus

import (
	"github.com/WolfwithSword/TwitchChatDND/internal/dispatch"
	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
)

// Registry holds every named event in the process. It is constructed once at
// startup and passed to components explicitly, never reached through package
// state, so tests can run independent instances side by side.
type Registry struct {
	// PartyChanged fires with the sorted party snapshot on every party
	// mutation, including the empty snapshot on open and end.
	PartyChanged *Event[[]*domain.Member]
	// StateChanged fires on every session lifecycle transition.
	StateChanged *Event[domain.SessionState]
	// SpeakRequested carries a party member's say command to the TTS pipeline.
	SpeakRequested *Event[domain.SpeechRequest]
	// MemberJoinedQueue fires with the member name on successful queue entry.
	MemberJoinedQueue *Event[string]
	// MemberCompleted fires after a member's session-completion side effect
	// has been persisted, so cached UI copies can be refreshed.
	MemberCompleted *Event[string]
	// ChatConnected reports chat platform connectivity changes.
	ChatConnected *Event[bool]
	// ChannelFound reports whether the configured channel resolved.
	ChannelFound *Event[bool]
	// SettingsUpdated fires after a persisted settings write so commands can
	// re-register with fresh triggers and cooldowns.
	SettingsUpdated *Event[struct{}]
	// OverlayOpened fires when an overlay client connects and needs the
	// current roster replayed.
	OverlayOpened *Event[struct{}]
}

// NewRegistry builds all events against one dispatcher.
func NewRegistry(d *dispatch.Dispatcher) *Registry {
	return &Registry{
		PartyChanged:      New[[]*domain.Member]("party_changed", d),
		StateChanged:      New[domain.SessionState]("state_changed", d),
		SpeakRequested:    New[domain.SpeechRequest]("speak_requested", d),
		MemberJoinedQueue: New[string]("member_joined_queue", d),
		MemberCompleted:   New[string]("member_completed", d),
		ChatConnected:     New[bool]("chat_connected", d),
		ChannelFound:      New[bool]("channel_found", d),
		SettingsUpdated:   New[struct{}]("settings_updated", d),
		OverlayOpened:     New[struct{}]("overlay_opened", d),
	}
}
