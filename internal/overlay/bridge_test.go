package overlay

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WolfwithSword/TwitchChatDND/internal/bus"
	"github.com/WolfwithSword/TwitchChatDND/internal/dispatch"
	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
	"github.com/WolfwithSword/TwitchChatDND/internal/tts"
)

type stubSpeaker struct {
	source domain.VoiceSource
	chunks []domain.AudioChunk
	header []byte
}

func (s *stubSpeaker) Source() domain.VoiceSource { return s.source }

func (s *stubSpeaker) GetStream(context.Context, string, string) (*domain.SpeechStream, error) {
	out := make(chan domain.AudioChunk, len(s.chunks))
	for _, c := range s.chunks {
		out <- c
	}
	close(out)
	return &domain.SpeechStream{Header: s.header, Chunks: out}, nil
}

func (s *stubSpeaker) ListVoices(context.Context) (map[string]string, error) {
	return nil, nil
}

type stubVoiceStore struct {
	voice *domain.Voice
}

func (s *stubVoiceStore) Upsert(context.Context, domain.Voice) error { return nil }
func (s *stubVoiceStore) FetchByUID(context.Context, string) (*domain.Voice, error) {
	if s.voice == nil {
		return nil, domain.ErrVoiceNotFound
	}
	return s.voice, nil
}
func (s *stubVoiceStore) FetchByName(context.Context, string, domain.VoiceSource) (*domain.Voice, error) {
	return nil, domain.ErrVoiceNotFound
}
func (s *stubVoiceStore) ListBySource(context.Context, domain.VoiceSource) ([]domain.Voice, error) {
	return nil, nil
}
func (s *stubVoiceStore) Delete(context.Context, string, domain.VoiceSource) error { return nil }

func newBridgeFixture(t *testing.T, speaker domain.Speaker, voices domain.VoiceStore) (*Bridge, *Hub, *bus.Registry) {
	t.Helper()

	hub := NewHub(clockwork.NewRealClock())
	t.Cleanup(hub.Stop)

	events := bus.NewRegistry(dispatch.New(64))
	bridge := NewBridge(hub, tts.NewRegistry(speaker), voices, events, func() []*domain.Member {
		return []*domain.Member{{Name: "alice", PFPURL: "https://pfp/alice"}}
	}, clockwork.NewRealClock())

	return bridge, hub, events
}

func TestSpeakPipelineOrdersControlMessages(t *testing.T) {
	speaker := &stubSpeaker{
		source: domain.SourceLocal,
		header: []byte("header"),
		chunks: []domain.AudioChunk{
			{Data: []byte{1}, Duration: time.Millisecond},
			{Data: []byte{2}, Duration: time.Millisecond},
		},
	}
	bridge, hub, _ := newBridgeFixture(t, speaker, &stubVoiceStore{})

	control := dialClient(t, hub, KindControl)
	audio := dialClient(t, hub, KindAudio)

	// Drain the heartbeat and roster replay triggered by the control connect.
	assert.Equal(t, "heartbeat", readControl(t, control)["type"])
	assert.Equal(t, "update_users", readControl(t, control)["type"])

	bridge.speak(context.Background(), domain.SpeechRequest{
		Member: &domain.Member{Name: "alice"},
		Text:   "roll for initiative",
	})

	assert.Equal(t, []byte("header"), readBinary(t, audio))
	assert.Equal(t, []byte{1}, readBinary(t, audio))
	assert.Equal(t, []byte{2}, readBinary(t, audio))

	first := readControl(t, control)
	assert.Equal(t, "animate", first["type"])
	assert.Equal(t, "bounce", first["animation"])

	speech := readControl(t, control)
	assert.Equal(t, "speech", speech["type"])
	assert.Equal(t, "alice", speech["name"])
	assert.Equal(t, "roll for initiative", speech["message"])

	idle := readControl(t, control)
	assert.Equal(t, "animate", idle["type"])
	assert.Equal(t, "idle", idle["animation"])

	assert.Equal(t, "endspeech", readControl(t, control)["type"])
}

func TestSpeakUsesPreferredVoiceSource(t *testing.T) {
	speaker := &stubSpeaker{
		source: domain.SourceStreamElements,
		header: []byte("h"),
		chunks: []domain.AudioChunk{{Data: []byte{9}}},
	}
	voices := &stubVoiceStore{voice: &domain.Voice{Name: "Brian", UID: "se.Brian", Source: domain.SourceStreamElements}}
	bridge, _, _ := newBridgeFixture(t, speaker, voices)

	resolved, voiceID := bridge.resolveVoice(context.Background(), &domain.Member{
		Name:             "alice",
		PreferredVoiceID: "se.Brian",
	})

	assert.Equal(t, domain.SourceStreamElements, resolved.Source())
	assert.Equal(t, "se.Brian", voiceID)
}

func TestEmptyPartyForcesEndSpeech(t *testing.T) {
	speaker := &stubSpeaker{source: domain.SourceLocal}
	bridge, hub, _ := newBridgeFixture(t, speaker, &stubVoiceStore{})

	control := dialClient(t, hub, KindControl)
	assert.Equal(t, "heartbeat", readControl(t, control)["type"])
	assert.Equal(t, "update_users", readControl(t, control)["type"])

	require.NoError(t, bridge.onPartyChanged(nil))

	assert.Equal(t, "endspeech", readControl(t, control)["type"])
	roster := readControl(t, control)
	assert.Equal(t, "update_users", roster["type"])
	assert.Empty(t, roster["users"])
}

func TestPartyChangeBroadcastsRoster(t *testing.T) {
	speaker := &stubSpeaker{source: domain.SourceLocal}
	bridge, hub, _ := newBridgeFixture(t, speaker, &stubVoiceStore{})

	control := dialClient(t, hub, KindControl)
	assert.Equal(t, "heartbeat", readControl(t, control)["type"])
	assert.Equal(t, "update_users", readControl(t, control)["type"])

	require.NoError(t, bridge.onPartyChanged([]*domain.Member{
		{Name: "alice", PFPURL: "https://pfp/alice"},
		{Name: "bob", PFPURL: "https://pfp/bob"},
	}))

	roster := readControl(t, control)
	require.Equal(t, "update_users", roster["type"])
	users := roster["users"].([]any)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].(map[string]any)["name"])
}
