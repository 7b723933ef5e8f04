package chat

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WolfwithSword/TwitchChatDND/internal/bus"
	"github.com/WolfwithSword/TwitchChatDND/internal/config"
	"github.com/WolfwithSword/TwitchChatDND/internal/dispatch"
	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
	"github.com/WolfwithSword/TwitchChatDND/internal/session"
	"github.com/WolfwithSword/TwitchChatDND/internal/twitch"
)

type fakeMemberStore struct {
	members map[string]*domain.Member
	voices  map[string]string // member name -> voice id
}

func newFakeMemberStore() *fakeMemberStore {
	return &fakeMemberStore{members: make(map[string]*domain.Member), voices: make(map[string]string)}
}

func (s *fakeMemberStore) Upsert(_ context.Context, name, pfpURL string) (*domain.Member, error) {
	name = domain.NormalizeName(name)
	if m, ok := s.members[name]; ok {
		m.PFPURL = pfpURL
		return m, nil
	}
	m := &domain.Member{Name: name, PFPURL: pfpURL}
	s.members[name] = m
	return m, nil
}

func (s *fakeMemberStore) Fetch(_ context.Context, name string) (*domain.Member, error) {
	m, ok := s.members[domain.NormalizeName(name)]
	if !ok {
		return nil, domain.ErrMemberNotFound
	}
	return m, nil
}

func (s *fakeMemberStore) UpdatePreferredVoice(_ context.Context, name, voiceID string) error {
	s.voices[domain.NormalizeName(name)] = voiceID
	return nil
}

func (s *fakeMemberStore) CompleteSession(_ context.Context, name string, at time.Time) error {
	if m, ok := s.members[domain.NormalizeName(name)]; ok {
		m.NumSessions++
		m.LastSession = at
	}
	return nil
}

func (s *fakeMemberStore) List(context.Context, string, int, int) ([]*domain.Member, error) {
	return nil, nil
}

func (s *fakeMemberStore) Delete(_ context.Context, name string) error {
	delete(s.members, domain.NormalizeName(name))
	return nil
}

type fakeProfiles struct{}

func (fakeProfiles) GetUserByName(_ context.Context, login string) (*twitch.User, error) {
	return &twitch.User{ID: "id-" + login, Login: login, DisplayName: login, ProfileImageURL: "https://pfp/" + login}, nil
}

type fakeResolver struct {
	known map[string]string
}

func (r *fakeResolver) Resolve(_ context.Context, param string) (string, error) {
	if id, ok := r.known[param]; ok {
		return id, nil
	}
	return "", domain.ErrVoiceNotFound
}

type fakeVoiceStore struct{}

func (fakeVoiceStore) Upsert(context.Context, domain.Voice) error { return nil }
func (fakeVoiceStore) FetchByUID(context.Context, string) (*domain.Voice, error) {
	return nil, domain.ErrVoiceNotFound
}
func (fakeVoiceStore) FetchByName(context.Context, string, domain.VoiceSource) (*domain.Voice, error) {
	return nil, domain.ErrVoiceNotFound
}
func (fakeVoiceStore) ListBySource(context.Context, domain.VoiceSource) ([]domain.Voice, error) {
	return nil, nil
}
func (fakeVoiceStore) Delete(context.Context, string, domain.VoiceSource) error { return nil }

type fakeLister struct{}

func (fakeLister) ListVoices(context.Context) (map[string]string, error) {
	return map[string]string{"Default": "local.en"}, nil
}

type fakeSender struct {
	sent []string
}

func (s *fakeSender) SendMessage(_ context.Context, text string) error {
	s.sent = append(s.sent, text)
	return nil
}

type chatFixture struct {
	controller *Controller
	session    *session.Manager
	members    *fakeMemberStore
	sender     *fakeSender
	events     *bus.Registry
	clock      *clockwork.FakeClock
	cfg        *config.Config
}

func newFixture(t *testing.T) *chatFixture {
	t.Helper()

	cfg, err := config.Load(filepath.Join(t.TempDir(), "settings.ini"))
	require.NoError(t, err)

	disp := dispatch.New(64)
	events := bus.NewRegistry(disp)
	clock := clockwork.NewFakeClock()
	members := newFakeMemberStore()
	mgr := session.NewManager(events, members, disp, session.Options{
		PartySize: 1,
		Rand:      rand.New(rand.NewSource(1)),
		Clock:     clock,
	})
	sender := &fakeSender{}

	controller := NewController(Options{
		Config:      cfg,
		Session:     mgr,
		Members:     members,
		Voices:      fakeVoiceStore{},
		Profiles:    fakeProfiles{},
		Resolver:    &fakeResolver{known: map[string]string{"se.Brian": "se.Brian"}},
		LocalVoices: fakeLister{},
		Sender:      sender,
		Events:      events,
		Clock:       clock,
	})

	return &chatFixture{
		controller: controller,
		session:    mgr,
		members:    members,
		sender:     sender,
		events:     events,
		clock:      clock,
		cfg:        cfg,
	}
}

func message(user, text string, replies *[]string) domain.ChatMessage {
	return domain.ChatMessage{
		User: domain.ChatUser{ID: "id-" + user, Name: user, DisplayName: user},
		Text: text,
		Reply: func(_ context.Context, reply string) error {
			if replies != nil {
				*replies = append(*replies, reply)
			}
			return nil
		},
	}
}

func TestJoinCommandQueuesMember(t *testing.T) {
	f := newFixture(t)
	f.controller.OpenSession(context.Background())

	var replies []string
	f.controller.HandleMessage(message("alice", "!join", &replies))

	assert.True(t, f.session.InQueue("alice"))
	require.Len(t, replies, 1)
	assert.Equal(t, "alice added to queue", replies[0])
}

func TestJoinRepliesAlreadyQueued(t *testing.T) {
	f := newFixture(t)
	f.controller.OpenSession(context.Background())

	f.controller.HandleMessage(message("alice", "!join", nil))
	f.clock.Advance(31 * time.Second) // past the per-user command cooldown

	var replies []string
	f.controller.HandleMessage(message("alice", "!join", &replies))

	require.Len(t, replies, 1)
	assert.Equal(t, "alice already in the queue", replies[0])
}

func TestJoinRejectsWithinRecentSessionWindow(t *testing.T) {
	f := newFixture(t)
	f.controller.OpenSession(context.Background())

	_, err := f.members.Upsert(context.Background(), "alice", "")
	require.NoError(t, err)
	require.NoError(t, f.members.CompleteSession(context.Background(), "alice", f.clock.Now().Add(-5*time.Minute)))

	var replies []string
	f.controller.HandleMessage(message("alice", "!join", &replies))

	assert.False(t, f.session.InQueue("alice"))
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "try again in")
}

func TestUnknownCommandIgnored(t *testing.T) {
	f := newFixture(t)

	var replies []string
	f.controller.HandleMessage(message("alice", "!definitelynotacommand", &replies))
	f.controller.HandleMessage(message("alice", "no prefix at all", &replies))

	assert.Empty(t, replies)
}

func TestSayRestrictedToPartyMembers(t *testing.T) {
	f := newFixture(t)

	var spoken []domain.SpeechRequest
	f.events.SpeakRequested.Subscribe("test_capture", func(req domain.SpeechRequest) error {
		spoken = append(spoken, req)
		return nil
	})

	f.controller.OpenSession(context.Background())
	f.controller.HandleMessage(message("alice", "!join", nil))
	require.True(t, f.controller.StartSession(context.Background(), 1))

	f.controller.HandleMessage(message("bob", "!say sneaky", nil))
	assert.Empty(t, spoken)

	f.controller.HandleMessage(message("alice", "!say roll for initiative", nil))
	require.Len(t, spoken, 1)
	assert.Equal(t, "alice", spoken[0].Member.Name)
	assert.Equal(t, "roll for initiative", spoken[0].Text)
}

func TestLifecycleSwapsJoinAndSay(t *testing.T) {
	f := newFixture(t)
	f.controller.OpenSession(context.Background())
	f.controller.HandleMessage(message("alice", "!join", nil))

	require.True(t, f.controller.StartSession(context.Background(), 1))

	// Join is gone after start.
	var replies []string
	f.clock.Advance(31 * time.Second)
	f.controller.HandleMessage(message("bob", "!join", &replies))
	assert.Empty(t, replies)
	assert.False(t, f.session.InQueue("bob"))

	f.controller.EndSession()
	assert.Equal(t, domain.StateNone, f.session.State())
}

func TestStartSessionAnnouncesShortfall(t *testing.T) {
	f := newFixture(t)
	f.controller.OpenSession(context.Background())

	assert.False(t, f.controller.StartSession(context.Background(), 4))
	require.NotEmpty(t, f.sender.sent)
	assert.Contains(t, f.sender.sent[len(f.sender.sent)-1], "Not enough party members")
}

func TestSetVoicePersistsPreference(t *testing.T) {
	f := newFixture(t)

	var replies []string
	f.controller.HandleMessage(message("alice", "!voice se.Brian", &replies))

	assert.Equal(t, "se.Brian", f.members.voices["alice"])
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Successfully set TTS voice")
}

func TestSetVoiceNotFoundReply(t *testing.T) {
	f := newFixture(t)

	var replies []string
	f.controller.HandleMessage(message("alice", "!voice nosuchvoice", &replies))

	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "not available or not found")
	assert.Empty(t, f.members.voices)
}

func TestVoicesListsLocalNames(t *testing.T) {
	f := newFixture(t)

	var replies []string
	f.controller.HandleMessage(message("alice", "!voices local", &replies))

	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Default")
}

func TestUpdateSettingsRebindsRegisteredCommands(t *testing.T) {
	f := newFixture(t)
	f.controller.OpenSession(context.Background())

	f.cfg.Set(config.SectionBot, "join_command", "queue")
	f.controller.UpdateSettings()

	var replies []string
	f.controller.HandleMessage(message("alice", "!join", &replies))
	assert.Empty(t, replies)

	f.controller.HandleMessage(message("alice", "!queue", &replies))
	require.Len(t, replies, 1)
	assert.Equal(t, "alice added to queue", replies[0])
}
