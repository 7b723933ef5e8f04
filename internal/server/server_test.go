package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/WolfwithSword/TwitchChatDND/internal/bus"
	"github.com/WolfwithSword/TwitchChatDND/internal/config"
	"github.com/WolfwithSword/TwitchChatDND/internal/dispatch"
	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
	"github.com/WolfwithSword/TwitchChatDND/internal/overlay"
	"github.com/WolfwithSword/TwitchChatDND/internal/session"
)

// fakeControl records panel-driven lifecycle calls.
type fakeControl struct {
	mgr       *session.Manager
	startOK   bool
	opened    int
	started   int
	ended     int
	lastParty int
}

func (f *fakeControl) OpenSession(context.Context) {
	f.opened++
	f.mgr.End()
	f.mgr.Open()
}

func (f *fakeControl) StartSession(_ context.Context, partySize int) bool {
	f.started++
	f.lastParty = partySize
	return f.startOK
}

func (f *fakeControl) EndSession() {
	f.ended++
	f.mgr.End()
}

type fakeMemberStore struct {
	members map[string]*domain.Member
	listErr error
}

func newFakeMemberStore() *fakeMemberStore {
	return &fakeMemberStore{members: make(map[string]*domain.Member)}
}

func (f *fakeMemberStore) Upsert(_ context.Context, name, pfpURL string) (*domain.Member, error) {
	name = domain.NormalizeName(name)
	m, ok := f.members[name]
	if !ok {
		m = domain.NewMember(name, pfpURL)
		f.members[name] = m
	}
	if pfpURL != "" {
		m.PFPURL = pfpURL
	}
	return m, nil
}

func (f *fakeMemberStore) Fetch(_ context.Context, name string) (*domain.Member, error) {
	m, ok := f.members[domain.NormalizeName(name)]
	if !ok {
		return nil, domain.ErrMemberNotFound
	}
	return m, nil
}

func (f *fakeMemberStore) UpdatePreferredVoice(_ context.Context, name, voiceUID string) error {
	m, ok := f.members[domain.NormalizeName(name)]
	if !ok {
		return domain.ErrMemberNotFound
	}
	m.PreferredVoiceID = voiceUID
	return nil
}

func (f *fakeMemberStore) CompleteSession(_ context.Context, name string, at time.Time) error {
	m, ok := f.members[domain.NormalizeName(name)]
	if !ok {
		return domain.ErrMemberNotFound
	}
	m.NumSessions++
	m.LastSession = at
	return nil
}

func (f *fakeMemberStore) List(_ context.Context, nameFilter string, page, perPage int) ([]*domain.Member, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	all := make([]*domain.Member, 0, len(f.members))
	for _, m := range f.members {
		all = append(all, m)
	}
	domain.SortMembers(all)
	return all, nil
}

func (f *fakeMemberStore) Delete(_ context.Context, name string) error {
	delete(f.members, domain.NormalizeName(name))
	return nil
}

type serverFixture struct {
	srv     *Server
	cfg     *config.Config
	events  *bus.Registry
	mgr     *session.Manager
	control *fakeControl
	members *fakeMemberStore
	hub     *overlay.Hub
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	cfg, err := config.Load(filepath.Join(t.TempDir(), "settings.ini"))
	require.NoError(t, err)

	disp := dispatch.New(64)
	events := bus.NewRegistry(disp)
	members := newFakeMemberStore()
	mgr := session.NewManager(events, members, disp, session.Options{PartySize: 2, PartyCap: 4})

	hub := overlay.NewHub(clockwork.NewRealClock())
	t.Cleanup(hub.Stop)

	control := &fakeControl{mgr: mgr, startOK: true}
	lookup := func(_ context.Context, login string) (string, error) {
		return "https://cdn.example/" + login + ".png", nil
	}

	srv := NewServer(cfg, mgr, control, members, hub, events, lookup, []HealthCheck{
		{Name: "store", Check: func(context.Context) error { return nil }},
	})

	return &serverFixture{srv: srv, cfg: cfg, events: events, mgr: mgr, control: control, members: members, hub: hub}
}
