// Package session owns the queue of waiting participants, the active party,
// and the session lifecycle. Its methods are the only legal mutators of
// session state; every observable mutation is announced on the event bus.
package session

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/WolfwithSword/TwitchChatDND/internal/bus"
	"github.com/WolfwithSword/TwitchChatDND/internal/dispatch"
	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
	"github.com/WolfwithSword/TwitchChatDND/internal/metrics"
)

const (
	// DefaultPartySize is the selection target used when the caller does not
	// override it.
	DefaultPartySize = 4
	// DefaultPartyCap is the hard party upper bound, independent of the
	// selection target.
	DefaultPartyCap = 8

	completionTimeout = 10 * time.Second
)

// Options configures a Manager.
type Options struct {
	// PartySize is the default selection target for StartSession.
	PartySize int
	// PartyCap is the hard upper bound on party membership.
	PartyCap int
	// Rand drives party selection. Tests inject a seeded source.
	Rand *rand.Rand
	// Clock stamps session completion times.
	Clock clockwork.Clock
}

// Manager is the session state machine. One instance is alive per process in
// production, but it carries no package state so tests run many side by side.
//
// Members are keyed by identity (lowercased name). The queue and party are
// disjoint in steady state, and the party never exceeds the configured cap.
type Manager struct {
	// mu guards the sets and state. Chat handlers and panel API handlers
	// mutate from different goroutines. Bus handlers fire while held, so they
	// must not call back into the manager synchronously.
	mu    sync.Mutex
	queue map[string]*domain.Member
	party map[string]*domain.Member
	state domain.SessionState

	partySize int
	partyCap  int
	rng       *rand.Rand
	clock     clockwork.Clock

	events  *bus.Registry
	members domain.MemberStore
	disp    *dispatch.Dispatcher
}

// NewManager creates a session manager in state NONE with empty sets.
func NewManager(events *bus.Registry, members domain.MemberStore, disp *dispatch.Dispatcher, opts Options) *Manager {
	if opts.PartySize <= 0 {
		opts.PartySize = DefaultPartySize
	}
	if opts.PartyCap <= 0 {
		opts.PartyCap = DefaultPartyCap
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Manager{
		queue:     make(map[string]*domain.Member),
		party:     make(map[string]*domain.Member),
		state:     domain.StateNone,
		partySize: opts.PartySize,
		partyCap:  opts.PartyCap,
		rng:       opts.Rand,
		clock:     opts.Clock,
		events:    events,
		members:   members,
		disp:      disp,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// QueueLen returns the number of waiting members.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// PartySize returns the configured default selection target.
func (m *Manager) PartySize() int { return m.partySize }

// InQueue reports whether a member with the given name is waiting.
func (m *Manager) InQueue(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.queue[domain.NormalizeName(name)]
	return ok
}

// InParty reports whether a member with the given name is active.
func (m *Manager) InParty(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.party[domain.NormalizeName(name)]
	return ok
}

// Party returns the sorted party snapshot.
func (m *Manager) Party() []*domain.Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partyLocked()
}

func (m *Manager) partyLocked() []*domain.Member {
	members := make([]*domain.Member, 0, len(m.party))
	for _, member := range m.party {
		members = append(members, member)
	}
	domain.SortMembers(members)
	return members
}

// JoinQueue adds a member to the queue. Idempotent: an already-queued member
// is unaffected. Legal in any state, observable only during OPEN.
func (m *Manager) JoinQueue(member *domain.Member) {
	if member == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue[member.Name] = member
}

// StartSession locks in a party of targetSize members selected uniformly at
// random from the queue, drains the queue, and transitions to STARTED.
// targetSize <= 0 uses the configured default. Returns false without mutation
// when the queue holds fewer than targetSize members.
func (m *Manager) StartSession(targetSize int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if targetSize <= 0 {
		targetSize = m.partySize
	}
	if len(m.queue) < targetSize {
		return false
	}

	// Sample over a deterministically ordered view so selection does not
	// depend on map iteration order.
	candidates := make([]*domain.Member, 0, len(m.queue))
	for _, member := range m.queue {
		candidates = append(candidates, member)
	}
	domain.SortMembers(candidates)
	m.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	m.party = make(map[string]*domain.Member, targetSize)
	for _, member := range candidates[:targetSize] {
		m.party[member.Name] = member
	}
	m.queue = make(map[string]*domain.Member)
	m.setState(domain.StateStarted)

	m.publishParty()
	return true
}

// AddMember inserts a member directly into the party, outside the queue flow.
// Returns domain.ErrPartyFull without mutation at the cap. A lone member
// added while no session is started fast-tracks into an auto-started
// one-person party.
func (m *Manager) AddMember(member *domain.Member) error {
	if member == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.party[member.Name]; ok {
		return nil
	}
	if len(m.party) >= m.partyCap {
		return domain.ErrPartyFull
	}

	delete(m.queue, member.Name)
	m.party[member.Name] = member
	if m.state != domain.StateStarted {
		// Auto-starting discards anyone still queued, same as a regular
		// start: STARTED always means an empty queue.
		clear(m.queue)
		m.setState(domain.StateStarted)
	}

	m.publishParty()
	return nil
}

// RemoveMember takes a member out of the party. Removing an absent member is
// a no-op returning false. Unless suppressed, removal schedules the session
// completion side effect for that member.
func (m *Manager) RemoveMember(name string, suppressCompletion bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = domain.NormalizeName(name)
	if _, ok := m.party[name]; !ok {
		return false
	}
	delete(m.party, name)
	if !suppressCompletion {
		m.scheduleCompletion(name)
	}
	m.publishParty()
	return true
}

// RefreshMember reconciles a stale cached party entry with a freshly fetched
// copy (e.g. updated avatar) without firing the completion side effect or
// double counting. No-op if the member is not in the party.
func (m *Manager) RefreshMember(fresh *domain.Member) {
	if fresh == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.party[fresh.Name]; !ok {
		return
	}
	m.party[fresh.Name] = fresh
	m.publishParty()
}

// Open clears both sets and transitions to OPEN, announcing the empty party.
func (m *Manager) Open() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue = make(map[string]*domain.Member)
	m.party = make(map[string]*domain.Member)
	m.setState(domain.StateOpen)
	m.publishParty()
}

// End schedules the completion side effect for every current party member,
// clears both sets, and resets to NONE.
func (m *Manager) End() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name := range m.party {
		m.scheduleCompletion(name)
	}
	m.queue = make(map[string]*domain.Member)
	m.party = make(map[string]*domain.Member)
	m.setState(domain.StateNone)
	m.publishParty()
}

func (m *Manager) setState(s domain.SessionState) {
	if m.state == s {
		return
	}
	m.state = s
	metrics.SessionTransitionsTotal.WithLabelValues(s.String()).Inc()
	if err := m.events.StateChanged.Publish(s); err != nil {
		slog.Error("State change handler failed", "state", s.String(), "error", err)
	}
}

func (m *Manager) publishParty() {
	snapshot := m.partyLocked()
	metrics.PartySize.Set(float64(len(snapshot)))
	if err := m.events.PartyChanged.Publish(snapshot); err != nil {
		slog.Error("Party change handler failed", "error", err)
	}
}

// scheduleCompletion runs the completion side effect on the dispatcher pump so
// party edits stay synchronous while the store write happens off the caller.
func (m *Manager) scheduleCompletion(name string) {
	at := m.clock.Now()
	m.disp.Enqueue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
		defer cancel()
		if err := m.members.CompleteSession(ctx, name, at); err != nil {
			slog.Error("Failed to record session completion", "member", name, "error", err)
			return
		}
		if err := m.events.MemberCompleted.Publish(name); err != nil {
			slog.Error("Member completed handler failed", "member", name, "error", err)
		}
	})
}
