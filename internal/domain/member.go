package domain

import (
	"sort"
	"strings"
	"time"
)

// Member is a participant identity. Identity is the lowercased name; all other
// attributes may change between sessions.
type Member struct {
	Name             string
	PFPURL           string
	NumSessions      int
	PreferredVoiceID string
	LastSession      time.Time
	Data             map[string]any
}

// NewMember creates a member with a normalized name.
func NewMember(name, pfpURL string) *Member {
	return &Member{Name: NormalizeName(name), PFPURL: pfpURL}
}

// NormalizeName lowercases and trims a member name. Member identity is
// case-insensitive.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Is reports whether the member has the given identity.
func (m *Member) Is(name string) bool {
	return m.Name == NormalizeName(name)
}

// SortMembers orders members lexicographically by name, the canonical order
// for party display and deterministic iteration.
func SortMembers(members []*Member) {
	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
}
