package domain

// SessionState is the lifecycle state of the single live session.
type SessionState int

const (
	// StateNone means no active or forming party.
	StateNone SessionState = iota
	// StateOpen means the queue is accepting entrants.
	StateOpen
	// StateStarted means the party is locked in and the queue drained.
	StateStarted
)

func (s SessionState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateStarted:
		return "started"
	default:
		return "none"
	}
}

// SpeechRequest carries a party member's message toward the TTS pipeline.
type SpeechRequest struct {
	Member *Member
	Text   string
}
