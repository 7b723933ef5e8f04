package domain

// Overlay message schema. JSON objects with a "type" discriminator, delivered
// over the persistent control socket to every connected overlay client.

const (
	MessageHeartbeat   = "heartbeat"
	MessageSpeech      = "speech"
	MessageEndSpeech   = "endspeech"
	MessageAnimate     = "animate"
	MessageUpdateUsers = "update_users"
)

type HeartbeatMessage struct {
	Type string `json:"type"`
}

// SpeechMessage marks the start of a spoken utterance on the overlay.
type SpeechMessage struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

type EndSpeechMessage struct {
	Type string `json:"type"`
}

// AnimateMessage switches a single member's overlay animation.
type AnimateMessage struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Animation string `json:"animation"`
}

// OverlayUser is one roster entry in an update_users message.
type OverlayUser struct {
	Name   string `json:"name"`
	PFPURL string `json:"pfp_url"`
}

// UpdateUsersMessage carries the full current party roster.
type UpdateUsersMessage struct {
	Type  string        `json:"type"`
	Users []OverlayUser `json:"users"`
}

func Heartbeat() HeartbeatMessage {
	return HeartbeatMessage{Type: MessageHeartbeat}
}

func EndSpeech() EndSpeechMessage {
	return EndSpeechMessage{Type: MessageEndSpeech}
}

func Animate(name, animation string) AnimateMessage {
	return AnimateMessage{Type: MessageAnimate, Name: name, Animation: animation}
}

// RosterUpdate builds an update_users message from a sorted party snapshot.
func RosterUpdate(members []*Member) UpdateUsersMessage {
	users := make([]OverlayUser, 0, len(members))
	for _, m := range members {
		users = append(users, OverlayUser{Name: m.Name, PFPURL: m.PFPURL})
	}
	return UpdateUsersMessage{Type: MessageUpdateUsers, Users: users}
}
