package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
)

const (
	eventSubURL      = "wss://eventsub.wss.twitch.tv/ws"
	dialTimeout      = 10 * time.Second
	keepaliveGrace   = 10 * time.Second
	defaultKeepalive = 30 * time.Second
)

// frame is the EventSub websocket message envelope.
type frame struct {
	Metadata struct {
		MessageID        string `json:"message_id"`
		MessageType      string `json:"message_type"`
		SubscriptionType string `json:"subscription_type"`
	} `json:"metadata"`
	Payload json.RawMessage `json:"payload"`
}

type sessionPayload struct {
	Session struct {
		ID                      string `json:"id"`
		KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
		ReconnectURL            string `json:"reconnect_url"`
	} `json:"session"`
}

type notificationPayload struct {
	Subscription struct {
		Type string `json:"type"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}

type chatMessageEvent struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
	ChatterUserID     string `json:"chatter_user_id"`
	ChatterUserLogin  string `json:"chatter_user_login"`
	ChatterUserName   string `json:"chatter_user_name"`
	MessageID         string `json:"message_id"`
	Message           struct {
		Text string `json:"text"`
	} `json:"message"`
}

// Socket is one EventSub websocket connection lifecycle. It dials, waits for
// the welcome frame, invokes the subscribe hook with the session id and then
// feeds chat notifications to the message handler until the connection dies.
type Socket struct {
	url    string
	dialer *websocket.Dialer

	// OnWelcome is called once per lifecycle with the session id, inside
	// Twitch's subscribe window. Returning an error aborts the connection.
	OnWelcome func(ctx context.Context, sessionID string) error
	// OnMessage receives each inbound chat message.
	OnMessage func(msg domain.ChatMessage)
	// Reply sends a threaded reply to a chat message.
	Reply func(ctx context.Context, broadcasterID, text, parentMessageID string) error
}

// NewSocket creates a socket against the production EventSub endpoint.
func NewSocket() *Socket {
	return &Socket{
		url:    eventSubURL,
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeout},
	}
}

// Run drives one connection until ctx ends or the connection fails. Twitch
// reconnect frames are followed transparently; any other exit returns an
// error so the caller can redial with backoff.
func (s *Socket) Run(ctx context.Context) error {
	conn, err := s.dial(ctx, s.url)
	if err != nil {
		return fmt.Errorf("failed to dial eventsub: %w", err)
	}
	defer conn.Close()

	keepalive := defaultKeepalive
	welcomed := false

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_ = conn.SetReadDeadline(time.Now().Add(keepalive + keepaliveGrace))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("eventsub read failed: %w", err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("Discarding malformed eventsub frame", "error", err)
			continue
		}

		switch f.Metadata.MessageType {
		case "session_welcome":
			var p sessionPayload
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				return fmt.Errorf("malformed welcome payload: %w", err)
			}
			if p.Session.KeepaliveTimeoutSeconds > 0 {
				keepalive = time.Duration(p.Session.KeepaliveTimeoutSeconds) * time.Second
			}
			if !welcomed {
				welcomed = true
				if s.OnWelcome != nil {
					if err := s.OnWelcome(ctx, p.Session.ID); err != nil {
						return fmt.Errorf("welcome handling failed: %w", err)
					}
				}
			}

		case "session_keepalive":
			// Deadline already refreshed above.

		case "session_reconnect":
			var p sessionPayload
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				return fmt.Errorf("malformed reconnect payload: %w", err)
			}
			slog.Info("Following eventsub reconnect", "url", p.Session.ReconnectURL)
			next, err := s.dial(ctx, p.Session.ReconnectURL)
			if err != nil {
				return fmt.Errorf("failed to follow reconnect: %w", err)
			}
			conn.Close()
			conn = next

		case "notification":
			s.handleNotification(ctx, f.Payload)

		case "revocation":
			return fmt.Errorf("eventsub subscription revoked")
		}
	}
}

func (s *Socket) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	return conn, err
}

func (s *Socket) handleNotification(ctx context.Context, payload json.RawMessage) {
	var p notificationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		slog.Warn("Discarding malformed notification payload", "error", err)
		return
	}
	if p.Subscription.Type != "channel.chat.message" || s.OnMessage == nil {
		return
	}

	var ev chatMessageEvent
	if err := json.Unmarshal(p.Event, &ev); err != nil {
		slog.Warn("Discarding malformed chat message event", "error", err)
		return
	}

	msg := domain.ChatMessage{
		User: domain.ChatUser{
			ID:          ev.ChatterUserID,
			Name:        ev.ChatterUserLogin,
			DisplayName: ev.ChatterUserName,
		},
		Text: ev.Message.Text,
	}
	if s.Reply != nil {
		broadcasterID := ev.BroadcasterUserID
		parentID := ev.MessageID
		msg.Reply = func(ctx context.Context, text string) error {
			return s.Reply(ctx, broadcasterID, text, parentID)
		}
	}

	s.OnMessage(msg)
}
