package twitch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/WolfwithSword/TwitchChatDND/internal/bus"
	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
	"github.com/WolfwithSword/TwitchChatDND/internal/platform/retry"
)

const (
	channelLookupAttempts = 5
	channelLookupBackoff  = 2 * time.Second
	redialBackoff         = 5 * time.Second
	redialBackoffMax      = 2 * time.Minute
)

// Supervisor owns the chat connection lifecycle: it resolves the configured
// channel, keeps an EventSub websocket alive with backoff redials, and
// reports connectivity on the bus. It also implements domain.ChatSender for
// outbound messages to the resolved channel.
type Supervisor struct {
	client  *Client
	channel string
	events  *bus.Registry
	clock   clockwork.Clock

	// OnMessage receives every inbound chat message once connected.
	OnMessage func(msg domain.ChatMessage)

	mu          sync.RWMutex
	broadcaster *User
}

// NewSupervisor wires the supervisor against a resolved client.
func NewSupervisor(client *Client, channelLogin string, events *bus.Registry, clock clockwork.Clock) *Supervisor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Supervisor{
		client:  client,
		channel: channelLogin,
		events:  events,
		clock:   clock,
	}
}

// Channel returns the resolved broadcaster, or nil before resolution.
func (s *Supervisor) Channel() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.broadcaster
}

// SendMessage posts text to the supervised channel as the bot.
func (s *Supervisor) SendMessage(ctx context.Context, text string) error {
	ch := s.Channel()
	if ch == nil {
		return domain.ErrNotConnected
	}
	return s.client.SendChatMessage(ctx, ch.ID, text, "")
}

// Run blocks until ctx ends, resolving the channel and then holding a chat
// connection open, redialing with growing backoff whenever it drops.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.resolveChannel(ctx); err != nil {
		s.publish(s.events.ChannelFound, false)
		return err
	}
	s.publish(s.events.ChannelFound, true)

	backoff := redialBackoff
	for {
		err := s.runSocket(ctx)
		s.publish(s.events.ChatConnected, false)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("Chat connection lost, redialing", "backoff_seconds", backoff.Seconds(), "error", err)
		select {
		case <-s.clock.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, redialBackoffMax)
	}
}

func (s *Supervisor) resolveChannel(ctx context.Context) error {
	p := retry.Policy{
		MaxAttempts:    channelLookupAttempts,
		InitialBackoff: channelLookupBackoff,
		Clock:          s.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Channel lookup failed, retrying", "channel", s.channel, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", err)
		},
	}

	user, err := retry.Do(ctx, p, retry.RetryAll, func() (*User, error) {
		return s.client.GetUserByName(ctx, s.channel)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.broadcaster = user
	s.mu.Unlock()

	slog.Info("Resolved channel", "channel", user.Login, "broadcaster_id", user.ID)
	return nil
}

func (s *Supervisor) runSocket(ctx context.Context) error {
	broadcaster := s.Channel()

	sock := NewSocket()
	sock.OnMessage = s.OnMessage
	sock.Reply = func(ctx context.Context, broadcasterID, text, parentMessageID string) error {
		return s.client.SendChatMessage(ctx, broadcasterID, text, parentMessageID)
	}
	sock.OnWelcome = func(ctx context.Context, sessionID string) error {
		if err := s.client.SubscribeChatMessages(ctx, sessionID, broadcaster.ID); err != nil {
			return err
		}
		slog.Info("Chat connected", "channel", broadcaster.Login, "session_id", sessionID)
		s.publish(s.events.ChatConnected, true)
		return nil
	}

	return sock.Run(ctx)
}

func (s *Supervisor) publish(e *bus.Event[bool], v bool) {
	if err := e.Publish(v); err != nil {
		slog.Error("Failed to publish connectivity event", "event", e.Name(), "error", err)
	}
}
