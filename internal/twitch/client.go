// Package twitch adapts the Twitch platform: Helix API calls for user lookup
// and chat sending, and the EventSub websocket feed for inbound chat.
package twitch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nicklaw5/helix/v2"
	"golang.org/x/sync/singleflight"

	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
	apperrors "github.com/WolfwithSword/TwitchChatDND/internal/errors"
)

const userCacheTTL = 10 * time.Minute

// Credentials holds the Twitch application and bot account credentials.
type Credentials struct {
	ClientID     string
	ClientSecret string
	// UserToken is the bot account's user access token. Required for sending
	// chat messages and for websocket EventSub subscriptions.
	UserToken    string
	RefreshToken string
	// BotUserID is the Twitch user id of the bot account.
	BotUserID string
}

// User is the subset of a Helix user record the orchestrator cares about.
type User struct {
	ID              string
	Login           string
	DisplayName     string
	ProfileImageURL string
}

type cachedUser struct {
	user    User
	expires time.Time
}

// Client wraps the Helix API with token management, a short-lived user cache
// and collapsed concurrent lookups.
type Client struct {
	helix *helix.Client
	creds Credentials
	clock clockwork.Clock

	group singleflight.Group
	mu    sync.Mutex
	users map[string]cachedUser
}

// NewClient builds the Helix client and obtains an app access token.
func NewClient(creds Credentials, clock clockwork.Clock) (*Client, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	hc, err := helix.NewClient(&helix.Options{
		ClientID:        creds.ClientID,
		ClientSecret:    creds.ClientSecret,
		UserAccessToken: creds.UserToken,
		RefreshToken:    creds.RefreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}

	resp, err := hc.RequestAppAccessToken(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to request app access token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.ExternalError(fmt.Sprintf("app token request rejected: %s", resp.ErrorMessage), nil)
	}
	hc.SetAppAccessToken(resp.Data.AccessToken)

	return &Client{
		helix: hc,
		creds: creds,
		clock: clock,
		users: make(map[string]cachedUser),
	}, nil
}

// GetUserByName resolves a login name to a user record. Results are cached
// and concurrent lookups for the same name are collapsed into one API call.
func (c *Client) GetUserByName(ctx context.Context, login string) (*User, error) {
	login = domain.NormalizeName(login)

	c.mu.Lock()
	if cached, ok := c.users[login]; ok && c.clock.Now().Before(cached.expires) {
		c.mu.Unlock()
		u := cached.user
		return &u, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(login, func() (any, error) {
		return c.fetchUser(login)
	})
	if err != nil {
		return nil, err
	}

	u := v.(User)
	return &u, nil
}

func (c *Client) fetchUser(login string) (User, error) {
	resp, err := c.helix.GetUsers(&helix.UsersParams{Logins: []string{login}})
	if err != nil {
		return User{}, apperrors.ExternalError("user lookup failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return User{}, apperrors.ExternalError(fmt.Sprintf("user lookup rejected: %s", resp.ErrorMessage), nil)
	}
	if len(resp.Data.Users) == 0 {
		return User{}, apperrors.NotFoundError(fmt.Sprintf("twitch user %q not found", login))
	}

	raw := resp.Data.Users[0]
	u := User{
		ID:              raw.ID,
		Login:           raw.Login,
		DisplayName:     raw.DisplayName,
		ProfileImageURL: raw.ProfileImageURL,
	}

	c.mu.Lock()
	c.users[login] = cachedUser{user: u, expires: c.clock.Now().Add(userCacheTTL)}
	c.mu.Unlock()

	return u, nil
}

// SendChatMessage posts a chat message to the broadcaster's channel as the
// bot account, optionally threaded as a reply.
func (c *Client) SendChatMessage(ctx context.Context, broadcasterID, text, replyParentID string) error {
	resp, err := c.helix.SendChatMessage(&helix.SendChatMessageParams{
		BroadcasterID:        broadcasterID,
		SenderID:             c.creds.BotUserID,
		Message:              text,
		ReplyParentMessageID: replyParentID,
	})
	if err != nil {
		return apperrors.ExternalError("chat send failed", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		if refreshErr := c.refreshUserToken(); refreshErr != nil {
			return refreshErr
		}
		return c.SendChatMessage(ctx, broadcasterID, text, replyParentID)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.ExternalError(fmt.Sprintf("chat send rejected: %s", resp.ErrorMessage), nil)
	}
	return nil
}

// SubscribeChatMessages creates the channel.chat.message EventSub subscription
// bound to a websocket session.
func (c *Client) SubscribeChatMessages(ctx context.Context, sessionID, broadcasterID string) error {
	resp, err := c.helix.CreateEventSubSubscription(&helix.EventSubSubscription{
		Type:    "channel.chat.message",
		Version: "1",
		Condition: helix.EventSubCondition{
			BroadcasterUserID: broadcasterID,
			UserID:            c.creds.BotUserID,
		},
		Transport: helix.EventSubTransport{
			Method:    "websocket",
			SessionID: sessionID,
		},
	})
	if err != nil {
		return apperrors.ExternalError("eventsub subscribe failed", err)
	}
	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusOK:
		return nil
	case http.StatusConflict:
		// Already subscribed on this session.
		return nil
	case http.StatusUnauthorized:
		if refreshErr := c.refreshUserToken(); refreshErr != nil {
			return refreshErr
		}
		return c.SubscribeChatMessages(ctx, sessionID, broadcasterID)
	default:
		return apperrors.ExternalError(fmt.Sprintf("eventsub subscribe rejected: %s", resp.ErrorMessage), nil)
	}
}

func (c *Client) refreshUserToken() error {
	if c.creds.RefreshToken == "" {
		return apperrors.ExternalError("user token expired and no refresh token configured", nil)
	}

	resp, err := c.helix.RefreshUserAccessToken(c.creds.RefreshToken)
	if err != nil {
		return apperrors.ExternalError("token refresh failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.ExternalError(fmt.Sprintf("token refresh rejected: %s", resp.ErrorMessage), nil)
	}

	c.creds.UserToken = resp.Data.AccessToken
	c.creds.RefreshToken = resp.Data.RefreshToken
	c.helix.SetUserAccessToken(resp.Data.AccessToken)
	return nil
}
