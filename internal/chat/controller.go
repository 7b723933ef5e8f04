// Package chat binds chat commands to session operations and voice lookups,
// keeping registrations, prefix, and cooldown policy in sync with settings.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/WolfwithSword/TwitchChatDND/internal/bus"
	"github.com/WolfwithSword/TwitchChatDND/internal/config"
	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
	"github.com/WolfwithSword/TwitchChatDND/internal/metrics"
	"github.com/WolfwithSword/TwitchChatDND/internal/session"
	"github.com/WolfwithSword/TwitchChatDND/internal/twitch"
)

// Logical command ids. Triggers are read from settings and can change at
// runtime; ids are stable.
const (
	cmdJoin   = "join"
	cmdSay    = "say"
	cmdVoices = "voices"
	cmdVoice  = "voice"
)

const handlerTimeout = 15 * time.Second

// ProfileLookup resolves a chat login to its platform profile, for avatars.
type ProfileLookup interface {
	GetUserByName(ctx context.Context, login string) (*twitch.User, error)
}

// VoiceResolver resolves a voice parameter through the fixed source fallback
// chain.
type VoiceResolver interface {
	Resolve(ctx context.Context, param string) (string, error)
}

// VoiceLister enumerates friendly voice names for one source.
type VoiceLister interface {
	ListVoices(ctx context.Context) (map[string]string, error)
}

// Command is one parsed command invocation.
type Command struct {
	User  domain.ChatUser
	Param string
	reply func(ctx context.Context, text string) error
}

// Reply sends a threaded response to the invoking user. No-op when the
// platform gave us no reply channel.
func (c *Command) Reply(ctx context.Context, text string) error {
	if c.reply == nil {
		return nil
	}
	return c.reply(ctx, text)
}

type handlerFunc func(ctx context.Context, cmd *Command) error

type binding struct {
	id         string
	trigger    string
	handler    handlerFunc
	middleware []Middleware
}

// Options wires a Controller.
type Options struct {
	Config      *config.Config
	Session     *session.Manager
	Members     domain.MemberStore
	Voices      domain.VoiceStore
	Profiles    ProfileLookup
	Resolver    VoiceResolver
	LocalVoices VoiceLister
	Sender      domain.ChatSender
	Events      *bus.Registry
	Clock       clockwork.Clock
}

// Controller owns the command surface. Registration state is mutated only
// under its lock, and always in unregister/register pairs, so a failed
// settings refresh can never leave a command half-bound.
type Controller struct {
	cfg      *config.Config
	session  *session.Manager
	members  domain.MemberStore
	voices   domain.VoiceStore
	profiles ProfileLookup
	resolver VoiceResolver
	local    VoiceLister
	sender   domain.ChatSender
	events   *bus.Registry
	clock    clockwork.Clock

	mu         sync.Mutex
	prefix     string
	bindings   map[string]*binding // by logical id
	registered map[string]*binding // by trigger
	allow      *AllowList
}

// NewController builds the controller and registers the always-on voice
// commands. Join and say come and go with the session lifecycle.
func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	c := &Controller{
		cfg:        opts.Config,
		session:    opts.Session,
		members:    opts.Members,
		voices:     opts.Voices,
		profiles:   opts.Profiles,
		resolver:   opts.Resolver,
		local:      opts.LocalVoices,
		sender:     opts.Sender,
		events:     opts.Events,
		clock:      opts.Clock,
		prefix:     opts.Config.Prefix(),
		bindings:   make(map[string]*binding),
		registered: make(map[string]*binding),
		allow:      NewAllowList(),
	}

	c.mu.Lock()
	c.register(cmdVoices)
	c.register(cmdVoice)
	c.mu.Unlock()

	c.events.PartyChanged.Subscribe("chat_allowlist", func(party []*domain.Member) error {
		names := make([]string, 0, len(party))
		for _, m := range party {
			names = append(names, m.Name)
		}
		c.allow.Update(names)
		return nil
	})
	c.events.SettingsUpdated.Subscribe("chat_rebind", func(struct{}) error {
		c.UpdateSettings()
		return nil
	})

	return c
}

// HandleMessage parses an inbound chat line and dispatches it to a bound
// command. Handler failures are caught here and never propagate to the
// connection loop.
func (c *Controller) HandleMessage(msg domain.ChatMessage) {
	c.mu.Lock()
	prefix := c.prefix
	c.mu.Unlock()

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, prefix) {
		return
	}

	trigger, param, _ := strings.Cut(strings.TrimPrefix(text, prefix), " ")
	trigger = strings.ToLower(strings.TrimSpace(trigger))
	if trigger == "" {
		return
	}

	c.mu.Lock()
	b, ok := c.registered[trigger]
	c.mu.Unlock()
	if !ok {
		return
	}

	for _, mw := range b.middleware {
		if !mw.Allow(msg.User) {
			metrics.CommandInvocationsTotal.WithLabelValues(b.id, "blocked").Inc()
			return
		}
	}

	cmd := &Command{User: msg.User, Param: strings.TrimSpace(param), reply: msg.Reply}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			metrics.CommandInvocationsTotal.WithLabelValues(b.id, "panic").Inc()
			slog.Error("Command handler panicked", "command", b.id, "panic", r)
		}
	}()

	if err := b.handler(ctx, cmd); err != nil {
		metrics.CommandInvocationsTotal.WithLabelValues(b.id, "error").Inc()
		slog.Error("Command handler failed", "command", b.id, "user", msg.User.Name, "error", err)
		return
	}
	metrics.CommandInvocationsTotal.WithLabelValues(b.id, "ok").Inc()
}

// UpdateSettings re-reads the prefix and command triggers, re-registering
// every currently registered command with fresh settings. Commands that are
// not registered stay unregistered.
func (c *Controller) UpdateSettings() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prefix = c.cfg.Prefix()
	for _, id := range []string{cmdJoin, cmdSay, cmdVoices, cmdVoice} {
		if c.unregister(id) {
			c.register(id)
		}
	}
}

// OpenSession resets any running session, opens the queue, swaps say for
// join, and announces the queue invitation.
func (c *Controller) OpenSession(ctx context.Context) {
	c.session.End()
	c.session.Open()

	c.mu.Lock()
	c.unregister(cmdSay)
	c.unregister(cmdJoin)
	c.register(cmdJoin)
	joinTrigger := ""
	if b, ok := c.bindings[cmdJoin]; ok {
		joinTrigger = b.trigger
	}
	prefix := c.prefix
	c.mu.Unlock()

	c.announce(ctx, fmt.Sprintf("Session started! Type %s%s to queue for the adventuring party", prefix, joinTrigger))
}

// StartSession locks in a party. On success join is swapped for say and the
// party is welcomed; on failure the queue shortfall is announced. Returns
// whether the session started.
func (c *Controller) StartSession(ctx context.Context, partySize int) bool {
	if !c.session.StartSession(partySize) {
		target := partySize
		if target <= 0 {
			target = c.session.PartySize()
		}

		c.mu.Lock()
		joinTrigger := ""
		if b, ok := c.bindings[cmdJoin]; ok {
			joinTrigger = b.trigger
		}
		prefix := c.prefix
		c.mu.Unlock()

		c.announce(ctx, fmt.Sprintf("Not enough party members in the queue! Type %s%s to join (%d/%d)",
			prefix, joinTrigger, c.session.QueueLen(), target))
		return false
	}

	c.mu.Lock()
	c.unregister(cmdJoin)
	c.unregister(cmdSay)
	c.register(cmdSay)
	sayTrigger := ""
	if b, ok := c.bindings[cmdSay]; ok {
		sayTrigger = b.trigger
	}
	prefix := c.prefix
	c.mu.Unlock()

	names := make([]string, 0)
	for _, m := range c.session.Party() {
		names = append(names, m.Name)
	}
	c.announce(ctx, "Say welcome to our party members: "+strings.Join(names, ", "))
	c.announce(ctx, fmt.Sprintf("Party members, type %s%s <msg> to have it spoken via TTS", prefix, sayTrigger))
	return true
}

// EndSession tears the session down and unregisters both lifecycle commands.
func (c *Controller) EndSession() {
	c.session.End()

	c.mu.Lock()
	c.unregister(cmdSay)
	c.unregister(cmdJoin)
	c.mu.Unlock()
}

// register binds a logical command to its configured trigger. Caller holds
// the lock.
func (c *Controller) register(id string) {
	trigger := strings.ToLower(strings.TrimSpace(c.cfg.Get(config.SectionBot, triggerOption(id))))
	if trigger == "" {
		slog.Warn("Command has no configured trigger, skipping", "command", id)
		return
	}

	b := &binding{id: id, trigger: trigger, handler: c.handlerFor(id), middleware: c.middlewareFor(id)}
	c.bindings[id] = b
	c.registered[trigger] = b
}

// unregister removes a logical command binding, reporting whether anything
// was removed. Caller holds the lock.
func (c *Controller) unregister(id string) bool {
	b, ok := c.bindings[id]
	if !ok {
		return false
	}
	delete(c.bindings, id)
	delete(c.registered, b.trigger)
	return true
}

// triggerOption maps a logical command id to its settings key.
func triggerOption(id string) string {
	if id == cmdSay {
		return "speak_command"
	}
	return id + "_command"
}

func (c *Controller) handlerFor(id string) handlerFunc {
	switch id {
	case cmdJoin:
		return c.handleJoin
	case cmdSay:
		return c.handleSay
	case cmdVoices:
		return c.handleVoices
	case cmdVoice:
		return c.handleSetVoice
	default:
		return func(context.Context, *Command) error { return nil }
	}
}

func (c *Controller) middlewareFor(id string) []Middleware {
	switch id {
	case cmdJoin:
		return []Middleware{NewUserCooldown(30*time.Second, c.clock)}
	case cmdSay:
		return []Middleware{c.allow, NewChannelCooldown(10*time.Second, c.clock), NewUserCooldown(15*time.Second, c.clock)}
	case cmdVoices:
		return []Middleware{NewChannelCooldown(10*time.Second, c.clock), NewUserCooldown(15*time.Second, c.clock)}
	case cmdVoice:
		return []Middleware{NewUserCooldown(10*time.Second, c.clock)}
	default:
		return nil
	}
}

func (c *Controller) handleJoin(ctx context.Context, cmd *Command) error {
	member, err := c.upsertInvoker(ctx, cmd)
	if err != nil {
		return err
	}

	cooldown := time.Duration(c.cfg.GetInt(config.SectionBot, "join_cooldown_minutes")) * time.Minute
	if cooldown > 0 && !member.LastSession.IsZero() {
		elapsed := c.clock.Now().Sub(member.LastSession)
		if elapsed < cooldown {
			wait := (cooldown - elapsed).Round(time.Minute)
			if wait < time.Minute {
				wait = time.Minute
			}
			return cmd.Reply(ctx, fmt.Sprintf("@%s you finished a session recently, try again in %s", cmd.User.DisplayName, wait))
		}
	}

	if c.session.InQueue(member.Name) {
		return cmd.Reply(ctx, fmt.Sprintf("%s already in the queue", member.Name))
	}

	c.session.JoinQueue(member)
	if err := c.events.MemberJoinedQueue.Publish(member.Name); err != nil {
		slog.Error("Join queue handler failed", "member", member.Name, "error", err)
	}
	return cmd.Reply(ctx, fmt.Sprintf("%s added to queue", member.Name))
}

func (c *Controller) handleSay(ctx context.Context, cmd *Command) error {
	if cmd.Param == "" {
		return nil
	}

	member, err := c.members.Fetch(ctx, cmd.User.Name)
	if err != nil {
		return fmt.Errorf("failed to fetch speaking member: %w", err)
	}

	return c.events.SpeakRequested.Publish(domain.SpeechRequest{Member: member, Text: cmd.Param})
}

func (c *Controller) handleVoices(ctx context.Context, cmd *Command) error {
	c.mu.Lock()
	prefix := c.prefix
	trigger := ""
	if b, ok := c.bindings[cmdVoices]; ok {
		trigger = b.trigger
	}
	c.mu.Unlock()

	switch strings.ToLower(cmd.Param) {
	case "local":
		listed, err := c.local.ListVoices(ctx)
		if err != nil {
			return fmt.Errorf("failed to list local voices: %w", err)
		}
		names := make([]string, 0, len(listed))
		for name := range listed {
			names = append(names, name)
		}
		sort.Strings(names)
		return cmd.Reply(ctx, "Local voices: "+strings.Join(names, ", "))

	case "se":
		return cmd.Reply(ctx, "Prefix a StreamElements voice name with 'se.' to use it, e.g. se.Brian")

	case "11l", "elevenlabs":
		imported, err := c.voices.ListBySource(ctx, domain.SourceElevenLabs)
		if err != nil {
			return fmt.Errorf("failed to list imported voices: %w", err)
		}
		if len(imported) == 0 {
			return cmd.Reply(ctx, "No ElevenLabs voices imported yet. Set one by its voice id to import it.")
		}
		names := make([]string, 0, len(imported))
		for _, v := range imported {
			names = append(names, v.Name)
		}
		sort.Strings(names)
		return cmd.Reply(ctx, "ElevenLabs voices: "+strings.Join(names, ", "))

	default:
		return cmd.Reply(ctx, fmt.Sprintf("@%s available TTS types are 'local', 'se', '11l'. Try %s%s <type>",
			cmd.User.DisplayName, prefix, trigger))
	}
}

func (c *Controller) handleSetVoice(ctx context.Context, cmd *Command) error {
	if cmd.Param == "" {
		c.mu.Lock()
		prefix := c.prefix
		trigger := ""
		if b, ok := c.bindings[cmdVoices]; ok {
			trigger = b.trigger
		}
		c.mu.Unlock()
		return cmd.Reply(ctx, fmt.Sprintf("@%s Please specify a voice to set to. Find voices using %s%s <type>",
			cmd.User.DisplayName, prefix, trigger))
	}

	voiceID, err := c.resolver.Resolve(ctx, cmd.Param)
	if errors.Is(err, domain.ErrVoiceNotFound) {
		return cmd.Reply(ctx, fmt.Sprintf("@%s Could not set TTS voice. Voice not available or not found.", cmd.User.DisplayName))
	}
	if err != nil {
		if replyErr := cmd.Reply(ctx, fmt.Sprintf("@%s Error setting TTS voice!", cmd.User.DisplayName)); replyErr != nil {
			slog.Error("Failed to send voice error reply", "error", replyErr)
		}
		return fmt.Errorf("failed to resolve voice: %w", err)
	}

	member, err := c.upsertInvoker(ctx, cmd)
	if err != nil {
		if replyErr := cmd.Reply(ctx, fmt.Sprintf("@%s Error setting TTS voice!", cmd.User.DisplayName)); replyErr != nil {
			slog.Error("Failed to send voice error reply", "error", replyErr)
		}
		return err
	}

	if err := c.members.UpdatePreferredVoice(ctx, member.Name, voiceID); err != nil {
		return fmt.Errorf("failed to persist voice preference: %w", err)
	}

	// A party snapshot may hold a stale copy of this member.
	member.PreferredVoiceID = voiceID
	c.session.RefreshMember(member)

	return cmd.Reply(ctx, fmt.Sprintf("@%s Successfully set TTS voice!", cmd.User.DisplayName))
}

// upsertInvoker fetches the invoking user's profile and creates or refreshes
// their member record.
func (c *Controller) upsertInvoker(ctx context.Context, cmd *Command) (*domain.Member, error) {
	user, err := c.profiles.GetUserByName(ctx, cmd.User.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user %q: %w", cmd.User.Name, err)
	}

	member, err := c.members.Upsert(ctx, cmd.User.Name, user.ProfileImageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert member %q: %w", cmd.User.Name, err)
	}
	return member, nil
}

func (c *Controller) announce(ctx context.Context, text string) {
	if err := c.sender.SendMessage(ctx, text); err != nil {
		slog.Error("Failed to send chat announcement", "error", err)
	}
}
