package overlay

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/WolfwithSword/TwitchChatDND/internal/bus"
	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
	"github.com/WolfwithSword/TwitchChatDND/internal/metrics"
	"github.com/WolfwithSword/TwitchChatDND/internal/tts"
)

const (
	speechQueueSize = 64
	idleSettleDelay = 200 * time.Millisecond
)

// Bridge connects the event bus to the overlay hub. It consumes speech
// requests in FIFO order, drives the synthesis pipeline for each one, and
// mirrors party changes onto the roster display. Chunk emission is paced by
// each chunk's playback duration so the overlay's speaking animation tracks
// the audio actually being played.
type Bridge struct {
	hub      *Hub
	speakers tts.Registry
	voices   domain.VoiceStore
	events   *bus.Registry
	roster   func() []*domain.Member
	clock    clockwork.Clock

	queue chan domain.SpeechRequest
}

// NewBridge wires the bridge into the bus and the hub connect hook. roster
// supplies the current party snapshot for replays to fresh clients.
func NewBridge(hub *Hub, speakers tts.Registry, voices domain.VoiceStore, events *bus.Registry, roster func() []*domain.Member, clock clockwork.Clock) *Bridge {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	b := &Bridge{
		hub:      hub,
		speakers: speakers,
		voices:   voices,
		events:   events,
		roster:   roster,
		clock:    clock,
		queue:    make(chan domain.SpeechRequest, speechQueueSize),
	}

	events.SpeakRequested.SubscribeAsync("overlay_bridge", b.enqueue)
	events.PartyChanged.Subscribe("overlay_roster", b.onPartyChanged)
	events.OverlayOpened.Subscribe("overlay_replay", b.onOverlayOpened)

	hub.OnControlConnect = func() {
		if err := events.OverlayOpened.Publish(struct{}{}); err != nil {
			slog.Error("Overlay open handler failed", "error", err)
		}
	}

	return b
}

// Run consumes the speech queue until ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case req := <-b.queue:
			b.speak(ctx, req)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Bridge) enqueue(req domain.SpeechRequest) error {
	select {
	case b.queue <- req:
	default:
		slog.Warn("Speech queue full, dropping utterance", "member", req.Member.Name)
		metrics.SpeechUtterancesTotal.WithLabelValues("unknown", "dropped").Inc()
	}
	return nil
}

func (b *Bridge) onPartyChanged(party []*domain.Member) error {
	if len(party) == 0 {
		// Never leave a stale speaking animation behind after a session ends
		// mid-utterance.
		b.hub.BroadcastControl(domain.EndSpeech())
	}
	b.hub.BroadcastControl(domain.RosterUpdate(party))
	return nil
}

func (b *Bridge) onOverlayOpened(struct{}) error {
	b.hub.BroadcastControl(domain.Heartbeat())
	if b.roster != nil {
		b.hub.BroadcastControl(domain.RosterUpdate(b.roster()))
	}
	return nil
}

// resolveVoice maps the member's stored preference to a speaker and voice id,
// defaulting to the local engine when nothing usable is stored.
func (b *Bridge) resolveVoice(ctx context.Context, member *domain.Member) (domain.Speaker, string) {
	source := domain.SourceLocal
	voiceID := ""

	if member.PreferredVoiceID != "" {
		voice, err := b.voices.FetchByUID(ctx, member.PreferredVoiceID)
		if err != nil {
			slog.Warn("Preferred voice not found, using local default", "member", member.Name, "voice_id", member.PreferredVoiceID)
		} else {
			source = voice.Source
			voiceID = voice.UID
		}
	}

	return b.speakers.For(source), voiceID
}

func (b *Bridge) speak(ctx context.Context, req domain.SpeechRequest) {
	speaker, voiceID := b.resolveVoice(ctx, req.Member)

	stream, err := speaker.GetStream(ctx, req.Text, voiceID)
	if err != nil {
		metrics.SpeechUtterancesTotal.WithLabelValues(string(speaker.Source()), "error").Inc()
		slog.Error("Speech synthesis failed", "member", req.Member.Name, "source", speaker.Source(), "error", err)
		return
	}

	slog.Info("Speaking", "member", req.Member.Name, "source", speaker.Source())
	b.hub.BroadcastAudio(stream.Header)

	started := false
	var total, lastChunk time.Duration
	for chunk := range stream.Chunks {
		if !started {
			started = true
			b.hub.BroadcastControl(domain.Animate(req.Member.Name, "bounce"))
			b.hub.BroadcastControl(domain.SpeechMessage{
				Type:    domain.MessageSpeech,
				Name:    req.Member.Name,
				Message: req.Text,
			})
		}

		b.hub.BroadcastAudio(chunk.Data)
		total += chunk.Duration
		lastChunk = chunk.Duration

		if !b.sleep(ctx, chunk.Duration) {
			return
		}
	}

	// Let the client drain its playback buffer before flipping the animation.
	if !b.sleep(ctx, lastChunk) {
		return
	}
	b.hub.BroadcastControl(domain.Animate(req.Member.Name, "idle"))
	if !b.sleep(ctx, idleSettleDelay) {
		return
	}
	b.hub.BroadcastControl(domain.EndSpeech())

	metrics.SpeechUtterancesTotal.WithLabelValues(string(speaker.Source()), "ok").Inc()
	metrics.SpeechDurationSeconds.Observe(total.Seconds())
}

func (b *Bridge) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-b.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
