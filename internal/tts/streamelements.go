package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
	apperrors "github.com/WolfwithSword/TwitchChatDND/internal/errors"
)

const (
	streamElementsURL    = "https://api.streamelements.com/kappa/v2/speech"
	seVoicePrefix        = "se."
	cloudRequestTimeout  = 30 * time.Second
	breakerOpenDuration  = 30 * time.Second
	breakerFailThreshold = 5
)

// seVoices are the StreamElements voice names accepted by the speech endpoint.
var seVoices = []string{
	"Brian", "Amy", "Emma", "Geraint", "Russell", "Nicole",
	"Joey", "Justin", "Matthew", "Ivy", "Joanna", "Kendra",
	"Kimberly", "Salli", "Raveena",
}

func newCloudBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailThreshold
		},
	})
}

// StreamElements speaks through the public StreamElements speech endpoint.
// Voice ids carry the "se." prefix to keep them distinct from other sources.
type StreamElements struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	format  Format
}

// NewStreamElements creates the StreamElements speaker.
func NewStreamElements(client *http.Client) *StreamElements {
	if client == nil {
		client = &http.Client{Timeout: cloudRequestTimeout}
	}
	return &StreamElements{
		client:  client,
		breaker: newCloudBreaker("streamelements"),
		format:  DefaultFormat,
	}
}

func (s *StreamElements) Source() domain.VoiceSource { return domain.SourceStreamElements }

// ListVoices maps the known voice names to their prefixed ids.
func (s *StreamElements) ListVoices(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(seVoices))
	for _, v := range seVoices {
		out["SE "+v] = seVoicePrefix + v
	}
	return out, nil
}

// SEVoice returns the raw StreamElements voice name for a prefixed id, or ""
// when the id does not belong to this source.
func SEVoice(voiceID string) string {
	if !strings.HasPrefix(voiceID, seVoicePrefix) {
		return ""
	}
	return strings.TrimPrefix(voiceID, seVoicePrefix)
}

// ResolveVoiceID validates a prefixed id against the known voice set, the
// first step of the voice-set fallback chain.
func (s *StreamElements) ResolveVoiceID(param string) string {
	base := SEVoice(param)
	for _, v := range seVoices {
		if strings.EqualFold(v, base) {
			return seVoicePrefix + v
		}
	}
	return ""
}

// GetStream fetches and chunks the synthesized audio.
func (s *StreamElements) GetStream(ctx context.Context, text, voiceID string) (*domain.SpeechStream, error) {
	voice := SEVoice(voiceID)
	if voice == "" {
		voice = "Brian"
	}

	body, err := s.breaker.Execute(func() (any, error) {
		return s.fetch(ctx, text, voice)
	})
	if err != nil {
		return nil, apperrors.ExternalError("streamelements tts request failed", err)
	}

	return chunkStream(ctx, s.format, body.([]byte)), nil
}

func (s *StreamElements) fetch(ctx context.Context, text, voice string) ([]byte, error) {
	q := url.Values{}
	q.Set("voice", voice)
	q.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamElementsURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	return io.ReadAll(resp.Body)
}
