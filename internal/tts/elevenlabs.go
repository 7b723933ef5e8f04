package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/sony/gobreaker"

	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
	apperrors "github.com/WolfwithSword/TwitchChatDND/internal/errors"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io/v1"
	// elevenLabsModel favors latency over top quality, matching the local
	// engine's sample rate so the overlay plays both the same way.
	elevenLabsModel  = "eleven_flash_v2_5"
	elevenLabsFormat = "pcm_22050"
)

// elevenLabsIDPattern matches the provider's 20-character voice ids.
var elevenLabsIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{20}$`)

// ElevenLabs speaks through the ElevenLabs streaming endpoint, requesting raw
// PCM and framing it with a WAV header.
type ElevenLabs struct {
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	format  Format
}

// NewElevenLabs creates the ElevenLabs speaker. An empty api key produces a
// speaker whose calls fail as external errors until a key is configured.
func NewElevenLabs(apiKey string, client *http.Client) *ElevenLabs {
	if client == nil {
		client = &http.Client{Timeout: cloudRequestTimeout}
	}
	return &ElevenLabs{
		apiKey:  apiKey,
		client:  client,
		breaker: newCloudBreaker("elevenlabs"),
		format:  Format{SampleRate: 22050, BitsPerSample: 16, Channels: 1},
	}
}

func (e *ElevenLabs) Source() domain.VoiceSource { return domain.SourceElevenLabs }

// Configured reports whether an api key is present.
func (e *ElevenLabs) Configured() bool { return e.apiKey != "" }

// IsVoiceID reports whether param looks like an ElevenLabs voice id.
func IsVoiceID(param string) bool {
	return elevenLabsIDPattern.MatchString(param)
}

// GetStream synthesizes text and chunks the PCM response.
func (e *ElevenLabs) GetStream(ctx context.Context, text, voiceID string) (*domain.SpeechStream, error) {
	if !e.Configured() {
		return nil, apperrors.ExternalError("elevenlabs api key not configured", nil)
	}
	if voiceID == "" {
		return nil, apperrors.ValidationError("elevenlabs requires a voice id")
	}

	body, err := e.breaker.Execute(func() (any, error) {
		return e.synthesize(ctx, text, voiceID)
	})
	if err != nil {
		return nil, apperrors.ExternalError("elevenlabs tts request failed", err)
	}

	return chunkStream(ctx, e.format, body.([]byte)), nil
}

func (e *ElevenLabs) synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": elevenLabsModel,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s", elevenLabsBaseURL, voiceID, elevenLabsFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
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

// ListVoices fetches the account's voices from the provider.
func (e *ElevenLabs) ListVoices(ctx context.Context) (map[string]string, error) {
	if !e.Configured() {
		return map[string]string{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, elevenLabsBaseURL+"/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperrors.ExternalError("elevenlabs voice listing failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.ExternalError("elevenlabs voice listing failed",
			fmt.Errorf("status %d", resp.StatusCode))
	}

	var parsed struct {
		Voices []struct {
			VoiceID string `json:"voice_id"`
			Name    string `json:"name"`
		} `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.ExternalError("elevenlabs voice listing failed", err)
	}

	out := make(map[string]string, len(parsed.Voices))
	for _, v := range parsed.Voices {
		out[fmt.Sprintf("%s (%s)", v.Name, v.VoiceID)] = v.VoiceID
	}
	return out, nil
}

// LookupVoice checks whether the provider account has a voice with the id,
// the last step of the voice-set fallback chain.
func (e *ElevenLabs) LookupVoice(ctx context.Context, voiceID string) (*domain.Voice, error) {
	if !e.Configured() {
		return nil, domain.ErrVoiceNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, elevenLabsBaseURL+"/voices/"+voiceID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperrors.ExternalError("elevenlabs voice lookup failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrVoiceNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.ExternalError("elevenlabs voice lookup failed",
			fmt.Errorf("status %d", resp.StatusCode))
	}

	var parsed struct {
		VoiceID string `json:"voice_id"`
		Name    string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.ExternalError("elevenlabs voice lookup failed", err)
	}

	return &domain.Voice{Name: parsed.Name, UID: parsed.VoiceID, Source: domain.SourceElevenLabs}, nil
}
