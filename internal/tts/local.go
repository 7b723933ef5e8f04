package tts

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
	apperrors "github.com/WolfwithSword/TwitchChatDND/internal/errors"
)

const localVoicePrefix = "local."

// LocalEngine synthesizes speech by running an installed command-line synth
// (espeak-ng by default) that writes WAV to stdout. Voices map onto the
// engine's voice flag.
type LocalEngine struct {
	command string
	voices  map[string]string // friendly name -> voice id
	format  Format
}

// LocalOptions configures the local engine.
type LocalOptions struct {
	// Command is the synth invocation template. "{voice}" and "{text}" are
	// substituted per utterance. Empty uses the espeak-ng default.
	Command string
	// Voices maps friendly names to engine voice names. Empty enables only
	// the engine default.
	Voices map[string]string
}

// NewLocalEngine creates the local speaker.
func NewLocalEngine(opts LocalOptions) *LocalEngine {
	if opts.Command == "" {
		opts.Command = `espeak-ng -v {voice} --stdout {text}`
	}
	voices := opts.Voices
	if len(voices) == 0 {
		voices = map[string]string{"Default": localVoicePrefix + "en"}
	}
	return &LocalEngine{
		command: opts.Command,
		voices:  voices,
		format:  DefaultFormat,
	}
}

func (e *LocalEngine) Source() domain.VoiceSource { return domain.SourceLocal }

// ListVoices returns the configured friendly-name to id mapping.
func (e *LocalEngine) ListVoices(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(e.voices))
	for name, id := range e.voices {
		out[name] = id
	}
	return out, nil
}

// VoiceIDByFriendlyName resolves a case-insensitive friendly-name match, the
// second step of the voice-set fallback chain.
func (e *LocalEngine) VoiceIDByFriendlyName(name string) string {
	for friendly, id := range e.voices {
		if strings.EqualFold(friendly, name) {
			return id
		}
	}
	return ""
}

// EngineVoice strips the local id prefix, yielding the engine voice name.
func EngineVoice(voiceID string) string {
	return strings.TrimPrefix(voiceID, localVoicePrefix)
}

// GetStream runs the synth command and chunks its WAV output.
func (e *LocalEngine) GetStream(ctx context.Context, text, voiceID string) (*domain.SpeechStream, error) {
	voice := EngineVoice(voiceID)
	if voice == "" {
		voice = "en"
	}

	args := buildArgs(e.command, voice, text)
	if len(args) == 0 {
		return nil, apperrors.InternalError("local tts command is empty", nil)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return nil, apperrors.ExternalError("local tts synthesis failed", fmt.Errorf("%s: %w", args[0], err))
	}

	return chunkStream(ctx, e.format, stripWAVHeader(out)), nil
}

// buildArgs splits the command template and substitutes placeholders. The
// text is passed as a single argv entry, never through a shell.
func buildArgs(template, voice, text string) []string {
	fields := strings.Fields(template)
	args := make([]string, 0, len(fields))
	for _, f := range fields {
		switch f {
		case "{voice}":
			args = append(args, voice)
		case "{text}":
			args = append(args, text)
		default:
			args = append(args, f)
		}
	}
	return args
}
