// Package tts implements the streaming-audio capability behind the overlay
// bridge: a local synth engine plus the StreamElements and ElevenLabs cloud
// providers, all exposed through the same domain.Speaker interface.
package tts

import (
	"context"

	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
)

const (
	// maxChunkSize bounds one emitted audio chunk (128 KiB). Large chunks
	// reduce audible seams between chunk boundaries on the overlay.
	maxChunkSize = 1024 * 8 * 8 * 2
)

// Registry maps voice sources to their speakers.
type Registry map[domain.VoiceSource]domain.Speaker

// NewRegistry indexes speakers by source.
func NewRegistry(speakers ...domain.Speaker) Registry {
	reg := make(Registry, len(speakers))
	for _, s := range speakers {
		reg[s.Source()] = s
	}
	return reg
}

// For returns the speaker for a source, falling back to the local engine.
func (r Registry) For(source domain.VoiceSource) domain.Speaker {
	if s, ok := r[source]; ok {
		return s
	}
	return r[domain.SourceLocal]
}

// chunkStream slices fully buffered PCM audio into a lazy chunk sequence.
// The feeding goroutine exits when the consumer drains it or ctx ends.
func chunkStream(ctx context.Context, format Format, pcm []byte) *domain.SpeechStream {
	chunks := make(chan domain.AudioChunk)
	header := format.WAVHeader(len(pcm))

	go func() {
		defer close(chunks)
		rest := pcm
		for len(rest) > 0 {
			n := min(maxChunkSize, len(rest))
			chunk := domain.AudioChunk{
				Data:     rest[:n],
				Duration: format.ChunkDuration(n),
			}
			rest = rest[n:]

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &domain.SpeechStream{
		Header: header,
		Chunks: chunks,
	}
}
