package tts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesPerSecond(t *testing.T) {
	assert.Equal(t, 44100, DefaultFormat.BytesPerSecond())
	assert.Equal(t, 96000, Format{SampleRate: 48000, BitsPerSample: 8, Channels: 2}.BytesPerSecond())
}

func TestChunkDuration(t *testing.T) {
	d := DefaultFormat.ChunkDuration(44100)
	assert.Equal(t, time.Second, d)

	d = DefaultFormat.ChunkDuration(22050)
	assert.Equal(t, 500*time.Millisecond, d)

	assert.Equal(t, time.Duration(0), DefaultFormat.ChunkDuration(0))
}

func TestWAVHeader(t *testing.T) {
	h := DefaultFormat.WAVHeader(1000)

	require.Len(t, h, 44)
	assert.Equal(t, "RIFF", string(h[0:4]))
	assert.Equal(t, "WAVE", string(h[8:12]))
	assert.Equal(t, "data", string(h[36:40]))

	dataSize := int(h[40]) | int(h[41])<<8 | int(h[42])<<16 | int(h[43])<<24
	assert.Equal(t, 1000, dataSize)
}

func TestStripWAVHeader(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	framed := append(DefaultFormat.WAVHeader(len(pcm)), pcm...)

	assert.Equal(t, pcm, stripWAVHeader(framed))
	assert.Equal(t, pcm, stripWAVHeader(pcm))
}

func TestChunkStreamSplitsAndPreservesOrder(t *testing.T) {
	pcm := make([]byte, maxChunkSize+100)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	stream := chunkStream(context.Background(), DefaultFormat, pcm)
	require.Len(t, stream.Header, 44)

	var got []byte
	var count int
	for chunk := range stream.Chunks {
		got = append(got, chunk.Data...)
		count++
		assert.Equal(t, DefaultFormat.ChunkDuration(len(chunk.Data)), chunk.Duration)
	}

	assert.Equal(t, 2, count)
	assert.Equal(t, pcm, got)
}

func TestChunkStreamStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := chunkStream(ctx, DefaultFormat, make([]byte, 3*maxChunkSize))

	<-stream.Chunks
	cancel()

	// The feeder exits without delivering the remaining chunks.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-stream.Chunks:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}

func TestBuildArgs(t *testing.T) {
	args := buildArgs("espeak-ng -v {voice} --stdout {text}", "en", "hello there")
	assert.Equal(t, []string{"espeak-ng", "-v", "en", "--stdout", "hello there"}, args)
}

func TestEngineVoice(t *testing.T) {
	assert.Equal(t, "en", EngineVoice("local.en"))
	assert.Equal(t, "en", EngineVoice("en"))
}

func TestVoiceIDByFriendlyName(t *testing.T) {
	engine := NewLocalEngine(LocalOptions{Voices: map[string]string{"Daniel": "local.en-gb"}})

	assert.Equal(t, "local.en-gb", engine.VoiceIDByFriendlyName("daniel"))
	assert.Equal(t, "", engine.VoiceIDByFriendlyName("brian"))
}

func TestSEVoice(t *testing.T) {
	assert.Equal(t, "Brian", SEVoice("se.Brian"))
	assert.Equal(t, "", SEVoice("Brian"))
}

func TestResolveVoiceID(t *testing.T) {
	se := NewStreamElements(nil)

	assert.Equal(t, "se.Brian", se.ResolveVoiceID("se.brian"))
	assert.Equal(t, "", se.ResolveVoiceID("brian"))
	assert.Equal(t, "", se.ResolveVoiceID("se.nosuchvoice"))
}

func TestIsVoiceID(t *testing.T) {
	assert.True(t, IsVoiceID("bIHbv24MWmeRgasZH58o"))
	assert.False(t, IsVoiceID("se.Brian"))
	assert.False(t, IsVoiceID("short"))
	assert.False(t, IsVoiceID("bIHbv24MWmeRgasZH58oX"))
}
