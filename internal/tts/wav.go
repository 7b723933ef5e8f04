package tts

import (
	"encoding/binary"
	"time"
)

// Format describes the PCM audio format of one stream. Chunk playback
// durations are derived from it.
type Format struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// DefaultFormat matches the local engine output and the PCM format requested
// from cloud providers.
var DefaultFormat = Format{SampleRate: 22050, BitsPerSample: 16, Channels: 1}

// BytesPerSecond returns the PCM data rate.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * (f.BitsPerSample / 8)
}

// ChunkDuration computes the playback duration of n bytes of audio data. The
// overlay bridge paces chunk emission with it so the visual "speaking" state
// tracks the actual audio.
func (f Format) ChunkDuration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bps) * float64(time.Second))
}

// WAVHeader builds the 44-byte RIFF/WAVE header prefixed to the binary
// overlay audio stream.
func (f Format) WAVHeader(dataSize int) []byte {
	byteRate := f.BytesPerSecond()
	blockAlign := f.Channels * f.BitsPerSample / 8

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM subchunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(header[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(f.BitsPerSample))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))
	return header
}

// stripWAVHeader drops a leading RIFF header from raw engine output so only
// PCM data is chunked. Output without a header passes through unchanged.
func stripWAVHeader(b []byte) []byte {
	if len(b) >= 44 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE" {
		return b[44:]
	}
	return b
}
