package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeaderSize is the byte length of a canonical PCM WAV header.
const WAVHeaderSize = 44

// Format describes the PCM stream the device produces.
type Format struct {
	SampleRate  int
	Channels    int
	SampleWidth int // bytes per sample
}

// DefaultFormat is 16kHz little-endian PCM16 mono.
func DefaultFormat() Format {
	return Format{SampleRate: 16000, Channels: 1, SampleWidth: 2}
}

// Duration returns the play time in seconds of byteCount raw PCM bytes.
func (f Format) Duration(byteCount int64) float64 {
	if f.SampleRate <= 0 || f.SampleWidth <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := byteCount / int64(f.SampleWidth*f.Channels)
	return float64(samples) / float64(f.SampleRate)
}

type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV wraps raw little-endian PCM bytes in a WAV container.
func EncodeWAV(pcm []byte, f Format) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio data")
	}
	if f.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}

	bitsPerSample := uint16(f.SampleWidth * 8)
	dataSize := uint32(len(pcm))

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate * f.Channels * f.SampleWidth),
		BlockAlign:    uint16(f.Channels * f.SampleWidth),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if _, err := buf.Write(pcm); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// ValidChunk reports whether a binary frame is plausible PCM16: non-empty
// and an even byte count.
func ValidChunk(chunk []byte) bool {
	return len(chunk) > 0 && len(chunk)%2 == 0
}
