package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// wavHeader is the canonical 44-byte RIFF header for 16-bit PCM.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAV wraps little-endian 16-bit PCM in a WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channels must be positive, got %d", channels)
	}
	if len(pcm)%(2*channels) != 0 {
		return nil, ErrMisalignedPCM
	}

	const bitsPerSample = 16
	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(channels) * bitsPerSample / 8,
		BlockAlign:    uint16(channels) * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// DecodeWAV returns the PCM payload, sample rate and channel count of a
// 16-bit PCM WAV file.
func DecodeWAV(data []byte) ([]byte, int, int, error) {
	if len(data) < 44 {
		return nil, 0, 0, fmt.Errorf("WAV data too short: need at least 44 bytes, got %d", len(data))
	}
	var header wavHeader
	if err := binary.Read(bytes.NewReader(data[:44]), binary.LittleEndian, &header); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read WAV header: %w", err)
	}
	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("not a RIFF/WAVE file")
	}
	if header.AudioFormat != 1 || header.BitsPerSample != 16 {
		return nil, 0, 0, fmt.Errorf("unsupported WAV encoding: format %d, %d bits", header.AudioFormat, header.BitsPerSample)
	}
	end := 44 + int(header.Subchunk2Size)
	if end > len(data) {
		end = len(data)
	}
	return data[44:end], int(header.SampleRate), int(header.NumChannels), nil
}
