// Package audio converts raw browser captures into files the dataset can
// store.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	wavHeaderSize = 44
	numChannels   = 1
	bitsPerSample = 16
	formatPCM     = 1

	MinSampleRate = 8000
	MaxSampleRate = 48000
)

var ErrOddPCM = errors.New("pcm16 payload has an odd number of bytes")

// WAVHeader returns the 44-byte RIFF header of a mono PCM16LE stream with
// dataSize bytes of samples.
func WAVHeader(dataSize uint32, sampleRate int) []byte {
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	h := make([]byte, wavHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataSize)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], formatPCM)
	binary.LittleEndian.PutUint16(h[22:24], numChannels)
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], byteRate)
	binary.LittleEndian.PutUint16(h[32:34], blockAlign)
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}

// WAVReader streams pcm wrapped in a WAV container.
func WAVReader(pcm []byte, sampleRate int) (io.Reader, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddPCM
	}
	if sampleRate < MinSampleRate || sampleRate > MaxSampleRate {
		return nil, fmt.Errorf("sample rate %d outside [%d, %d]", sampleRate, MinSampleRate, MaxSampleRate)
	}
	return io.MultiReader(bytes.NewReader(WAVHeader(uint32(len(pcm)), sampleRate)), bytes.NewReader(pcm)), nil
}

// DurationSeconds is the playback length of pcm at sampleRate.
func DurationSeconds(pcm []byte, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(pcm)/2) / float64(sampleRate)
}
