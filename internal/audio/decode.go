package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrNotWAV = errors.New("not a RIFF/WAVE file")

type wavFormat struct {
	encoding   uint16
	channels   int
	sampleRate int
	bits       uint16
}

// ReadWAV extracts mono PCM16LE samples from a WAV file. Multi-channel
// input is downmixed by averaging the channels of each frame.
func ReadWAV(data []byte) (pcm []byte, sampleRate int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}
	format, samples, err := wavChunks(data[12:])
	if err != nil {
		return nil, 0, err
	}
	if format.encoding != formatPCM || format.bits != bitsPerSample {
		return nil, 0, fmt.Errorf("unsupported wav encoding %d at %d bits", format.encoding, format.bits)
	}
	if format.channels <= 0 {
		return nil, 0, fmt.Errorf("invalid wav channel count %d", format.channels)
	}
	if format.sampleRate <= 0 {
		format.sampleRate = 16000
	}
	if format.channels == 1 {
		return samples[:len(samples)&^1], format.sampleRate, nil
	}
	return downmix(samples, format.channels), format.sampleRate, nil
}

func wavChunks(body []byte) (wavFormat, []byte, error) {
	var (
		format  wavFormat
		haveFmt bool
		samples []byte
	)
	for off := 0; off+8 <= len(body); {
		id := string(body[off : off+4])
		size := int(binary.LittleEndian.Uint32(body[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(body) {
			return wavFormat{}, nil, fmt.Errorf("wav chunk %q overruns file", id)
		}
		chunk := body[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return wavFormat{}, nil, errors.New("short wav fmt chunk")
			}
			format = wavFormat{
				encoding:   binary.LittleEndian.Uint16(chunk[0:2]),
				channels:   int(binary.LittleEndian.Uint16(chunk[2:4])),
				sampleRate: int(binary.LittleEndian.Uint32(chunk[4:8])),
				bits:       binary.LittleEndian.Uint16(chunk[14:16]),
			}
			haveFmt = true
		case "data":
			samples = chunk
		}
		// Chunks are word aligned.
		off += size + size%2
	}
	if !haveFmt {
		return wavFormat{}, nil, errors.New("wav fmt chunk missing")
	}
	if len(samples) == 0 {
		return wavFormat{}, nil, errors.New("wav data chunk missing")
	}
	return format, samples, nil
}

func downmix(samples []byte, channels int) []byte {
	frame := channels * 2
	frames := len(samples) / frame
	mono := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			at := i*frame + ch*2
			sum += int(int16(binary.LittleEndian.Uint16(samples[at : at+2])))
		}
		binary.LittleEndian.PutUint16(mono[i*2:], uint16(int16(sum/channels)))
	}
	return mono
}

// Tone returns seconds of a mono PCM16LE sine wave at hz.
func Tone(seconds float64, sampleRate int, hz float64) []byte {
	n := int(seconds * float64(sampleRate))
	if n < 0 {
		n = 0
	}
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := 0.3 * math.Sin(2*math.Pi*hz*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return pcm
}
