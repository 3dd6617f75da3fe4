package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestReadWAVMonoRoundTrip(t *testing.T) {
	pcm := []byte{
		0x00, 0x00,
		0xE8, 0x03, // 1000
		0x18, 0xFC, // -1000
	}
	r, err := WAVReader(pcm, 16000)
	if err != nil {
		t.Fatalf("WAVReader() error = %v", err)
	}
	wav, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	got, rate, err := ReadWAV(wav)
	if err != nil {
		t.Fatalf("ReadWAV() error = %v", err)
	}
	if rate != 16000 {
		t.Fatalf("sampleRate = %d, want 16000", rate)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("pcm mismatch: got=%v want=%v", got, pcm)
	}
}

func TestReadWAVStereoDownmix(t *testing.T) {
	// Frame 1: L=1000, R=-1000 => 0
	// Frame 2: L=3000, R=1000  => 2000
	stereo := []byte{
		0xE8, 0x03, 0x18, 0xFC,
		0xB8, 0x0B, 0xE8, 0x03,
	}
	got, rate, err := ReadWAV(stereoWAV(stereo, 24000))
	if err != nil {
		t.Fatalf("ReadWAV() error = %v", err)
	}
	if rate != 24000 || len(got) != 4 {
		t.Fatalf("ReadWAV() = %d bytes at %d Hz, want 4 at 24000", len(got), rate)
	}
	s1 := int16(binary.LittleEndian.Uint16(got[0:2]))
	s2 := int16(binary.LittleEndian.Uint16(got[2:4]))
	if s1 != 0 || s2 != 2000 {
		t.Fatalf("downmix samples = [%d %d], want [0 2000]", s1, s2)
	}
}

func TestReadWAVRejectsOtherContainers(t *testing.T) {
	if _, _, err := ReadWAV([]byte("OggS\x00\x02rest-of-page")); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("ReadWAV() error = %v, want ErrNotWAV", err)
	}
	truncated := WAVHeader(400, 16000)
	if _, _, err := ReadWAV(truncated); err == nil {
		t.Fatalf("ReadWAV() accepted a data chunk that overruns the file")
	}
}

func TestTone(t *testing.T) {
	pcm := Tone(0.5, 16000, 440)
	if len(pcm) != 16000 {
		t.Fatalf("len(Tone()) = %d, want 16000", len(pcm))
	}
	if got := DurationSeconds(pcm, 16000); got != 0.5 {
		t.Fatalf("DurationSeconds() = %v, want 0.5", got)
	}
	silent := true
	for _, b := range pcm {
		if b != 0 {
			silent = false
			break
		}
	}
	if silent {
		t.Fatalf("Tone() produced silence")
	}
}

func stereoWAV(pcm []byte, sampleRate int) []byte {
	h := WAVHeader(uint32(len(pcm)), sampleRate)
	binary.LittleEndian.PutUint16(h[22:24], 2)
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*4))
	binary.LittleEndian.PutUint16(h[32:34], 4)
	return append(h, pcm...)
}
