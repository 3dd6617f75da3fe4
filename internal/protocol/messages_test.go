package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageCommand(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_command","command":"/Skip"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	cmd, ok := msg.(ClientCommand)
	if !ok {
		t.Fatalf("message type = %T, want ClientCommand", msg)
	}
	if cmd.Command != "skip" {
		t.Fatalf("Command = %q, want %q", cmd.Command, "skip")
	}
}

func TestParseClientMessageAudio(t *testing.T) {
	raw := []byte(`{"type":"client_audio","format":"PCM16","audio_base64":"AQID","sample_rate":16000}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	audio, ok := msg.(ClientAudio)
	if !ok {
		t.Fatalf("message type = %T, want ClientAudio", msg)
	}
	if audio.Format != FormatPCM16 || audio.SampleRate != 16000 {
		t.Fatalf("unexpected audio: %+v", audio)
	}
}

func TestParseClientMessageRejectsInvalid(t *testing.T) {
	tests := []string{
		`{"type":"client_command","command":"  "}`,
		`{"type":"client_button"}`,
		`{"type":"client_audio","format":"ogg"}`,
		`{"type":"client_audio","format":"pcm16","audio_base64":"AQID"}`,
		`not json`,
	}
	for _, raw := range tests {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) error = nil, want error", raw)
		}
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestTypeOf(t *testing.T) {
	if got, ok := TypeOf(ServerText{Type: TypeServerText}); !ok || got != TypeServerText {
		t.Fatalf("TypeOf(ServerText) = %q, %v", got, ok)
	}
	if _, ok := TypeOf(42); ok {
		t.Fatalf("TypeOf(int) ok = true, want false")
	}
}
