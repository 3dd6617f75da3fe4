// Package protocol defines the JSON messages exchanged with browser chat
// clients over the WebSocket gateway.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientCommand MessageType = "client_command"
	TypeClientButton  MessageType = "client_button"
	TypeClientAudio   MessageType = "client_audio"
	TypeServerText    MessageType = "server_text"
	TypeServerButtons MessageType = "server_buttons"
	TypeServerFile    MessageType = "server_file"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

// FormatPCM16 is raw little-endian mono PCM that the gateway wraps as WAV.
const FormatPCM16 = "pcm16"

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientCommand struct {
	Type    MessageType `json:"type"`
	Command string      `json:"command"`
	Args    string      `json:"args,omitempty"`
}

type ClientButton struct {
	Type MessageType `json:"type"`
	Data string      `json:"data"`
}

type ClientAudio struct {
	Type        MessageType `json:"type"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
	SampleRate  int         `json:"sample_rate,omitempty"`
}

type Button struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

type ServerText struct {
	Type   MessageType `json:"type"`
	Text   string      `json:"text"`
	Format string      `json:"format"`
}

type ServerButtons struct {
	Type   MessageType `json:"type"`
	Text   string      `json:"text"`
	Format string      `json:"format"`
	Rows   [][]Button  `json:"rows"`
}

type ServerFile struct {
	Type        MessageType `json:"type"`
	FileName    string      `json:"file_name"`
	Caption     string      `json:"caption,omitempty"`
	AudioBase64 string      `json:"audio_base64"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	UserID string      `json:"user_id,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientCommand:
		var msg ClientCommand
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Command = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(msg.Command), "/"))
		if msg.Command == "" {
			return nil, errors.New("invalid client_command")
		}
		return msg, nil
	case TypeClientButton:
		var msg ClientButton
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Data == "" {
			return nil, errors.New("invalid client_button")
		}
		return msg, nil
	case TypeClientAudio:
		var msg ClientAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Format = strings.ToLower(strings.TrimSpace(msg.Format))
		if msg.Format == "" || msg.AudioBase64 == "" {
			return nil, errors.New("invalid client_audio")
		}
		if msg.Format == FormatPCM16 && msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio: pcm16 requires sample_rate")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf returns the type tag of a known message value.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientCommand:
		return m.Type, true
	case ClientButton:
		return m.Type, true
	case ClientAudio:
		return m.Type, true
	case ServerText:
		return m.Type, true
	case ServerButtons:
		return m.Type, true
	case ServerFile:
		return m.Type, true
	case SystemEvent:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
