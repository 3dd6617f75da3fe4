// Package channel is the transport-neutral surface between chat platforms
// and the bot: inbound events in, text, keyboards and files out.
package channel

import (
	"context"
	"io"
	"strings"
)

// Kind classifies an inbound event.
type Kind string

const (
	KindTextCommand    Kind = "text_command"
	KindButtonCallback Kind = "button_callback"
	KindFileUpload     Kind = "file_upload"
)

// Event is one inbound user interaction.
type Event struct {
	Channel string
	Kind    Kind
	UserID  string
	ChatID  string

	// Command is the lowercase command name without the leading slash.
	Command string
	Args    string

	// Data is the payload of a pressed button.
	Data string

	Upload Upload

	// Ack acknowledges a button press to the platform. May be nil.
	Ack func(ctx context.Context) error
}

// Upload is a file the user sent. Open fetches its content.
type Upload interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Extension() string
	FileID() string
}

// Button is one inline keyboard button.
type Button struct {
	Label string
	Data  string
}

// Channel delivers replies to a chat.
type Channel interface {
	Name() string
	SendText(ctx context.Context, chatID, text string) error
	SendButtons(ctx context.Context, chatID, text string, rows [][]Button) error
	SendFile(ctx context.Context, chatID, path, caption string) error
}

// Handler consumes inbound events from a channel.
type Handler interface {
	Dispatch(ctx context.Context, ch Channel, ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ch Channel, ev Event)

func (f HandlerFunc) Dispatch(ctx context.Context, ch Channel, ev Event) { f(ctx, ch, ev) }

// ParseCommand splits "/skip@SomeBot extra" into ("skip", "extra"). ok is
// false when text is not a command.
func ParseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// Rows lays buttons out perRow to a row.
func Rows(buttons []Button, perRow int) [][]Button {
	if perRow <= 0 {
		perRow = 1
	}
	rows := make([][]Button, 0, (len(buttons)+perRow-1)/perRow)
	for len(buttons) > 0 {
		n := perRow
		if len(buttons) < n {
			n = len(buttons)
		}
		rows = append(rows, buttons[:n:n])
		buttons = buttons[n:]
	}
	return rows
}
