// Package messenger delivers bot output to chat users.
package messenger

import "context"

// Button is one interactive button; Value comes back in the click callback.
type Button struct {
	Label string
	Value string
}

// Message is a text body with optional buttons.
type Message struct {
	Text    string
	Buttons []Button
}

// Text builds a message without buttons.
func Text(s string) Message { return Message{Text: s} }

type Messenger interface {
	// Send delivers msg to a user id.
	Send(ctx context.Context, to string, msg Message) error
	// Reply answers an inbound message in its thread.
	Reply(ctx context.Context, messageID string, msg Message) error
}
