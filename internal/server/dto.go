package server

import (
	"encoding/json"
	"strings"

	"shiftbot/internal/bot"
	"shiftbot/internal/domain"
)

// Webhook payloads

// envelope covers every callback shape the platform posts to /webhook.
type envelope struct {
	Encrypt   string          `json:"encrypt"`
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	Token     string          `json:"token"`
	UUID      string          `json:"uuid"`
	Schema    string          `json:"schema"`
	Header    *eventHeader    `json:"header"`
	Event     json.RawMessage `json:"event"`

	// legacy card callback
	OpenID        string      `json:"open_id"`
	OpenMessageID string      `json:"open_message_id"`
	Action        *cardAction `json:"action"`
}

type eventHeader struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Token     string `json:"token"`
	AppID     string `json:"app_id"`
}

type userID struct {
	OpenID string `json:"open_id"`
	UserID string `json:"user_id"`
}

func (u userID) id() string {
	if u.OpenID != "" {
		return u.OpenID
	}
	return u.UserID
}

type messageEvent struct {
	Sender struct {
		SenderID userID `json:"sender_id"`
	} `json:"sender"`
	Message *struct {
		MessageID   string `json:"message_id"`
		ChatID      string `json:"chat_id"`
		ChatType    string `json:"chat_type"`
		MessageType string `json:"message_type"`
		Content     string `json:"content"`
		Mentions    []struct {
			Key  string `json:"key"`
			ID   userID `json:"id"`
			Name string `json:"name"`
		} `json:"mentions"`
	} `json:"message"`

	// v1 message event fields
	Type          string `json:"type"`
	OpenID        string `json:"open_id"`
	OpenMessageID string `json:"open_message_id"`
	OpenChatID    string `json:"open_chat_id"`
	ChatType      string `json:"chat_type"`
	MsgType       string `json:"msg_type"`
	Text          string `json:"text"`
}

// inbound converts either message event version. ok is false when the event
// carries no message at all.
func (e messageEvent) inbound() (bot.Inbound, bool) {
	if m := e.Message; m != nil {
		in := bot.Inbound{
			SenderID:    e.Sender.SenderID.id(),
			MessageID:   m.MessageID,
			ChatID:      m.ChatID,
			ChatType:    m.ChatType,
			MessageType: m.MessageType,
		}
		var content struct {
			Text string `json:"text"`
		}
		if m.Content != "" && json.Unmarshal([]byte(m.Content), &content) == nil {
			in.Text = content.Text
		}
		for _, mt := range m.Mentions {
			in.Mentions = append(in.Mentions, bot.Mention{Key: mt.Key, Name: mt.Name, ID: mt.ID.id()})
		}
		return in, true
	}
	if e.OpenMessageID == "" && e.Text == "" {
		return bot.Inbound{}, false
	}
	return bot.Inbound{
		SenderID:    e.OpenID,
		MessageID:   e.OpenMessageID,
		ChatID:      e.OpenChatID,
		ChatType:    e.ChatType,
		MessageType: e.MsgType,
		Text:        e.Text,
	}, true
}

type cardAction struct {
	Tag   string          `json:"tag"`
	Value json.RawMessage `json:"value"`
}

// value extracts the encoded action from a button value, which is either an
// object {"action": "take_42"} or a bare string.
func (a *cardAction) value() string {
	if a == nil || len(a.Value) == 0 {
		return ""
	}
	var obj map[string]any
	if json.Unmarshal(a.Value, &obj) == nil {
		if s, ok := obj["action"].(string); ok {
			return s
		}
		return ""
	}
	var s string
	if json.Unmarshal(a.Value, &s) == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

type cardEvent struct {
	Operator userID      `json:"operator"`
	Action   *cardAction `json:"action"`
	Context  struct {
		OpenMessageID string `json:"open_message_id"`
	} `json:"context"`
}

// API responses

type RosterResponse struct {
	Roster      domain.Roster `json:"roster"`
	Admins      []string      `json:"admins"`
	Responsible []string      `json:"responsible"`
}

type EventsResponse struct {
	Items []EventResponse `json:"items"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	out := EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
	}
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		out.Payload = json.RawMessage(e.Payload)
	}
	return out
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
