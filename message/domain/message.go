package domain

import (
	"encoding/json"
	"time"
)

// MessageKind tags the normalized inbound event shape.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindMedia       MessageKind = "media"
	KindAudio       MessageKind = "audio"
	KindReaction    MessageKind = "reaction"
	KindGroupEvent  MessageKind = "group_event"
	KindUnsupported MessageKind = "unsupported"
)

// Actionable reports whether the kind reaches the agent. Reactions, group
// events and unsupported types are traced and short-circuited.
func (k MessageKind) Actionable() bool {
	return k == KindText || k == KindMedia || k == KindAudio
}

// MediaRef points at provider-hosted media; the hub never downloads it.
type MediaRef struct {
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// QuotedRef describes the message being replied to.
type QuotedRef struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// InboundMessage is the uniform internal event every channel payload is
// normalized into.
type InboundMessage struct {
	InstanceName string      `json:"instance_name"`
	Channel      string      `json:"channel"`
	Kind         MessageKind `json:"kind"`
	MessageID    string      `json:"message_id,omitempty"`
	SenderID     string      `json:"sender_id"`
	SenderName   string      `json:"sender_name,omitempty"`
	ChatID       string      `json:"chat_id"`
	IsGroup      bool        `json:"is_group"`
	Text         string      `json:"text,omitempty"`
	Media        []MediaRef  `json:"media,omitempty"`
	Quoted       *QuotedRef  `json:"quoted,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`

	// Raw keeps the provider envelope for trace capture.
	Raw json.RawMessage `json:"-"`
}

// Reply is the agent's answer on its way back out.
type Reply struct {
	Text           string `json:"text"`
	AgentSessionID string `json:"agent_session_id,omitempty"`
}
