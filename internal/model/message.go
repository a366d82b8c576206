package model

import "time"

// MessageKey identifies one message within a chat.
type MessageKey struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
}

// OutgoingMessage is the content of a send request. Exactly one of Text,
// Image or Audio is expected to be set; Caption applies to media only.
type OutgoingMessage struct {
	Text     string `json:"text,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Image    []byte `json:"image,omitempty"`
	Audio    []byte `json:"audio,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
}

// SendResult is the acknowledgment returned by a successful send.
type SendResult struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// LookupResult is one entry of a directory lookup (is this number on the network).
type LookupResult struct {
	Query      string `json:"query"`
	JID        string `json:"jid"`
	Registered bool   `json:"registered"`
}

// ChatModification mirrors the transport's chat-modify operation: archive,
// mute, pin, markRead and friends. Value semantics depend on Action.
type ChatModification struct {
	Action string       `json:"action"`
	Value  interface{}  `json:"value,omitempty"`
	Keys   []MessageKey `json:"keys,omitempty"`
}
