// Package transport abstracts the underlying messaging-network protocol
// engine. A Handle owns one live connection for one identity; the session
// layer consumes its typed event stream and never touches the wire library
// directly, which keeps the state machine testable against fakes.
package transport

import (
	"context"
	"errors"
	"time"

	"warelay/internal/model"
)

// Well-known event names. Anything else is treated as a passthrough event
// and forwarded verbatim when allow-listed.
const (
	EventConnection   = "connection.update"
	EventCreds        = "creds.update"
	EventMessages     = "messages.upsert"
	EventMessageState = "messages.update"
	EventReceipt      = "message-receipt.update"
	EventHistorySync  = "messaging-history.set"
)

// ErrNotConnected is returned by Handle operations when the underlying
// socket is not established. The session layer uses it to detect stale
// registry entries.
var ErrNotConnected = errors.New("transport: not connected")

// ErrNotAuthenticated is returned when an operation needs a paired, logged-in
// device and the handle has none yet.
var ErrNotAuthenticated = errors.New("transport: not authenticated")

// ConnState is the nominal connection state carried by a connection.update.
type ConnState string

const (
	ConnConnecting ConnState = "connecting"
	ConnOpen       ConnState = "open"
	ConnClose      ConnState = "close"
)

// DisconnectReason classifies a close event for the reconnect decision.
type DisconnectReason int

const (
	ReasonNone DisconnectReason = iota
	ReasonConnectionClosed
	ReasonConnectionLost
	ReasonStreamReplaced
	ReasonRestartRequired
	ReasonLoggedOut
	ReasonQRTimeout
	ReasonTemporaryBan
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonConnectionClosed:
		return "connection closed"
	case ReasonConnectionLost:
		return "connection lost"
	case ReasonStreamReplaced:
		return "stream replaced"
	case ReasonRestartRequired:
		return "restart required"
	case ReasonLoggedOut:
		return "logged out"
	case ReasonQRTimeout:
		return "qr scan window exhausted"
	case ReasonTemporaryBan:
		return "temporary ban"
	default:
		return "none"
	}
}

// Recoverable reports whether a close with this reason may be retried with
// the saved credentials. Logged-out and an exhausted QR window are terminal.
func (r DisconnectReason) Recoverable() bool {
	return r != ReasonLoggedOut && r != ReasonQRTimeout
}

// ConnectionUpdate is the payload of a connection.update event.
type ConnectionUpdate struct {
	Connection ConnState        `json:"connection,omitempty"`
	QR         string           `json:"qr,omitempty"`
	QRPresent  bool             `json:"-"`
	IsNewLogin bool             `json:"isNewLogin,omitempty"`
	IsOnline   bool             `json:"isOnline,omitempty"`
	Reason     DisconnectReason `json:"-"`
	Err        error            `json:"-"`
}

// Event is one inbound transport event. Connection is set only for
// connection.update events; Payload carries the event-shaped data that gets
// forwarded to the webhook for everything else.
type Event struct {
	Name       string
	Connection *ConnectionUpdate
	Payload    interface{}
}

// InboundMessage is one entry of a messages.upsert batch, already lifted out
// of the wire representation.
type InboundMessage struct {
	Key       model.MessageKey       `json:"key"`
	PushName  string                 `json:"pushName,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	IsGroup   bool                   `json:"isGroup"`
	GroupName string                 `json:"groupName,omitempty"`
	Message   map[string]interface{} `json:"message"`
	MediaType string                 `json:"mediaType,omitempty"`
	MediaB64  string                 `json:"media,omitempty"`

	// raw keeps the wire-level message for media downloads; implementation
	// specific, never serialized.
	raw interface{}
}

// Handle is one live protocol connection for one identity.
//
// Subscribe must be called before Connect; events are delivered one at a
// time in arrival order. All operations return ErrNotConnected when the
// socket is down and ErrNotAuthenticated when no device is paired yet.
type Handle interface {
	Subscribe(fn func(Event))
	Connect(ctx context.Context) error
	Disconnect()
	Logout(ctx context.Context) error

	// AuthenticatedID returns the normalized identity the handle is logged
	// in as, or "" when pairing has not completed.
	AuthenticatedID() string
	IsAuthenticated() bool
	IsConnected() bool

	SendMessage(ctx context.Context, to string, msg model.OutgoingMessage) (model.SendResult, error)
	SendPresence(ctx context.Context, presence, to string) error
	ReadMessages(ctx context.Context, keys []model.MessageKey) error
	ChatModify(ctx context.Context, mod model.ChatModification, to string) error
	FetchMessageHistory(ctx context.Context, count int, oldestKey model.MessageKey, oldestTimestamp time.Time) error
	SendReceipts(ctx context.Context, keys []model.MessageKey, receiptType string) error
	ProfilePictureURL(ctx context.Context, target, quality string) (string, error)
	Lookup(ctx context.Context, targets []string) ([]model.LookupResult, error)

	// GroupName resolves a group JID to its display subject.
	GroupName(ctx context.Context, groupJID string) (string, error)
	// DownloadMedia fetches the media blob referenced by an inbound message.
	DownloadMedia(ctx context.Context, msg *InboundMessage) ([]byte, error)
}

// Factory creates Handles. The production factory is backed by whatsmeow's
// device store; tests substitute fakes.
type Factory interface {
	Create(ctx context.Context, identity string) (Handle, error)
}
