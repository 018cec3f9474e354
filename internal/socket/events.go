// Package socket defines the narrow surface this daemon consumes from the
// chat-socket library: a stream of lifecycle and message events plus a text
// send. The supervisor and ingestion pipeline depend only on these types,
// never on protocol packages.
package socket

// ConnectionState is the observed socket connection status.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosed     ConnectionState = "closed"
)

// Disconnect status codes carried on closed-state updates. These mirror the
// protocol's stream-error codes.
const (
	// CodeRestartRequired signals the socket must be re-established, e.g.
	// after a successful pairing or a recoverable stream drop.
	CodeRestartRequired = 515
	// CodeLoggedOut signals the session credentials were invalidated.
	// Terminal until an operator re-pairs.
	CodeLoggedOut = 401
	// CodeSessionReplaced signals another client took over the stream.
	CodeSessionReplaced = 440
)

// Event is a lifecycle or message event delivered by a Client.
type Event interface {
	isEvent()
}

// ConnectionUpdate reports a connection state transition. QR carries a
// transient pairing code when the session is unauthenticated.
type ConnectionUpdate struct {
	State      ConnectionState
	StatusCode int
	QR         string
}

// BatchKind classifies a message batch as live traffic or historical replay.
type BatchKind string

const (
	BatchLive    BatchKind = "live"
	BatchHistory BatchKind = "history"
)

// MessageBatch is one socket delivery of ordered message events.
type MessageBatch struct {
	Kind   BatchKind
	Events []MessageEvent
}

// MessageEvent is one inbound message, pre-flattened to the fields the
// pipeline extracts. Raw retains the full original event for storage.
type MessageEvent struct {
	ID       string
	Sender   string
	PushName string
	FromMe   bool
	// Timestamp is the protocol timestamp in unix seconds, 0 when absent.
	Timestamp int64
	// HasContent is false for protocol-level events with no message body
	// (acks, reactions-only, system notices).
	HasContent bool

	// Candidate text fields in extraction priority order.
	Conversation    string
	ExtendedText    string
	ImageCaption    string
	VideoCaption    string
	DocumentCaption string

	Raw any
}

// CredsUpdate reports a session credential change. Contents are opaque;
// consumers only forward it to the save callback.
type CredsUpdate struct {
	SessionID string
}

func (ConnectionUpdate) isEvent() {}
func (MessageBatch) isEvent()     {}
func (CredsUpdate) isEvent()      {}
