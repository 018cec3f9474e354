// internal/socket/client.go
package socket

import "context"

// Sender sends a text message to a destination identifier.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
}

// Client is one established socket connection. Events terminates (the
// channel closes) when the connection is torn down; events arriving after
// Disconnect are dropped, never queued for a successor client.
type Client interface {
	Sender

	// Events returns the ordered event stream for this connection.
	Events() <-chan Event

	// Disconnect tears the connection down and stops event delivery.
	Disconnect()
}

// Factory establishes socket connections. Each New call yields a fresh,
// connected Client; the supervisor uses it for the initial start and for
// every reconnect.
type Factory interface {
	New(ctx context.Context) (Client, error)
}
