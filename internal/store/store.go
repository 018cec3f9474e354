// Package store persists conversation threads and their messages.
//
// The store owns all lifecycle and concurrency control for both entities.
// It exposes exactly two operations: an atomic conversation upsert keyed by
// participant identifier, and an append of one immutable message. There is
// no update or delete path for messages.
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Direction classifies a message relative to this account.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// ErrConversationNotFound is returned by AppendMessage when the referenced
// conversation does not exist. Given the upsert-first ordering this should
// be unreachable; observing it indicates an ordering bug or store
// inconsistency, so callers must surface it distinctly.
var ErrConversationNotFound = errors.New("store: conversation not found")

// Conversation is one thread per remote participant. Exactly one document
// exists per unique participant identifier.
type Conversation struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	ParticipantID  string             `bson:"participant_id"`
	CreatedAt      time.Time          `bson:"created_at"`
	LastActivityAt time.Time          `bson:"last_activity_at"`
}

// Message is one immutable message document.
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	ConversationID primitive.ObjectID `bson:"conversation_id"`
	Direction      Direction          `bson:"direction"`
	Text           *string            `bson:"text"`
	Raw            any                `bson:"raw"`
	MessageTS      time.Time          `bson:"message_ts"`
	StoredAt       time.Time          `bson:"stored_at"`
}

// MessageRecord is the caller-supplied portion of a Message. The store
// assigns the identifier and the storage timestamp.
type MessageRecord struct {
	Direction Direction
	Text      *string
	Raw       any
	MessageTS time.Time
}

// Store is the persistence surface consumed by the ingestion pipeline.
type Store interface {
	// UpsertConversation atomically creates-or-refreshes the conversation
	// for a participant and returns its identifier. Safe under concurrent
	// callers for the same participant.
	UpsertConversation(ctx context.Context, participantID string) (primitive.ObjectID, error)

	// AppendMessage inserts one immutable message. Returns
	// ErrConversationNotFound when the conversation does not exist.
	AppendMessage(ctx context.Context, conversationID primitive.ObjectID, record MessageRecord) error
}
