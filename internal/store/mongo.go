// internal/store/mongo.go
package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

// MongoConfig holds connection settings for the Mongo-backed store.
type MongoConfig struct {
	URI      string
	Database string
}

// Mongo implements Store on MongoDB.
type Mongo struct {
	client        *mongo.Client
	conversations *mongo.Collection
	messages      *mongo.Collection
	logger        *zap.Logger
}

// NewMongo connects to MongoDB and verifies the connection. The returned
// store is safe for concurrent use; the composition root owns it and passes
// it by reference into consumers.
func NewMongo(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("store: connection URI is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("store: database name is required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("store: connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("store: pinging mongodb: %w", err)
	}

	db := client.Database(cfg.Database)
	m := &Mongo{
		client:        client,
		conversations: db.Collection(conversationsCollection),
		messages:      db.Collection(messagesCollection),
		logger:        logger,
	}

	logger.Info("connected to store", zap.String("database", cfg.Database))
	return m, nil
}

// EnsureIndexes creates the unique participant index that backs upsert
// atomicity, plus a secondary index for message lookups by conversation.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "participant_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("store: creating participant index: %w", err)
	}

	_, err = m.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("store: creating conversation index: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (m *Mongo) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("store: disconnecting: %w", err)
	}
	return nil
}

// UpsertConversation implements Store. The create-or-refresh is a single
// FindOneAndUpdate with upsert, never a read-then-write pair, so concurrent
// first contact from the same participant cannot create duplicates.
func (m *Mongo) UpsertConversation(ctx context.Context, participantID string) (primitive.ObjectID, error) {
	if participantID == "" {
		return primitive.NilObjectID, fmt.Errorf("store: participant identifier is required")
	}

	now := time.Now().UTC()
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After).
		SetProjection(bson.M{"_id": 1})

	var doc struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	err := m.conversations.
		FindOneAndUpdate(ctx, upsertFilter(participantID), upsertUpdate(now), opts).
		Decode(&doc)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("store: upserting conversation for %s: %w", participantID, err)
	}

	return doc.ID, nil
}

// AppendMessage implements Store. Mongo has no foreign keys, so the
// referential check is an explicit existence query; an append against a
// missing conversation fails with ErrConversationNotFound instead of
// silently storing orphaned data.
func (m *Mongo) AppendMessage(ctx context.Context, conversationID primitive.ObjectID, record MessageRecord) error {
	count, err := m.conversations.CountDocuments(ctx,
		bson.M{"_id": conversationID},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return fmt.Errorf("store: checking conversation %s: %w", conversationID.Hex(), err)
	}
	if count == 0 {
		return fmt.Errorf("store: appending to %s: %w", conversationID.Hex(), ErrConversationNotFound)
	}

	message := Message{
		ConversationID: conversationID,
		Direction:      record.Direction,
		Text:           record.Text,
		Raw:            record.Raw,
		MessageTS:      record.MessageTS,
		StoredAt:       time.Now().UTC(),
	}
	if _, err := m.messages.InsertOne(ctx, message); err != nil {
		return fmt.Errorf("store: inserting message: %w", err)
	}

	return nil
}

// upsertFilter matches a conversation by its identity key.
func upsertFilter(participantID string) bson.M {
	return bson.M{"participant_id": participantID}
}

// upsertUpdate bumps last-activity and sets creation time only on first
// insert. The participant identifier itself comes from the equality filter,
// which Mongo copies into the document on upsert.
func upsertUpdate(now time.Time) bson.M {
	return bson.M{
		"$set":         bson.M{"last_activity_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}
}

var _ Store = (*Mongo)(nil)
