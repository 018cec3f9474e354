package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestUpsertFilter(t *testing.T) {
	filter := upsertFilter("12345@s.whatsapp.net")
	assert.Equal(t, bson.M{"participant_id": "12345@s.whatsapp.net"}, filter)
}

func TestUpsertUpdate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	update := upsertUpdate(now)

	set, ok := update["$set"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, now, set["last_activity_at"])

	onInsert, ok := update["$setOnInsert"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, now, onInsert["created_at"])

	// The identity key must come from the filter, not the update document;
	// setting it in both places makes the upsert conflict.
	_, hasParticipant := onInsert["participant_id"]
	assert.False(t, hasParticipant)
	_, hasParticipant = set["participant_id"]
	assert.False(t, hasParticipant)
}
