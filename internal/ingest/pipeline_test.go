package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/msgvault/internal/logging"
	"github.com/fyrsmithlabs/msgvault/internal/socket"
	"github.com/fyrsmithlabs/msgvault/internal/store"
)

// mockStore implements store.Store with upsert semantics guarded by a
// mutex, mirroring the atomicity contract of the real store.
type mockStore struct {
	mu            sync.Mutex
	conversations map[string]primitive.ObjectID
	messages      []storedMessage
	upsertErr     error
	appendErr     error
}

type storedMessage struct {
	conversationID primitive.ObjectID
	record         store.MessageRecord
}

func newMockStore() *mockStore {
	return &mockStore{conversations: make(map[string]primitive.ObjectID)}
}

func (m *mockStore) UpsertConversation(ctx context.Context, participantID string) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return primitive.NilObjectID, m.upsertErr
	}
	if id, ok := m.conversations[participantID]; ok {
		return id, nil
	}
	id := primitive.NewObjectID()
	m.conversations[participantID] = id
	return id, nil
}

func (m *mockStore) AppendMessage(ctx context.Context, conversationID primitive.ObjectID, record store.MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	found := false
	for _, id := range m.conversations {
		if id == conversationID {
			found = true
			break
		}
	}
	if !found {
		return store.ErrConversationNotFound
	}
	m.messages = append(m.messages, storedMessage{conversationID: conversationID, record: record})
	return nil
}

func (m *mockStore) messagesFor(participantID string) []storedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.conversations[participantID]
	if !ok {
		return nil
	}
	var out []storedMessage
	for _, msg := range m.messages {
		if msg.conversationID == id {
			out = append(out, msg)
		}
	}
	return out
}

// mockSender records outbound sends.
type mockSender struct {
	mu    sync.Mutex
	sends []send
	err   error
}

type send struct {
	to   string
	text string
}

func (m *mockSender) SendText(ctx context.Context, to, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sends = append(m.sends, send{to: to, text: text})
	return nil
}

func newPipeline(t *testing.T) (*Pipeline, *mockStore, *mockSender, *logging.TestLogger) {
	t.Helper()
	st := newMockStore()
	sender := &mockSender{}
	tl := logging.NewTestLogger()
	p := NewPipeline(st, tl.Logger)
	p.Bind(sender)
	return p, st, sender, tl
}

func textEvent(sender, text string) socket.MessageEvent {
	return socket.MessageEvent{
		ID:           "MSG-" + text,
		Sender:       sender,
		HasContent:   true,
		Conversation: text,
		Timestamp:    time.Now().Unix(),
		Raw:          map[string]any{"conversation": text},
	}
}

func liveBatch(events ...socket.MessageEvent) socket.MessageBatch {
	return socket.MessageBatch{Kind: socket.BatchLive, Events: events}
}

func TestHandleBatch_SequentialMessagesOneConversation(t *testing.T) {
	p, st, _, _ := newPipeline(t)
	ctx := context.Background()

	const participant = "12345@s.whatsapp.net"
	const n = 5
	for i := 0; i < n; i++ {
		p.HandleBatch(ctx, liveBatch(textEvent(participant, fmt.Sprintf("message %d", i))))
	}

	assert.Len(t, st.conversations, 1)
	assert.Len(t, st.messagesFor(participant), n)
}

func TestHandleBatch_ConcurrentFirstContact(t *testing.T) {
	st := newMockStore()
	tl := logging.NewTestLogger()
	ctx := context.Background()

	// Two pipelines sharing one store, as after a reconnect-triggered
	// rebind racing a live batch.
	const participant = "12345@s.whatsapp.net"
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		p := NewPipeline(st, tl.Logger)
		p.Bind(&mockSender{})
		wg.Add(1)
		go func(p *Pipeline, i int) {
			defer wg.Done()
			p.HandleBatch(ctx, liveBatch(textEvent(participant, fmt.Sprintf("hi %d", i))))
		}(p, i)
	}
	wg.Wait()

	assert.Len(t, st.conversations, 1, "concurrent first contact must not duplicate the conversation")
	assert.Len(t, st.messagesFor(participant), 2)
}

func TestHandleBatch_SelfEchoSkipped(t *testing.T) {
	p, st, sender, _ := newPipeline(t)

	event := textEvent("12345@s.whatsapp.net", "hello")
	event.FromMe = true
	p.HandleBatch(context.Background(), liveBatch(event))

	assert.Empty(t, st.messages)
	assert.Empty(t, sender.sends)
}

func TestHandleBatch_PingCommand(t *testing.T) {
	p, st, sender, _ := newPipeline(t)

	p.HandleBatch(context.Background(), liveBatch(textEvent("12345@s.whatsapp.net", "/ping")))

	assert.Empty(t, st.messages, "command traffic is not persisted")
	require.Len(t, sender.sends, 1)
	assert.Equal(t, "12345@s.whatsapp.net", sender.sends[0].to)
	assert.Equal(t, "pong", sender.sends[0].text)
}

func TestHandleBatch_PingReplyFailureIsolated(t *testing.T) {
	p, st, sender, tl := newPipeline(t)
	sender.err = errors.New("socket gone")

	p.HandleBatch(context.Background(), liveBatch(
		textEvent("11111@s.whatsapp.net", "/ping"),
		textEvent("22222@s.whatsapp.net", "still recorded"),
	))

	assert.Len(t, st.messagesFor("22222@s.whatsapp.net"), 1)
	tl.AssertLogged(t, zapcore.ErrorLevel, "failed to process event")
}

func TestHandleBatch_ImageCaption(t *testing.T) {
	p, st, _, _ := newPipeline(t)

	event := socket.MessageEvent{
		Sender:       "12345@s.whatsapp.net",
		HasContent:   true,
		ImageCaption: "hello",
		Timestamp:    time.Now().Unix(),
	}
	p.HandleBatch(context.Background(), liveBatch(event))

	msgs := st.messagesFor("12345@s.whatsapp.net")
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].record.Text)
	assert.Equal(t, "hello", *msgs[0].record.Text)
}

func TestHandleBatch_NonTextMessage(t *testing.T) {
	p, st, _, tl := newPipeline(t)

	raw := map[string]any{"audio": map[string]any{"seconds": 12}}
	event := socket.MessageEvent{
		Sender:     "12345@s.whatsapp.net",
		HasContent: true,
		Raw:        raw,
	}
	p.HandleBatch(context.Background(), liveBatch(event))

	msgs := st.messagesFor("12345@s.whatsapp.net")
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].record.Text)
	assert.Equal(t, raw, msgs[0].record.Raw, "raw payload equals the original event")
	tl.AssertField(t, "stored message", "text", "<non-text>")
}

func TestHandleBatch_NoContentSkipped(t *testing.T) {
	p, st, sender, _ := newPipeline(t)

	p.HandleBatch(context.Background(), liveBatch(socket.MessageEvent{
		Sender: "12345@s.whatsapp.net",
	}))

	assert.Empty(t, st.messages)
	assert.Empty(t, sender.sends)
}

func TestHandleBatch_MalformedEventDoesNotAbortBatch(t *testing.T) {
	p, st, _, _ := newPipeline(t)

	malformed := textEvent("", "no participant")
	p.HandleBatch(context.Background(), liveBatch(
		textEvent("11111@s.whatsapp.net", "first"),
		malformed,
		textEvent("22222@s.whatsapp.net", "second"),
	))

	assert.Len(t, st.messages, 2)
	assert.Len(t, st.messagesFor("11111@s.whatsapp.net"), 1)
	assert.Len(t, st.messagesFor("22222@s.whatsapp.net"), 1)
}

func TestHandleBatch_StoreFailureIsolated(t *testing.T) {
	p, st, _, tl := newPipeline(t)
	st.upsertErr = errors.New("store down")

	p.HandleBatch(context.Background(), liveBatch(textEvent("12345@s.whatsapp.net", "hello")))

	assert.Empty(t, st.messages)
	tl.AssertLogged(t, zapcore.ErrorLevel, "failed to process event")
}

func TestHandleBatch_ReferentialErrorSurfaced(t *testing.T) {
	p, st, _, tl := newPipeline(t)
	st.appendErr = store.ErrConversationNotFound

	p.HandleBatch(context.Background(), liveBatch(textEvent("12345@s.whatsapp.net", "hello")))

	tl.AssertLogged(t, zapcore.ErrorLevel, "failed to process event")
	found := false
	for _, entry := range tl.All() {
		for _, field := range entry.Context {
			if field.Key == "error" {
				found = true
			}
		}
	}
	assert.True(t, found, "referential error must be logged, not swallowed")
}

func TestHandleBatch_HistoryBatchSkipped(t *testing.T) {
	p, st, sender, _ := newPipeline(t)

	p.HandleBatch(context.Background(), socket.MessageBatch{
		Kind:   socket.BatchHistory,
		Events: []socket.MessageEvent{textEvent("12345@s.whatsapp.net", "old news")},
	})

	assert.Empty(t, st.messages)
	assert.Empty(t, sender.sends)
}

func TestHandleBatch_TimestampFallback(t *testing.T) {
	p, st, _, _ := newPipeline(t)

	before := time.Now()
	event := textEvent("12345@s.whatsapp.net", "no clock")
	event.Timestamp = 0
	p.HandleBatch(context.Background(), liveBatch(event))

	msgs := st.messagesFor("12345@s.whatsapp.net")
	require.Len(t, msgs, 1)
	ts := msgs[0].record.MessageTS
	assert.False(t, ts.Before(before))
	assert.False(t, ts.After(time.Now()))
}

func TestHandleBatch_ProtocolTimestampUsed(t *testing.T) {
	p, st, _, _ := newPipeline(t)

	event := textEvent("12345@s.whatsapp.net", "dated")
	event.Timestamp = time.Date(2026, 2, 14, 8, 30, 0, 0, time.UTC).Unix()
	p.HandleBatch(context.Background(), liveBatch(event))

	msgs := st.messagesFor("12345@s.whatsapp.net")
	require.Len(t, msgs, 1)
	assert.Equal(t, event.Timestamp, msgs[0].record.MessageTS.Unix())
}

var _ store.Store = (*mockStore)(nil)
