// internal/socket/whatsmeow.go
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// eventBuffer bounds the translation channel. The dispatcher is the single
// consumer; events beyond the buffer on a discarded client are dropped.
const eventBuffer = 64

// WhatsmeowConfig holds settings for the production socket factory.
type WhatsmeowConfig struct {
	// AuthStatePath is the sqlite file holding opaque session credentials.
	AuthStatePath string
}

// WhatsmeowFactory creates whatsmeow-backed clients. The credential
// container is shared across connections so a reconnect resumes the same
// session.
type WhatsmeowFactory struct {
	cfg       WhatsmeowConfig
	logger    *zap.Logger
	container *sqlstore.Container
}

// NewWhatsmeowFactory returns a factory backed by the auth-state container
// at cfg.AuthStatePath. The container is opened lazily on first New.
func NewWhatsmeowFactory(cfg WhatsmeowConfig, logger *zap.Logger) *WhatsmeowFactory {
	return &WhatsmeowFactory{cfg: cfg, logger: logger}
}

// New implements Factory. It loads the stored device identity, connects a
// fresh socket, and starts event translation. When the session is not yet
// paired it also starts forwarding QR pairing codes.
func (f *WhatsmeowFactory) New(ctx context.Context) (Client, error) {
	if f.container == nil {
		address := fmt.Sprintf("file:%s?_foreign_keys=on", f.cfg.AuthStatePath)
		container, err := sqlstore.New(ctx, "sqlite3", address, newWALogger(f.logger.Named("authstate")))
		if err != nil {
			return nil, fmt.Errorf("socket: opening auth state at %s: %w", f.cfg.AuthStatePath, err)
		}
		f.container = container
	}

	device, err := f.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("socket: loading device identity: %w", err)
	}

	wm := whatsmeow.NewClient(device, newWALogger(f.logger.Named("client")))
	// The supervisor owns reconnect policy; the library must not race it.
	wm.EnableAutoReconnect = false

	c := &waClient{
		wm:     wm,
		events: make(chan Event, eventBuffer),
		logger: f.logger,
	}
	wm.AddEventHandler(c.translate)

	// GetQRChannel must be called before Connect and only works while the
	// session is unauthenticated.
	var qrChan <-chan whatsmeow.QRChannelItem
	if wm.Store.ID == nil {
		qrChan, err = wm.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("socket: opening QR channel: %w", err)
		}
	}

	if err := wm.Connect(); err != nil {
		return nil, fmt.Errorf("socket: connecting: %w", err)
	}

	if qrChan != nil {
		go c.forwardQR(qrChan)
	}

	return c, nil
}

// waClient adapts a *whatsmeow.Client to the Client interface.
type waClient struct {
	wm     *whatsmeow.Client
	events chan Event
	logger *zap.Logger

	// mu guards closed against the race between library handler
	// goroutines emitting and Disconnect closing the channel.
	mu     sync.Mutex
	closed bool
}

// Events implements Client.
func (c *waClient) Events() <-chan Event {
	return c.events
}

// SendText implements Sender.
func (c *waClient) SendText(ctx context.Context, to, text string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("socket: parsing destination %q: %w", to, err)
	}
	_, err = c.wm.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("socket: sending to %s: %w", to, err)
	}
	return nil
}

// Disconnect implements Client. Events arriving afterwards are dropped.
func (c *waClient) Disconnect() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	c.mu.Unlock()
	c.wm.Disconnect()
}

// emit delivers an event to the dispatcher without ever blocking the
// library's handler goroutine. Events on a closed or saturated channel are
// dropped.
func (c *waClient) emit(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- evt:
	default:
		c.logger.Warn("dropping event, dispatcher not keeping up")
	}
}

// translate maps library events onto the narrow event surface.
func (c *waClient) translate(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		c.emit(MessageBatch{
			Kind:   BatchLive,
			Events: []MessageEvent{fromMessageEvent(evt)},
		})
	case *events.HistorySync:
		// Backfilled history is classified, delivered, and skipped by the
		// pipeline rather than silently discarded here.
		c.emit(MessageBatch{Kind: BatchHistory})
	case *events.Connected:
		c.emit(ConnectionUpdate{State: StateOpen})
	case *events.PairSuccess:
		c.emit(CredsUpdate{SessionID: evt.ID.String()})
	case *events.LoggedOut:
		c.emit(ConnectionUpdate{State: StateClosed, StatusCode: CodeLoggedOut})
	case *events.StreamReplaced:
		c.emit(ConnectionUpdate{State: StateClosed, StatusCode: CodeSessionReplaced})
	case *events.Disconnected:
		c.emit(ConnectionUpdate{State: StateClosed, StatusCode: CodeRestartRequired})
	case *events.ConnectFailure:
		c.emit(ConnectionUpdate{State: StateClosed, StatusCode: int(evt.Reason)})
	}
}

// forwardQR relays pairing codes as connection updates until the channel
// closes (pairing succeeded or timed out).
func (c *waClient) forwardQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		if item.Event == "code" {
			c.emit(ConnectionUpdate{State: StateConnecting, QR: item.Code})
		}
	}
}

// fromMessageEvent flattens a library message event into a MessageEvent.
func fromMessageEvent(evt *events.Message) MessageEvent {
	msg := evt.Message
	out := MessageEvent{
		ID:         evt.Info.ID,
		Sender:     evt.Info.Chat.ToNonAD().String(),
		PushName:   evt.Info.PushName,
		FromMe:     evt.Info.IsFromMe,
		Timestamp:  protocolTimestamp(evt.Info.Timestamp),
		HasContent: msg != nil,
	}
	if msg == nil {
		return out
	}

	out.Conversation = msg.GetConversation()
	out.ExtendedText = msg.GetExtendedTextMessage().GetText()
	out.ImageCaption = msg.GetImageMessage().GetCaption()
	out.VideoCaption = msg.GetVideoMessage().GetCaption()
	out.DocumentCaption = msg.GetDocumentMessage().GetCaption()
	out.Raw = rawSnapshot(evt)
	return out
}

// protocolTimestamp converts the event time to unix seconds, 0 when absent.
func protocolTimestamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// rawSnapshot builds a store-friendly snapshot of the original event:
// delivery metadata plus the full message payload, retained uninterpreted
// for forward compatibility and debugging.
func rawSnapshot(evt *events.Message) any {
	snapshot := map[string]any{
		"id":        evt.Info.ID,
		"chat":      evt.Info.Chat.String(),
		"sender":    evt.Info.Sender.String(),
		"push_name": evt.Info.PushName,
		"from_me":   evt.Info.IsFromMe,
		"timestamp": evt.Info.Timestamp.Unix(),
		"type":      evt.Info.Type,
	}

	encoded, err := protojson.Marshal(evt.Message)
	if err != nil {
		return snapshot
	}
	var payload map[string]any
	if err := json.Unmarshal(encoded, &payload); err != nil {
		return snapshot
	}
	snapshot["message"] = payload
	return snapshot
}

var (
	_ Client  = (*waClient)(nil)
	_ Factory = (*WhatsmeowFactory)(nil)
)
