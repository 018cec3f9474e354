// Package ingest records live inbound chat traffic.
//
// The pipeline consumes message batches from the socket, filters and
// normalizes each event, answers the /ping command, and writes everything
// else to the persistence store. Failures are isolated per event: one bad
// message never drops the rest of its batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/msgvault/internal/socket"
	"github.com/fyrsmithlabs/msgvault/internal/store"
)

const (
	pingCommand = "/ping"
	pingReply   = "pong"

	// nonTextMarker stands in for text in log lines when an event carries
	// no extractable text.
	nonTextMarker = "<non-text>"
)

// Pipeline ingests message batches. It never caches entity state across
// events; the store owns all lifecycle and concurrency control.
type Pipeline struct {
	store  store.Store
	logger *zap.Logger

	// sender is the currently bound socket. Bind is called by the
	// dispatcher on the same goroutine that delivers batches.
	sender socket.Sender
}

// NewPipeline creates an ingestion pipeline over the given store.
func NewPipeline(st store.Store, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:  st,
		logger: logger,
	}
}

// Bind attaches the pipeline to a socket for command replies. The
// supervisor rebinds on every reconnect.
func (p *Pipeline) Bind(sender socket.Sender) {
	p.sender = sender
}

// HandleBatch processes one socket delivery batch. Only live traffic is
// recorded; historical replays are skipped wholesale. Per-event failures
// are logged and counted, never propagated.
func (p *Pipeline) HandleBatch(ctx context.Context, batch socket.MessageBatch) {
	if batch.Kind != socket.BatchLive {
		MessagesSkipped.WithLabelValues("history_batch").Add(float64(len(batch.Events)))
		p.logger.Debug("skipping non-live batch",
			zap.String("kind", string(batch.Kind)),
			zap.Int("events", len(batch.Events)),
		)
		return
	}

	batchID := uuid.NewString()
	for _, event := range batch.Events {
		if err := p.processEvent(ctx, batchID, event); err != nil {
			p.logger.Error("failed to process event",
				zap.String("batch_id", batchID),
				zap.String("event_id", event.ID),
				zap.String("participant", event.Sender),
				zap.Error(err),
			)
		}
	}
}

// processEvent handles a single inbound event. A nil return covers both
// stored events and deliberate skips.
func (p *Pipeline) processEvent(ctx context.Context, batchID string, event socket.MessageEvent) error {
	switch {
	case event.FromMe:
		// Self-echo suppression: recording our own sends through the
		// inbound path would loop on the /ping reply.
		p.skip("self_echo", batchID, event)
		return nil
	case !event.HasContent:
		p.skip("no_content", batchID, event)
		return nil
	case event.Sender == "":
		p.skip("no_participant", batchID, event)
		return nil
	}

	text := extractText(event)

	if text != nil && *text == pingCommand {
		if err := p.sender.SendText(ctx, event.Sender, pingReply); err != nil {
			EventErrors.WithLabelValues("reply").Inc()
			return fmt.Errorf("sending %s reply: %w", pingCommand, err)
		}
		CommandReplies.Inc()
		p.logger.Info("answered command",
			zap.String("batch_id", batchID),
			zap.String("participant", event.Sender),
			zap.String("command", pingCommand),
		)
		return nil
	}

	messageTS := time.Now()
	if event.Timestamp > 0 {
		messageTS = time.Unix(event.Timestamp, 0)
	}

	conversationID, err := p.store.UpsertConversation(ctx, event.Sender)
	if err != nil {
		EventErrors.WithLabelValues("upsert").Inc()
		return fmt.Errorf("upserting conversation: %w", err)
	}

	raw := event.Raw
	if raw == nil {
		raw = event
	}
	err = p.store.AppendMessage(ctx, conversationID, store.MessageRecord{
		Direction: store.DirectionIncoming,
		Text:      text,
		Raw:       raw,
		MessageTS: messageTS,
	})
	if err != nil {
		EventErrors.WithLabelValues("append").Inc()
		if errors.Is(err, store.ErrConversationNotFound) {
			// Should be unreachable given the upsert-first ordering;
			// indicates a store inconsistency, so call it out distinctly.
			return fmt.Errorf("conversation vanished between upsert and append: %w", err)
		}
		return fmt.Errorf("appending message: %w", err)
	}

	logText := nonTextMarker
	if text != nil {
		logText = *text
	}
	MessagesStored.Inc()
	p.logger.Info("stored message",
		zap.String("batch_id", batchID),
		zap.String("participant", event.Sender),
		zap.String("text", logText),
		zap.Time("message_ts", messageTS),
	)
	return nil
}

// skip records a deliberately ignored event.
func (p *Pipeline) skip(reason, batchID string, event socket.MessageEvent) {
	MessagesSkipped.WithLabelValues(reason).Inc()
	p.logger.Debug("skipping event",
		zap.String("reason", reason),
		zap.String("batch_id", batchID),
		zap.String("event_id", event.ID),
	)
}
