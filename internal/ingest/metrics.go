// Package ingest provides Prometheus metrics for pipeline visibility.
package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesStored counts messages persisted to the store.
	MessagesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "msgvault",
			Subsystem: "ingest",
			Name:      "messages_stored_total",
			Help:      "Total number of messages persisted",
		},
	)

	// MessagesSkipped counts events skipped before persistence.
	// Labels: reason (history_batch, self_echo, no_content, no_participant)
	MessagesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgvault",
			Subsystem: "ingest",
			Name:      "messages_skipped_total",
			Help:      "Total number of events skipped before persistence",
		},
		[]string{"reason"},
	)

	// CommandReplies counts command replies sent instead of persisting.
	CommandReplies = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "msgvault",
			Subsystem: "ingest",
			Name:      "command_replies_total",
			Help:      "Total number of command replies sent",
		},
	)

	// EventErrors counts per-event processing failures.
	// Labels: stage (reply, upsert, append)
	EventErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgvault",
			Subsystem: "ingest",
			Name:      "event_errors_total",
			Help:      "Total number of per-event processing failures",
		},
		[]string{"stage"},
	)
)
