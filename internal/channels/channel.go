// Package channels implements the spec's uniform adapter contract over
// Telegram, Discord, Slack, WhatsApp and the web dashboard: each adapter
// subscribes to outbound bus events scoped to its own channel, renders them
// through a channel-specific markdown normalizer, and forwards inbound
// platform messages (with any attached media resolved through a shared
// MediaDownloader) onto the bus as InboundMessage events.
package channels

import (
	"context"

	"github.com/shabbark/pocketpaw/internal/bus"
)

// Channel is the uniform adapter contract (spec §4.C):
//
//	start(bus)  → subscribes to outbound events filtered by its channel
//	stop()      → releases resources, drains buffers
//	send(...)   → writes to the channel, buffering stream chunks as needed
type Channel interface {
	Name() bus.Channel
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// StreamCapable marks channels that can render partial edits as a streamed
// response arrives (Telegram, Discord, Slack). Channels whose
// SupportsStreamEdit returns false must buffer per chat_id and flush once
// on stream_end (WhatsApp) — see whatsapp.go.
type StreamCapable interface {
	SupportsStreamEdit() bool
}
