// Package bus implements the in-process pub/sub message bus described in
// spec §4.B: typed inbound/outbound/system events fanned out to multiple
// subscribers, with a non-blocking publish path.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBufferSize = 256

// Channel identifies a chat channel an InboundMessage/OutboundMessage
// originated from or is addressed to.
type Channel string

const (
	ChannelDiscord  Channel = "discord"
	ChannelSlack    Channel = "slack"
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelWeb      Channel = "web"
)

// InboundMessage is published by a channel adapter when it receives a
// message from its transport.
type InboundMessage struct {
	Channel  Channel
	SenderID string
	ChatID   string
	Content  string
	Media    []string
	Metadata map[string]any
}

// OutboundMessage is published for a channel adapter to deliver to its
// transport. IsStreamChunk/IsStreamEnd let adapters that support live edits
// (Telegram, Discord, Slack) render progressively; adapters that don't
// (WhatsApp) buffer until IsStreamEnd.
type OutboundMessage struct {
	Channel       Channel
	ChatID        string
	Content       string
	IsStreamChunk bool
	IsStreamEnd   bool
	Metadata      map[string]any
}

// SystemEvent carries all non-chat telemetry: mc_task_started,
// mc_task_output, mc_task_completed, mc_activity_created,
// mc_task_status_changed, project_completed, and friends.
type SystemEvent struct {
	EventType string
	Data      map[string]any
	Timestamp time.Time
}

// System event type constants (spec §6 "WebSocket events").
const (
	EventTaskStarted       = "mc_task_started"
	EventTaskOutput        = "mc_task_output"
	EventTaskCompleted     = "mc_task_completed"
	EventActivityCreated   = "mc_activity_created"
	EventTaskStatusChanged = "mc_task_status_changed"
	EventProjectCompleted  = "project_completed"
	EventAgentReaped       = "mc_agent_reaped"
	EventHumanTaskReady    = "human_task_ready"
)

// Envelope wraps one of the three event families so a single subscription
// channel can carry any of them; exactly one field is set.
type Envelope struct {
	Inbound  *InboundMessage
	Outbound *OutboundMessage
	System   *SystemEvent
}

// Subscription is a live subscriber handle returned by Subscribe.
type Subscription struct {
	id      int
	channel Channel // "" matches every channel; only applies to Inbound/Outbound filtering
	ch      chan Envelope
}

// C returns the channel to receive envelopes on.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Bus is the process-wide pub/sub fan-out. Publish never blocks the
// publisher: a subscriber whose buffer is full has the event dropped, and a
// warning is logged at exponential drop-count thresholds (1, 10, 100, ...)
// to avoid a logging storm under sustained backpressure.
type Bus struct {
	mu              sync.RWMutex
	subs            map[int]*Subscription
	nextID          int
	logger          *slog.Logger
	droppedEvents   atomic.Int64
	lastDropWarning atomic.Int64
}

// New creates a Bus. A nil logger disables drop-warning logging.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]*Subscription),
		logger: logger,
	}
}

// Subscribe registers a subscriber. When channel is "", the subscription
// receives InboundMessage/OutboundMessage events regardless of channel (all
// SystemEvents always reach every subscriber — dashboards need every
// mc_task_* event independent of which chat channel triggered it).
func (b *Bus) Subscribe(channel Channel) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		channel: channel,
		ch:      make(chan Envelope, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// DroppedEventCount reports total events dropped to full subscriber buffers.
func (b *Bus) DroppedEventCount() int64 {
	return b.droppedEvents.Load()
}

// PublishInbound fans an InboundMessage out to subscribers matching its
// channel (or subscribed to all channels).
func (b *Bus) PublishInbound(msg InboundMessage) {
	b.publish(Envelope{Inbound: &msg}, msg.Channel)
}

// PublishOutbound fans an OutboundMessage out to subscribers matching its
// channel (or subscribed to all channels). Order is preserved per
// subscriber for events published from a single publisher goroutine.
func (b *Bus) PublishOutbound(msg OutboundMessage) {
	b.publish(Envelope{Outbound: &msg}, msg.Channel)
}

// PublishSystem fans a SystemEvent out to every subscriber, independent of
// channel filtering — dashboards and channel adapters alike need task
// telemetry.
func (b *Bus) PublishSystem(evt SystemEvent) {
	b.publish(Envelope{System: &evt}, "")
}

func (b *Bus) publish(env Envelope, channel Channel) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if env.System == nil && sub.channel != "" && sub.channel != channel {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			newCount := b.droppedEvents.Add(1)
			b.maybeLogDropWarning(newCount)
		}
	}
}

func dropThreshold(count int64) int64 {
	threshold := int64(1)
	for threshold*10 <= count {
		threshold *= 10
	}
	return threshold
}

func (b *Bus) maybeLogDropWarning(newCount int64) {
	if b.logger == nil {
		return
	}
	threshold := dropThreshold(newCount)
	if newCount != threshold {
		return
	}
	lastWarned := b.lastDropWarning.Load()
	if threshold <= lastWarned {
		return
	}
	if b.lastDropWarning.CompareAndSwap(lastWarned, threshold) {
		b.logger.Warn("bus_dropped_events_reached_threshold",
			slog.Int64("count", newCount))
	}
}
