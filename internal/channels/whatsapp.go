package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shabbark/pocketpaw/internal/bus"
)

// WhatsAppChannel implements Channel against the WhatsApp Cloud API. It has
// no stream-edit affordance (spec §4.C), so outbound chunks are buffered
// per chat_id and flushed as a single message on stream_end.
type WhatsAppChannel struct {
	phoneNumberID string
	accessToken   string
	eventBus      *bus.Bus
	downloader    *MediaDownloader
	normalize     MarkdownNormalizer
	logger        *slog.Logger
	client        *http.Client
	graphAPIBase  string // overridable in tests; defaults to the real Cloud API host

	sub *bus.Subscription

	bufMu sync.Mutex
	bufs  map[string]*strings.Builder // chat_id -> buffered stream content
}

const whatsappGraphAPIBase = "https://graph.facebook.com/v19.0"

// NewWhatsAppChannel builds a WhatsAppChannel for the given Cloud API phone
// number ID, authenticated with accessToken.
func NewWhatsAppChannel(phoneNumberID, accessToken string, eb *bus.Bus, downloader *MediaDownloader, logger *slog.Logger) *WhatsAppChannel {
	return &WhatsAppChannel{
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		eventBus:      eb,
		downloader:    downloader,
		normalize:     NormalizerFor(bus.ChannelWhatsApp),
		logger:        logger,
		client:        &http.Client{Timeout: 30 * time.Second},
		graphAPIBase:  whatsappGraphAPIBase,
		bufs:          make(map[string]*strings.Builder),
	}
}

func (w *WhatsAppChannel) Name() bus.Channel { return bus.ChannelWhatsApp }

func (w *WhatsAppChannel) SupportsStreamEdit() bool { return false }

// Start subscribes to outbound events addressed to WhatsApp. It does not
// receive inbound messages: HandleInboundWebhook is the inbound entry
// point, and no HTTP route in this module calls it.
func (w *WhatsAppChannel) Start(ctx context.Context) error {
	w.sub = w.eventBus.Subscribe(bus.ChannelWhatsApp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-w.sub.C():
			if !ok {
				return nil
			}
			if env.Outbound == nil {
				continue
			}
			if err := w.Send(ctx, *env.Outbound); err != nil {
				w.logger.Error("whatsapp send failed", "error", err)
			}
		}
	}
}

// Send buffers stream chunks per chat_id and flushes a single message to
// the Cloud API only on stream_end (or immediately for a non-streamed
// message), per the spec's "channels that do not [support live edits]
// (WhatsApp) must buffer ... and flush a single message on is_stream_end".
func (w *WhatsAppChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !msg.IsStreamChunk && !msg.IsStreamEnd {
		return w.deliver(ctx, msg.ChatID, msg.Content)
	}

	w.bufMu.Lock()
	buf, ok := w.bufs[msg.ChatID]
	if !ok {
		buf = &strings.Builder{}
		w.bufs[msg.ChatID] = buf
	}
	buf.WriteString(msg.Content)
	flushed := msg.IsStreamEnd
	var full string
	if flushed {
		full = buf.String()
		delete(w.bufs, msg.ChatID)
	}
	w.bufMu.Unlock()

	if flushed {
		return w.deliver(ctx, msg.ChatID, full)
	}
	return nil
}

func (w *WhatsAppChannel) deliver(ctx context.Context, chatID, content string) error {
	rendered := w.normalize(content)
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                chatID,
		"type":              "text",
		"text":              map[string]string{"body": rendered},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", w.graphAPIBase, w.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.accessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp cloud api call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp cloud api: status %d", resp.StatusCode)
	}
	return nil
}

// Stop releases the outbound subscription.
func (w *WhatsAppChannel) Stop() error {
	if w.sub != nil {
		w.eventBus.Unsubscribe(w.sub)
	}
	return nil
}

// resolveMediaURL performs the first step of WhatsApp's two-step media
// fetch: GET /{media_id} returns metadata including a short-lived URL.
func (w *WhatsAppChannel) resolveMediaURL(mediaID string) (string, error) {
	url := fmt.Sprintf("%s/%s", w.graphAPIBase, mediaID)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+w.accessToken)
	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve whatsapp media: %w", err)
	}
	defer resp.Body.Close()

	var decoded struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode whatsapp media metadata: %w", err)
	}
	return decoded.URL, nil
}

// HandleInboundWebhook publishes a WhatsApp Cloud API webhook message onto
// the bus, resolving any attached media through the two-step fetch.
func (w *WhatsAppChannel) HandleInboundWebhook(senderID, content, mediaID, mediaName string) {
	var media []string
	if mediaID != "" {
		path, err := w.downloader.DownloadWhatsApp(mediaID, mediaName, "Bearer "+w.accessToken, w.resolveMediaURL, time.Now().UnixMilli())
		if err != nil {
			w.logger.Error("whatsapp media download failed", "error", err)
		} else {
			media = append(media, path)
			content = content + fmt.Sprintf(" [Attached: %s]", mediaName)
		}
	}
	w.eventBus.PublishInbound(bus.InboundMessage{
		Channel:  bus.ChannelWhatsApp,
		SenderID: senderID,
		ChatID:   senderID,
		Content:  content,
		Media:    media,
	})
}
