package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shabbark/pocketpaw/internal/bus"
)

// SlackChannel implements Channel against Slack's Web API (chat.postMessage
// / chat.update) using the bot token directly over net/http. Like Discord,
// no Slack SDK is present anywhere in the reference pack, so this follows
// the same stdlib-webhook pattern rather than inventing a dependency.
type SlackChannel struct {
	botToken   string
	eventBus   *bus.Bus
	downloader *MediaDownloader
	normalize  MarkdownNormalizer
	logger     *slog.Logger
	client     *http.Client

	sub *bus.Subscription
}

// NewSlackChannel builds a SlackChannel authenticated with botToken.
func NewSlackChannel(botToken string, eb *bus.Bus, downloader *MediaDownloader, logger *slog.Logger) *SlackChannel {
	return &SlackChannel{
		botToken:   botToken,
		eventBus:   eb,
		downloader: downloader,
		normalize:  NormalizerFor(bus.ChannelSlack),
		logger:     logger,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *SlackChannel) Name() bus.Channel { return bus.ChannelSlack }

func (s *SlackChannel) SupportsStreamEdit() bool { return true }

// Start subscribes to outbound events addressed to Slack and drains them
// until ctx is canceled. It does not receive inbound events:
// HandleInboundEvent is the inbound entry point, and no HTTP route in this
// module calls it.
func (s *SlackChannel) Start(ctx context.Context) error {
	s.sub = s.eventBus.Subscribe(bus.ChannelSlack)
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-s.sub.C():
			if !ok {
				return nil
			}
			if env.Outbound == nil {
				continue
			}
			if err := s.Send(ctx, *env.Outbound); err != nil {
				s.logger.Error("slack send failed", "error", err)
			}
		}
	}
}

type slackPostResponse struct {
	OK    bool   `json:"ok"`
	TS    string `json:"ts"`
	Error string `json:"error"`
}

// Send posts msg's content as a new message via chat.postMessage or, when
// Metadata["slack_ts"] names an existing message, replaces that message's
// text via chat.update. Stream chunks are not accumulated or throttled:
// every call sends only its own msg.Content.
func (s *SlackChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	rendered := s.normalize(msg.Content)
	method := "chat.postMessage"
	payload := map[string]string{"channel": msg.ChatID, "text": rendered}
	if ts, ok := msg.Metadata["slack_ts"].(string); ok && ts != "" {
		method = "chat.update"
		payload["ts"] = ts
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://slack.com/api/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.botToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack api call: %w", err)
	}
	defer resp.Body.Close()

	var decoded slackPostResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode slack response: %w", err)
	}
	if !decoded.OK {
		return fmt.Errorf("slack api error: %s", decoded.Error)
	}
	return nil
}

// Stop releases the outbound subscription.
func (s *SlackChannel) Stop() error {
	if s.sub != nil {
		s.eventBus.Unsubscribe(s.sub)
	}
	return nil
}

// HandleInboundEvent publishes a Slack Events API message payload onto the
// bus, resolving any file attachment through the authenticated download
// variant (Slack file URLs require the bot token as a bearer header).
func (s *SlackChannel) HandleInboundEvent(senderID, channelID, text, fileURL, fileName string) {
	content := text
	var media []string
	if fileURL != "" {
		path, err := s.downloader.DownloadAuthenticated(fileURL, fileName, "Bearer "+s.botToken, time.Now().UnixMilli())
		if err != nil {
			s.logger.Error("slack media download failed", "error", err)
		} else {
			media = append(media, path)
			content = content + fmt.Sprintf(" [Attached: %s]", fileName)
		}
	}
	s.eventBus.PublishInbound(bus.InboundMessage{
		Channel:  bus.ChannelSlack,
		SenderID: senderID,
		ChatID:   channelID,
		Content:  content,
		Media:    media,
	})
}
