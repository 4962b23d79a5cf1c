package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/shabbark/pocketpaw/internal/bus"
)

// TelegramChannel implements Channel over the Telegram Bot API (grounded on
// the teacher's internal/channels/telegram.go long-poll/reconnect loop).
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]struct{}
	eventBus   *bus.Bus
	downloader *MediaDownloader
	normalize  MarkdownNormalizer
	logger     *slog.Logger

	bot *tgbotapi.BotAPI
	sub *bus.Subscription

	streamMu   sync.Mutex
	streamMsgs map[string]*telegramStreamState // chat_id -> in-flight streamed message
}

type telegramStreamState struct {
	messageID int
	text      strings.Builder
	lastEdit  time.Time
}

const telegramEditThrottle = 700 * time.Millisecond

// NewTelegramChannel builds a TelegramChannel. allowedIDs restricts which
// Telegram user IDs may interact with the bot.
func NewTelegramChannel(token string, allowedIDs []int64, eb *bus.Bus, downloader *MediaDownloader, logger *slog.Logger) *TelegramChannel {
	allowed := make(map[int64]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	return &TelegramChannel{
		token:      token,
		allowedIDs: allowed,
		eventBus:   eb,
		downloader: downloader,
		normalize:  NormalizerFor(bus.ChannelTelegram),
		logger:     logger,
		streamMsgs: make(map[string]*telegramStreamState),
	}
}

func (t *TelegramChannel) Name() bus.Channel { return bus.ChannelTelegram }

func (t *TelegramChannel) SupportsStreamEdit() bool { return true }

// Start connects to Telegram and begins long-polling for updates, and
// subscribes to the bus for outbound events addressed to this channel.
// It blocks until ctx is canceled.
func (t *TelegramChannel) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram channel started", "user", bot.Self.UserName)

	t.sub = t.eventBus.Subscribe(bus.ChannelTelegram)
	go t.consumeOutbound(ctx)

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		err := t.pollUpdates(ctx, updates)
		t.bot.StopReceivingUpdates()
		if err == nil {
			return nil
		}
		t.logger.Warn("telegram poll disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second
	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message != nil {
				t.handleMessage(update.Message)
			}
		case <-timer.C:
			return fmt.Errorf("no updates for %s", stallTimeout)
		}
	}
}

func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if _, ok := t.allowedIDs[msg.From.ID]; !ok {
		t.logger.Warn("telegram access denied", "user_id", msg.From.ID)
		return
	}

	content := msg.Text
	var media []string
	if fileID, name, ok := largestTelegramAttachment(msg); ok {
		url, err := t.bot.GetFileDirectURL(fileID)
		if err != nil {
			t.logger.Error("telegram resolve file url failed", "error", err)
		} else if path, err := t.downloader.DownloadDirect(url, name, time.Now().UnixMilli()); err != nil {
			t.logger.Error("telegram media download failed", "error", err)
		} else {
			media = append(media, path)
			content = strings.TrimSpace(content + fmt.Sprintf(" [Attached: %s]", name))
		}
	}

	t.eventBus.PublishInbound(bus.InboundMessage{
		Channel:  bus.ChannelTelegram,
		SenderID: strconv.FormatInt(msg.From.ID, 10),
		ChatID:   strconv.FormatInt(msg.Chat.ID, 10),
		Content:  content,
		Media:    media,
	})
}

func largestTelegramAttachment(msg *tgbotapi.Message) (fileID, name string, ok bool) {
	switch {
	case len(msg.Photo) > 0:
		best := msg.Photo[len(msg.Photo)-1]
		return best.FileID, "photo.jpg", true
	case msg.Document != nil:
		return msg.Document.FileID, msg.Document.FileName, true
	case msg.Voice != nil:
		return msg.Voice.FileID, "voice.ogg", true
	}
	return "", "", false
}

func (t *TelegramChannel) consumeOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-t.sub.C():
			if !ok {
				return
			}
			if env.Outbound == nil {
				continue
			}
			if err := t.Send(ctx, *env.Outbound); err != nil {
				t.logger.Error("telegram send failed", "error", err)
			}
		}
	}
}

// Send writes an OutboundMessage to Telegram. Stream chunks edit a single
// in-flight message (throttled to avoid Telegram's edit rate limit);
// stream_end finalizes it.
func (t *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id: %w", err)
	}
	rendered := t.normalize(msg.Content)

	if !msg.IsStreamChunk && !msg.IsStreamEnd {
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, rendered))
		return err
	}

	t.streamMu.Lock()
	state, exists := t.streamMsgs[msg.ChatID]
	if !exists {
		sent, err := t.bot.Send(tgbotapi.NewMessage(chatID, rendered))
		if err != nil {
			t.streamMu.Unlock()
			return err
		}
		state = &telegramStreamState{messageID: sent.MessageID}
		state.text.WriteString(msg.Content)
		t.streamMsgs[msg.ChatID] = state
		t.streamMu.Unlock()
		if msg.IsStreamEnd {
			t.streamMu.Lock()
			delete(t.streamMsgs, msg.ChatID)
			t.streamMu.Unlock()
		}
		return nil
	}
	state.text.WriteString(msg.Content)
	shouldEdit := msg.IsStreamEnd || time.Since(state.lastEdit) > telegramEditThrottle
	t.streamMu.Unlock()

	if shouldEdit {
		edit := tgbotapi.NewEditMessageText(chatID, state.messageID, t.normalize(state.text.String()))
		if _, err := t.bot.Send(edit); err != nil {
			return err
		}
		t.streamMu.Lock()
		state.lastEdit = time.Now()
		t.streamMu.Unlock()
	}
	if msg.IsStreamEnd {
		t.streamMu.Lock()
		delete(t.streamMsgs, msg.ChatID)
		t.streamMu.Unlock()
	}
	return nil
}

// Stop releases the outbound subscription.
func (t *TelegramChannel) Stop() error {
	if t.sub != nil {
		t.eventBus.Unsubscribe(t.sub)
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	return nil
}
