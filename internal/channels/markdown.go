package channels

import (
	"regexp"
	"strings"

	"github.com/shabbark/pocketpaw/internal/bus"
)

// MarkdownNormalizer rewrites common-markdown text into the dialect (or
// plain text) a channel's transport expects before Send.
type MarkdownNormalizer func(text string) string

var boldPattern = regexp.MustCompile(`\*\*(.+?)\*\*`)
var headingPattern = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)

// NormalizerFor returns the markdown normalizer appropriate for ch.
func NormalizerFor(ch bus.Channel) MarkdownNormalizer {
	switch ch {
	case bus.ChannelTelegram:
		return normalizeTelegramMarkdown
	case bus.ChannelDiscord:
		return normalizeDiscordMarkdown
	case bus.ChannelSlack:
		return normalizeSlackMarkdown
	case bus.ChannelWhatsApp:
		return normalizeWhatsAppMarkdown
	default:
		return func(text string) string { return text }
	}
}

// normalizeTelegramMarkdown keeps standard markdown (Telegram's MarkdownV2 is
// close enough to common markdown for **bold**/_italic_/`code`); headings
// collapse to bold since Telegram has no heading syntax.
func normalizeTelegramMarkdown(text string) string {
	return headingPattern.ReplaceAllString(text, "*$1*")
}

// normalizeDiscordMarkdown: Discord already speaks the same markdown
// dialect; headings become bold lines since Discord's "# " heading syntax
// only renders in newer clients.
func normalizeDiscordMarkdown(text string) string {
	return headingPattern.ReplaceAllString(text, "**$1**")
}

// normalizeSlackMarkdown converts **bold** and headings to Slack's *bold*.
// Single-asterisk *italic* is passed through unchanged, so Slack's "mrkdwn"
// dialect renders it as bold.
func normalizeSlackMarkdown(text string) string {
	text = boldPattern.ReplaceAllString(text, "*$1*")
	text = headingPattern.ReplaceAllString(text, "*$1*")
	return text
}

// normalizeWhatsAppMarkdown converts **bold** and headings to WhatsApp's
// single-asterisk bold and removes backticks. Links and single-asterisk
// *italic* are passed through unchanged.
func normalizeWhatsAppMarkdown(text string) string {
	text = boldPattern.ReplaceAllString(text, "*$1*")
	text = headingPattern.ReplaceAllString(text, "*$1*")
	text = strings.ReplaceAll(text, "`", "")
	return text
}
