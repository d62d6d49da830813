package channels

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/quiltfox/fablebot/pkg/logger"
)

// Deliver gets a finished reply in front of the user. Editing the placeholder
// in place is preferred; when that fails for any reason a fresh message is
// sent instead, so the user is never left staring at "🤔".
func (c *TelegramChannel) Deliver(ctx context.Context, chatID int64, text string, placeholderID int) error {
	if strings.TrimSpace(text) == "" {
		text = "…"
	}

	html := renderHTML(text)
	chunks := splitMessage(html, c.cfg.Chat.MaxMessageLength)

	start := 0
	if placeholderID != 0 {
		edit := tu.EditMessageText(tu.ID(chatID), placeholderID, chunks[0])
		edit.ParseMode = telego.ModeHTML
		_, err := c.bot.EditMessageText(ctx, edit)
		switch {
		case err == nil:
			start = 1
		case strings.Contains(err.Error(), "message is not modified"):
			// Same text as the placeholder already shows; nothing to do.
			start = 1
		default:
			logger.WarnCF("telegram", "Failed to edit placeholder, sending new message", map[string]interface{}{
				"chat_id": chatID,
				"error":   err.Error(),
			})
		}
	}

	for i := start; i < len(chunks); i++ {
		if err := c.sendChunk(ctx, chatID, chunks[i]); err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

// Notify posts a standalone message, trying HTML first.
func (c *TelegramChannel) Notify(ctx context.Context, chatID int64, text string) error {
	return c.sendChunk(ctx, chatID, text)
}

// OfferScene shows a generated scene with confirmation buttons.
func (c *TelegramChannel) OfferScene(ctx context.Context, chatID int64, scene string) error {
	text := "<b>I've imagined this scene for you:</b>\n\n<i>" + escapeHTML(scene) + "</i>"
	msg := tu.Message(tu.ID(chatID), text)
	msg.ParseMode = telego.ModeHTML
	msg.ReplyMarkup = tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("✅ Use this scene").WithCallbackData("scene_use"),
			tu.InlineKeyboardButton("🗑 Discard").WithCallbackData("scene_discard"),
		),
	)
	_, err := c.bot.SendMessage(ctx, msg)
	return err
}

// OfferPersona shows a generated persona with confirmation buttons.
func (c *TelegramChannel) OfferPersona(ctx context.Context, chatID int64, name, prompt string) error {
	text := fmt.Sprintf(
		"<b>I've created this persona for you:</b>\n\n<b>Name:</b> %s\n\n<b>Prompt:</b>\n<code>%s</code>",
		escapeHTML(name), escapeHTML(prompt))
	msg := tu.Message(tu.ID(chatID), text)
	msg.ParseMode = telego.ModeHTML
	msg.ReplyMarkup = tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("✅ Talk to them").WithCallbackData("persona_use"),
			tu.InlineKeyboardButton("🗑 Discard").WithCallbackData("persona_discard"),
		),
	)
	_, err := c.bot.SendMessage(ctx, msg)
	return err
}

// Typing shows the typing indicator, best effort.
func (c *TelegramChannel) Typing(ctx context.Context, chatID int64) {
	if err := c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil {
		logger.DebugCF("telegram", "Failed to send chat action", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
}

// sendChunk sends one message as HTML, retrying as plain text when Telegram
// rejects the markup.
func (c *TelegramChannel) sendChunk(ctx context.Context, chatID int64, chunk string) error {
	msg := tu.Message(tu.ID(chatID), chunk)
	msg.ParseMode = telego.ModeHTML
	if _, err := c.bot.SendMessage(ctx, msg); err == nil {
		return nil
	} else {
		logger.DebugCF("telegram", "HTML parse failed, falling back to plain text", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}

	msg = tu.Message(tu.ID(chatID), stripTags(chunk))
	_, err := c.bot.SendMessage(ctx, msg)
	return err
}

func (c *TelegramChannel) sendPlain(ctx context.Context, chatID int64, text string) {
	if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		logger.ErrorCF("telegram", "Failed to send message", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
}

func (c *TelegramChannel) sendHTML(ctx context.Context, chatID int64, html string) {
	if err := c.sendChunk(ctx, chatID, html); err != nil {
		logger.ErrorCF("telegram", "Failed to send message", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
}

var (
	reBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reAction     = regexp.MustCompile(`\*([^*\n]+)\*`)
	reInlineCode = regexp.MustCompile("`([^`\n]+)`")
	reTag        = regexp.MustCompile(`</?[a-z]+>`)
)

// renderHTML converts the light markup models tend to produce into Telegram
// HTML. Role-play convention puts actions in single asterisks, so those
// become italics.
func renderHTML(text string) string {
	text = escapeHTML(text)
	text = reBold.ReplaceAllString(text, "<b>$1</b>")
	text = reAction.ReplaceAllString(text, "<i>$1</i>")
	text = reInlineCode.ReplaceAllString(text, "<code>$1</code>")
	return text
}

func escapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}

func stripTags(html string) string {
	return reTag.ReplaceAllString(html, "")
}

// splitMessage breaks text into pieces no longer than maxLen, preferring to
// break at a newline when one falls in the last third of a piece.
func splitMessage(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > 0 {
		size := maxLen
		if len(remaining) <= size {
			chunks = append(chunks, remaining)
			break
		}
		if cut := strings.LastIndex(remaining[:size], "\n"); cut > maxLen*2/3 {
			size = cut + 1
		}
		chunks = append(chunks, remaining[:size])
		remaining = remaining[size:]
	}
	return chunks
}
