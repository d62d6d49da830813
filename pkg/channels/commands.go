package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/quiltfox/fablebot/pkg/agent"
	"github.com/quiltfox/fablebot/pkg/backend"
	"github.com/quiltfox/fablebot/pkg/config"
	"github.com/quiltfox/fablebot/pkg/logger"
	"github.com/quiltfox/fablebot/pkg/session"
)

const helpText = `<b>FableBot commands</b>

/start – introduce yourself to the bot
/persona – choose who you're talking to
/scene – choose the backdrop of the story
/genscene – let the AI invent a scene
/genpersona – let the AI invent a persona
/settings – show the current setup
/memory – toggle long-term memory
/regenerate – redo the last reply
/clear – wipe the story and its memories
/about – about this bot

Anything that isn't a command is part of the story.`

const aboutText = `<b>FableBot</b> is a role-play companion backed by a local, OpenAI-compatible inference server. Your conversations never leave your machine.`

func (c *TelegramChannel) handleCommand(ctx context.Context, message *telego.Message, text string) {
	chatID := message.Chat.ID
	user := message.From

	cmd := strings.ToLower(strings.Fields(text)[0])
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/start":
		c.cmdStart(ctx, chatID, user)
	case "/help":
		c.sendHTML(ctx, chatID, helpText)
	case "/about":
		c.sendHTML(ctx, chatID, aboutText)
	case "/skip":
		c.cmdSkip(ctx, chatID)
	case "/clear":
		c.cmdClear(ctx, chatID, user)
	case "/regenerate":
		c.cmdRegenerate(ctx, chatID, user)
	case "/settings":
		c.cmdSettings(ctx, chatID, user)
	case "/memory":
		c.cmdMemory(ctx, chatID, user)
	case "/persona":
		c.cmdPersona(ctx, chatID)
	case "/scene":
		c.cmdScene(ctx, chatID)
	case "/genscene":
		c.cmdGenScene(ctx, chatID)
	case "/genpersona":
		c.cmdGenPersona(ctx, chatID)
	default:
		c.sendPlain(ctx, chatID, "I don't know that command. Try /help.")
	}
}

func (c *TelegramChannel) cmdStart(ctx context.Context, chatID int64, user *telego.User) {
	st, _ := c.sessions.Get(chatID)
	if st.DisplayName != "" {
		c.sendPlain(ctx, chatID, fmt.Sprintf(
			"Welcome back, %s! Just send me a message to continue, or /help for commands.", st.DisplayName))
		return
	}
	c.sessions.Update(chatID, func(st *session.ChatState) {
		st.AwaitingName = true
		st.AwaitingBio = false
	})
	c.sendPlain(ctx, chatID,
		"Welcome to FableBot! I'm a role-play companion running on your own machine.\n\nFirst things first: what should I call you?")
}

func (c *TelegramChannel) cmdSkip(ctx context.Context, chatID int64) {
	st, _ := c.sessions.Get(chatID)
	if !st.AwaitingBio && !st.AwaitingName {
		c.sendPlain(ctx, chatID, "Nothing to skip right now.")
		return
	}
	c.sessions.Update(chatID, func(st *session.ChatState) {
		st.AwaitingName = false
		st.AwaitingBio = false
	})
	c.sendPlain(ctx, chatID,
		"All set! Just send me a message to start the story, or /help for commands.")
}

func (c *TelegramChannel) cmdClear(ctx context.Context, chatID int64, user *telego.User) {
	if err := c.store.ClearConversation(chatID); err != nil {
		logger.ErrorCF("telegram", "Failed to clear conversation", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
		c.sendPlain(ctx, chatID, "Something went wrong clearing the story. Please try again.")
		return
	}
	c.sessions.Reset(chatID)
	c.userLog.Interaction(user.ID, c.displayName(chatID), "Cleared conversation")
	c.sendPlain(ctx, chatID,
		"The story and its memories are gone. Your name and profile are kept. A fresh page awaits.")
}

// cmdRegenerate drops the last exchange and replays the user's side of it.
func (c *TelegramChannel) cmdRegenerate(ctx context.Context, chatID int64, user *telego.User) {
	recent, _, err := c.store.History(chatID, 2)
	if err != nil {
		logger.ErrorCF("telegram", "History read failed for regenerate", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
		c.sendPlain(ctx, chatID, "Something went wrong. Please try again.")
		return
	}

	lastUserText := ""
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Role == backend.RoleUser {
			lastUserText = recent[i].Content
			break
		}
	}
	if lastUserText == "" {
		c.sendPlain(ctx, chatID, "There's nothing to regenerate yet.")
		return
	}

	if err := c.store.DeleteLastTurn(chatID); err != nil {
		logger.ErrorCF("telegram", "Failed to delete last turn", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
		c.sendPlain(ctx, chatID, "Something went wrong. Please try again.")
		return
	}

	c.userLog.Interaction(user.ID, c.displayName(chatID), "Regenerated last response")
	c.enqueueChat(ctx, chatID, user, lastUserText)
}

func (c *TelegramChannel) cmdSettings(ctx context.Context, chatID int64, user *telego.User) {
	conv := c.snapshot(chatID, user, 0)
	memory := "off"
	if conv.MemoryEnabled {
		memory = "on"
	}
	profile := conv.Profile
	if profile == "" {
		profile = "not specified"
	}
	c.sendHTML(ctx, chatID, fmt.Sprintf(
		"<b>Current setup</b>\n\n<b>Name:</b> %s\n<b>About you:</b> %s\n<b>Persona:</b> %s\n<b>Scene:</b> %s\n<b>Long-term memory:</b> %s",
		escapeHTML(conv.DisplayName), escapeHTML(profile),
		escapeHTML(conv.PersonaName), escapeHTML(conv.SceneryName), memory))
}

func (c *TelegramChannel) cmdMemory(ctx context.Context, chatID int64, user *telego.User) {
	st, _ := c.sessions.Get(chatID)
	current := c.cfg.Memory.DefaultEnabled
	if st.MemorySet {
		current = st.MemoryEnabled
	}
	c.sessions.Update(chatID, func(st *session.ChatState) {
		st.MemorySet = true
		st.MemoryEnabled = !current
	})
	c.userLog.Interaction(user.ID, c.displayName(chatID), fmt.Sprintf("Toggled memory to %t", !current))
	if current {
		c.sendPlain(ctx, chatID, "Long-term memory is now OFF. I'll forget everything beyond the recent conversation.")
	} else {
		c.sendPlain(ctx, chatID, "Long-term memory is now ON. Important events will be remembered between sessions.")
	}
}

func (c *TelegramChannel) cmdPersona(ctx context.Context, chatID int64) {
	var rows [][]telego.InlineKeyboardButton
	for _, p := range config.Personas {
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(p.Name).WithCallbackData("persona:"+p.Name)))
	}
	st, _ := c.sessions.Get(chatID)
	for name := range st.CustomPersona {
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("★ "+name).WithCallbackData("custom_persona:"+name)))
	}

	msg := tu.Message(tu.ID(chatID), "Who would you like to talk to?")
	msg.ReplyMarkup = tu.InlineKeyboard(rows...)
	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		logger.ErrorCF("telegram", "Failed to send persona menu", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
}

func (c *TelegramChannel) cmdScene(ctx context.Context, chatID int64) {
	var rows [][]telego.InlineKeyboardButton
	for _, s := range config.Sceneries {
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(s.Name).WithCallbackData("scene:"+s.Name)))
	}

	msg := tu.Message(tu.ID(chatID), "Where should the story take place?")
	msg.ReplyMarkup = tu.InlineKeyboard(rows...)
	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		logger.ErrorCF("telegram", "Failed to send scene menu", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
}

func (c *TelegramChannel) cmdGenScene(ctx context.Context, chatID int64) {
	var rows [][]telego.InlineKeyboardButton
	for _, genre := range agent.SceneGenres {
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(genre).WithCallbackData("genscene:"+genre)))
	}

	msg := tu.Message(tu.ID(chatID), "Pick a genre and I'll imagine a scene for you:")
	msg.ReplyMarkup = tu.InlineKeyboard(rows...)
	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		logger.ErrorCF("telegram", "Failed to send scene generator menu", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
}

func (c *TelegramChannel) cmdGenPersona(ctx context.Context, chatID int64) {
	var rows [][]telego.InlineKeyboardButton
	for _, archetype := range agent.PersonaArchetypes {
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(archetype).WithCallbackData("genpersona:"+archetype)))
	}

	msg := tu.Message(tu.ID(chatID), "Pick an archetype and I'll invent a character:")
	msg.ReplyMarkup = tu.InlineKeyboard(rows...)
	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		logger.ErrorCF("telegram", "Failed to send persona generator menu", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
}

func (c *TelegramChannel) displayName(chatID int64) string {
	st, _ := c.sessions.Get(chatID)
	if st.DisplayName != "" {
		return st.DisplayName
	}
	return "user"
}
