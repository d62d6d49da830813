package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/quiltfox/fablebot/pkg/agent"
	"github.com/quiltfox/fablebot/pkg/config"
	"github.com/quiltfox/fablebot/pkg/logger"
	"github.com/quiltfox/fablebot/pkg/queue"
	"github.com/quiltfox/fablebot/pkg/session"
)

func (c *TelegramChannel) handleCallback(ctx context.Context, query *telego.CallbackQuery) {
	if err := c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: query.ID,
	}); err != nil {
		logger.DebugCF("telegram", "Failed to answer callback query", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if query.Message == nil {
		return
	}

	chatID := query.Message.GetChat().ID
	messageID := query.Message.GetMessageID()
	action, value, _ := strings.Cut(query.Data, ":")

	switch action {
	case "persona":
		c.setCatalogPersona(ctx, chatID, messageID, value)
	case "custom_persona":
		c.setCustomPersona(ctx, chatID, messageID, value)
	case "scene":
		c.setCatalogScene(ctx, chatID, messageID, value)
	case "genscene":
		c.queueSceneGeneration(ctx, chatID, messageID, query.From, value)
	case "genpersona":
		c.queuePersonaGeneration(ctx, chatID, messageID, query.From, value)
	case "scene_use":
		c.adoptGeneratedScene(ctx, chatID, messageID)
	case "scene_discard":
		c.sessions.Update(chatID, func(st *session.ChatState) { st.PendingScene = "" })
		c.editPlain(ctx, chatID, messageID, "Scene discarded.")
	case "persona_use":
		c.adoptGeneratedPersona(ctx, chatID, messageID)
	case "persona_discard":
		c.sessions.Update(chatID, func(st *session.ChatState) { st.PendingPersona = nil })
		c.editPlain(ctx, chatID, messageID, "Persona discarded.")
	default:
		logger.WarnCF("telegram", "Unknown callback action", map[string]interface{}{
			"data": query.Data,
		})
	}
}

func (c *TelegramChannel) setCatalogPersona(ctx context.Context, chatID int64, messageID int, name string) {
	p, ok := config.PersonaByName(name)
	if !ok {
		c.editPlain(ctx, chatID, messageID, "That persona no longer exists.")
		return
	}
	c.sessions.Update(chatID, func(st *session.ChatState) {
		st.PersonaName = p.Name
		st.PersonaPrompt = p.Prompt
	})
	c.editHTML(ctx, chatID, messageID, fmt.Sprintf(
		"You're now talking to <b>%s</b>. The change takes effect on your next message.", escapeHTML(p.Name)))
}

func (c *TelegramChannel) setCustomPersona(ctx context.Context, chatID int64, messageID int, name string) {
	st, _ := c.sessions.Get(chatID)
	p, ok := st.CustomPersona[name]
	if !ok {
		c.editPlain(ctx, chatID, messageID, "That persona no longer exists.")
		return
	}
	c.sessions.Update(chatID, func(st *session.ChatState) {
		st.PersonaName = p.Name
		st.PersonaPrompt = p.Prompt
	})
	c.editHTML(ctx, chatID, messageID, fmt.Sprintf(
		"You're now talking to <b>%s</b>. The change takes effect on your next message.", escapeHTML(p.Name)))
}

func (c *TelegramChannel) setCatalogScene(ctx context.Context, chatID int64, messageID int, name string) {
	s, ok := config.SceneryByName(name)
	if !ok {
		c.editPlain(ctx, chatID, messageID, "That scene no longer exists.")
		return
	}
	c.sessions.Update(chatID, func(st *session.ChatState) {
		st.SceneryName = s.Name
		st.Scenery = s.Description
	})
	c.editHTML(ctx, chatID, messageID, fmt.Sprintf(
		"The scene is now <b>%s</b>.", escapeHTML(s.Name)))
}

func (c *TelegramChannel) queueSceneGeneration(ctx context.Context, chatID int64, messageID int, from telego.User, genre string) {
	if !c.backend.IsReachable(ctx) {
		c.editPlain(ctx, chatID, messageID,
			"The AI backend is unreachable. Please make sure the local inference server is running, then try again.")
		return
	}

	c.editPlain(ctx, chatID, messageID, fmt.Sprintf(
		"Your request for a %s scene is in the queue. I'll send it when it's ready.", genre))

	conv := c.snapshot(chatID, &from, 0)
	job := queue.NewJob(queue.KindGenerateScene, chatID, from.ID, conv)
	job.Prompt = agent.ScenePrompt(genre)
	c.queue.Enqueue(job)
	c.userLog.Interaction(from.ID, conv.DisplayName, "Requested a "+genre+" scene")
}

func (c *TelegramChannel) queuePersonaGeneration(ctx context.Context, chatID int64, messageID int, from telego.User, archetype string) {
	if !c.backend.IsReachable(ctx) {
		c.editPlain(ctx, chatID, messageID,
			"The AI backend is unreachable. Please make sure the local inference server is running, then try again.")
		return
	}

	c.editPlain(ctx, chatID, messageID, fmt.Sprintf(
		"Your request for a %s persona is in the queue. I'll send it when it's ready.", archetype))

	conv := c.snapshot(chatID, &from, 0)
	job := queue.NewJob(queue.KindGeneratePersona, chatID, from.ID, conv)
	job.Prompt = agent.PersonaPrompt(archetype)
	c.queue.Enqueue(job)
	c.userLog.Interaction(from.ID, conv.DisplayName, "Requested a "+archetype+" persona")
}

func (c *TelegramChannel) adoptGeneratedScene(ctx context.Context, chatID int64, messageID int) {
	st, _ := c.sessions.Get(chatID)
	if st.PendingScene == "" {
		c.editPlain(ctx, chatID, messageID, "That scene has expired. Use /genscene to create a new one.")
		return
	}
	c.sessions.Update(chatID, func(st *session.ChatState) {
		st.SceneryName = "Generated Scene"
		st.Scenery = st.PendingScene
		st.PendingScene = ""
	})
	c.editPlain(ctx, chatID, messageID, "The generated scene is now the backdrop of your story.")
}

func (c *TelegramChannel) adoptGeneratedPersona(ctx context.Context, chatID int64, messageID int) {
	st, _ := c.sessions.Get(chatID)
	if st.PendingPersona == nil {
		c.editPlain(ctx, chatID, messageID, "That persona has expired. Use /genpersona to create a new one.")
		return
	}
	persona := *st.PendingPersona
	c.sessions.Update(chatID, func(st *session.ChatState) {
		if st.CustomPersona == nil {
			st.CustomPersona = make(map[string]session.GeneratedPersona)
		}
		st.CustomPersona[persona.Name] = persona
		st.PersonaName = persona.Name
		st.PersonaPrompt = persona.Prompt
		st.PendingPersona = nil
	})
	c.editHTML(ctx, chatID, messageID, fmt.Sprintf(
		"You're now talking to <b>%s</b>. They're saved under /persona for later.", escapeHTML(persona.Name)))
}

func (c *TelegramChannel) editPlain(ctx context.Context, chatID int64, messageID int, text string) {
	if _, err := c.bot.EditMessageText(ctx, tu.EditMessageText(tu.ID(chatID), messageID, text)); err != nil {
		logger.DebugCF("telegram", "Failed to edit menu message", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
}

func (c *TelegramChannel) editHTML(ctx context.Context, chatID int64, messageID int, html string) {
	edit := tu.EditMessageText(tu.ID(chatID), messageID, html)
	edit.ParseMode = telego.ModeHTML
	if _, err := c.bot.EditMessageText(ctx, edit); err != nil {
		c.editPlain(ctx, chatID, messageID, stripTags(html))
	}
}
