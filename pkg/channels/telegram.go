package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/quiltfox/fablebot/pkg/backend"
	"github.com/quiltfox/fablebot/pkg/config"
	"github.com/quiltfox/fablebot/pkg/logger"
	"github.com/quiltfox/fablebot/pkg/queue"
	"github.com/quiltfox/fablebot/pkg/session"
	"github.com/quiltfox/fablebot/pkg/store"
)

// TelegramChannel is the bot's only frontend. It turns incoming updates into
// queued jobs and implements the delivery side the dispatcher replies through.
type TelegramChannel struct {
	*BaseChannel
	bot      *telego.Bot
	cfg      *config.Config
	queue    *queue.Queue
	backend  *backend.Client
	sessions *session.Manager
	store    *store.Store
	userLog  *logger.UserLog
}

func NewTelegramChannel(
	cfg *config.Config,
	q *queue.Queue,
	bk *backend.Client,
	sessions *session.Manager,
	st *store.Store,
	userLog *logger.UserLog,
) (*TelegramChannel, error) {
	bot, err := telego.NewBot(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", cfg.Telegram.AllowFrom),
		bot:         bot,
		cfg:         cfg,
		queue:       q,
		backend:     bk,
		sessions:    sessions,
		store:       st,
		userLog:     userLog,
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot (polling mode)...")

	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	c.setRunning(true)
	logger.InfoCF("telegram", "Telegram bot connected", map[string]interface{}{
		"username": c.bot.Username(),
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					logger.InfoC("telegram", "Updates channel closed")
					return
				}
				switch {
				case update.Message != nil:
					c.handleMessage(ctx, update.Message)
				case update.CallbackQuery != nil:
					c.handleCallback(ctx, update.CallbackQuery)
				}
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	logger.InfoC("telegram", "Stopping Telegram bot...")
	c.setRunning(false)
	return nil
}

func (c *TelegramChannel) handleMessage(ctx context.Context, message *telego.Message) {
	user := message.From
	if user == nil || message.Text == "" {
		return
	}
	if message.Chat.Type != telego.ChatTypePrivate {
		return
	}

	userID := fmt.Sprintf("%d", user.ID)
	senderID := userID
	if user.Username != "" {
		senderID = fmt.Sprintf("%s|%s", userID, user.Username)
	}
	if !c.IsAllowed(userID) && !c.IsAllowed(senderID) {
		logger.DebugCF("telegram", "Message rejected by allowlist", map[string]interface{}{
			"user_id":  userID,
			"username": user.Username,
		})
		return
	}

	chatID := message.Chat.ID
	text := strings.TrimSpace(message.Text)

	logger.DebugCF("telegram", "Received message", map[string]interface{}{
		"sender_id": senderID,
		"chat_id":   chatID,
		"preview":   clip(text, 50),
	})

	if strings.HasPrefix(text, "/") {
		c.handleCommand(ctx, message, text)
		return
	}

	st, _ := c.sessions.Get(chatID)
	switch {
	case st.AwaitingName:
		c.finishNameStep(ctx, chatID, user, text)
	case st.AwaitingBio:
		c.finishBioStep(ctx, chatID, user, text)
	default:
		c.enqueueChat(ctx, chatID, user, text)
	}
}

func (c *TelegramChannel) finishNameStep(ctx context.Context, chatID int64, user *telego.User, name string) {
	c.sessions.Update(chatID, func(st *session.ChatState) {
		st.DisplayName = name
		st.AwaitingName = false
		st.AwaitingBio = true
	})
	c.userLog.Interaction(user.ID, name, "Set display name")
	c.sendPlain(ctx, chatID, fmt.Sprintf(
		"Nice to meet you, %s! Now tell me a little about yourself so the story can use it, or send /skip.", name))
}

func (c *TelegramChannel) finishBioStep(ctx context.Context, chatID int64, user *telego.User, bio string) {
	var name string
	c.sessions.Update(chatID, func(st *session.ChatState) {
		st.Profile = bio
		st.AwaitingBio = false
		name = st.DisplayName
	})
	c.userLog.Interaction(user.ID, name, "Set profile")
	c.sendPlain(ctx, chatID,
		"All set! Just send me a message to start the story. Use /persona and /scene to shape it, or /help for everything else.")
}

// enqueueChat is the producer path for a conversational turn: probe the
// backend, post a placeholder, snapshot the conversation and enqueue.
func (c *TelegramChannel) enqueueChat(ctx context.Context, chatID int64, user *telego.User, text string) {
	if !c.backend.IsReachable(ctx) {
		c.sendPlain(ctx, chatID,
			"The AI backend is unreachable. Please make sure the local inference server is running, then try again.")
		return
	}

	placeholder := "🤔"
	if depth := c.queue.Size(); depth > 0 {
		placeholder = fmt.Sprintf("🕐 You're #%d in the queue. I'll reply as soon as it's your turn.", depth+1)
	}
	placeholderID := 0
	if sent, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), placeholder)); err == nil {
		placeholderID = sent.MessageID
	} else {
		logger.WarnCF("telegram", "Failed to post placeholder", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}

	conv := c.snapshot(chatID, user, placeholderID)
	job := queue.NewJob(queue.KindChat, chatID, user.ID, conv)
	job.UserText = text
	c.queue.Enqueue(job)

	c.userLog.Interaction(user.ID, conv.DisplayName, fmt.Sprintf("User message: %q", clip(text, 200)))
}

// snapshot captures the conversation setup as plain values, filling catalog
// defaults for anything the user never chose.
func (c *TelegramChannel) snapshot(chatID int64, user *telego.User, placeholderID int) queue.ConvSnapshot {
	st, _ := c.sessions.Get(chatID)

	name := st.DisplayName
	if name == "" && user != nil {
		name = user.FirstName
	}
	if name == "" {
		name = "user"
	}

	personaName, personaPrompt := st.PersonaName, st.PersonaPrompt
	if personaPrompt == "" {
		if p, ok := config.PersonaByName(config.DefaultPersonaName); ok {
			personaName, personaPrompt = p.Name, p.Prompt
		}
	}

	sceneryName, scenery := st.SceneryName, st.Scenery
	if scenery == "" {
		if s, ok := config.SceneryByName(config.DefaultSceneryName); ok {
			sceneryName, scenery = s.Name, s.Description
		}
	}

	memoryEnabled := c.cfg.Memory.DefaultEnabled
	if st.MemorySet {
		memoryEnabled = st.MemoryEnabled
	}

	return queue.ConvSnapshot{
		DisplayName:   name,
		Profile:       st.Profile,
		PersonaName:   personaName,
		PersonaPrompt: personaPrompt,
		SceneryName:   sceneryName,
		Scenery:       scenery,
		MemoryEnabled: memoryEnabled,
		PlaceholderID: placeholderID,
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
