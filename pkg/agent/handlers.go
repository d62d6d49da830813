package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/quiltfox/fablebot/pkg/backend"
	"github.com/quiltfox/fablebot/pkg/logger"
	"github.com/quiltfox/fablebot/pkg/queue"
	"github.com/quiltfox/fablebot/pkg/session"
)

// handleChat serves one conversational turn: assemble context, call the
// backend, deliver whatever came back, and only persist the turn when the
// completion was genuine.
func (w *Worker) handleChat(ctx context.Context, job *queue.Job) {
	w.delivery.Typing(ctx, job.ChatID)

	history, total, err := w.store.History(job.ChatID, w.historyWindow)
	if err != nil {
		logger.ErrorCF("dispatcher", "History read failed, continuing with empty context", map[string]interface{}{
			"job_id":  job.ID,
			"chat_id": job.ChatID,
			"error":   err.Error(),
		})
		history, total = nil, 0
	}

	messages := make([]backend.Message, 0, len(history)+2)
	if job.Conv.MemoryEnabled {
		if summary, ok, err := w.store.Summary(job.ChatID); err != nil {
			logger.WarnCF("dispatcher", "Memory read failed, continuing without it", map[string]interface{}{
				"chat_id": job.ChatID,
				"error":   err.Error(),
			})
		} else if ok && summary != "" {
			messages = append(messages, backend.Message{
				Role:    backend.RoleSystem,
				Content: "(Memory of past events: " + summary + ")",
			})
		}
	}
	messages = append(messages, history...)

	userText := job.UserText
	if len(history) == 0 {
		// First turn of a conversation carries the full role-play framing.
		userText = OpeningPrompt(job.Conv) + "\n\n" + job.UserText
	}
	messages = append(messages, backend.Message{Role: backend.RoleUser, Content: userText})

	completion := w.backend.Complete(ctx, messages, StopSequences(job.Conv.DisplayName))

	if err := w.delivery.Deliver(ctx, job.ChatID, completion.Text, job.Conv.PlaceholderID); err != nil {
		logger.ErrorCF("dispatcher", "Result delivery failed", map[string]interface{}{
			"job_id":  job.ID,
			"chat_id": job.ChatID,
			"error":   err.Error(),
		})
	}

	if !completion.OK() {
		logger.WarnCF("dispatcher", "Chat turn not persisted after backend fault", map[string]interface{}{
			"job_id": job.ID,
			"fault":  completion.Fault.String(),
		})
		return
	}

	if w.userLog != nil {
		w.userLog.Interaction(job.UserID, job.Conv.DisplayName,
			fmt.Sprintf("Bot response: %q", clip(completion.Text, 200)))
	}

	if err := w.store.AppendMessage(job.ChatID, backend.RoleUser, job.UserText); err != nil {
		logger.ErrorCF("dispatcher", "Failed to persist user message", map[string]interface{}{
			"chat_id": job.ChatID,
			"error":   err.Error(),
		})
	}
	if err := w.store.AppendMessage(job.ChatID, backend.RoleAssistant, completion.Text); err != nil {
		logger.ErrorCF("dispatcher", "Failed to persist assistant message", map[string]interface{}{
			"chat_id": job.ChatID,
			"error":   err.Error(),
		})
	}

	// total counts rows before this turn; the two writes above bring it to
	// total+2. Consolidate at that boundary, but never on a brand new chat.
	if job.Conv.MemoryEnabled && total > 0 && (total+2)%w.consolidateEvery == 0 {
		w.queue.Enqueue(queue.NewJob(queue.KindConsolidateMemory, job.ChatID, job.UserID, job.Conv))
		logger.InfoCF("dispatcher", "Memory consolidation queued", map[string]interface{}{
			"chat_id":  job.ChatID,
			"messages": total + 2,
		})
	}
}

// handleSceneGeneration asks the backend for an opening scene and offers it
// to the user for confirmation. The scene is staged in the session and only
// becomes active once the user accepts it.
func (w *Worker) handleSceneGeneration(ctx context.Context, job *queue.Job) {
	w.delivery.Typing(ctx, job.ChatID)

	completion := w.backend.Complete(ctx,
		[]backend.Message{{Role: backend.RoleUser, Content: job.Prompt}},
		StopSequences(job.Conv.DisplayName))
	if !completion.OK() || strings.TrimSpace(completion.Text) == "" {
		logger.WarnCF("dispatcher", "Scene generation failed", map[string]interface{}{
			"job_id": job.ID,
			"fault":  completion.Fault.String(),
		})
		w.notify(ctx, job.ChatID, "Sorry, I couldn't generate a scene right now. Please try again.")
		return
	}

	scene := strings.TrimSpace(completion.Text)
	w.sessions.Update(job.ChatID, func(st *session.ChatState) {
		st.PendingScene = scene
	})
	if err := w.delivery.OfferScene(ctx, job.ChatID, scene); err != nil {
		logger.ErrorCF("dispatcher", "Failed to offer generated scene", map[string]interface{}{
			"chat_id": job.ChatID,
			"error":   err.Error(),
		})
	}
	if w.userLog != nil {
		w.userLog.Interaction(job.UserID, job.Conv.DisplayName, "Generated a scene")
	}
}

// handlePersonaGeneration asks the backend for a persona in the NAME/PROMPT
// delimiter format. A completion that does not parse is reported to the user
// as a format problem, distinct from a backend fault.
func (w *Worker) handlePersonaGeneration(ctx context.Context, job *queue.Job) {
	w.delivery.Typing(ctx, job.ChatID)

	completion := w.backend.Complete(ctx,
		[]backend.Message{{Role: backend.RoleUser, Content: job.Prompt}},
		StopSequences(job.Conv.DisplayName))
	if !completion.OK() {
		logger.WarnCF("dispatcher", "Persona generation failed", map[string]interface{}{
			"job_id": job.ID,
			"fault":  completion.Fault.String(),
		})
		w.notify(ctx, job.ChatID, completion.Text)
		return
	}

	persona, err := ParseGeneratedPersona(completion.Text)
	if err != nil {
		logger.WarnCF("dispatcher", "Generated persona did not parse", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		w.notify(ctx, job.ChatID, "Sorry, the AI returned a persona in an invalid format. Please try again.")
		return
	}

	w.sessions.Update(job.ChatID, func(st *session.ChatState) {
		st.PendingPersona = &persona
	})
	if err := w.delivery.OfferPersona(ctx, job.ChatID, persona.Name, persona.Prompt); err != nil {
		logger.ErrorCF("dispatcher", "Failed to offer generated persona", map[string]interface{}{
			"chat_id": job.ChatID,
			"error":   err.Error(),
		})
	}
	if w.userLog != nil {
		w.userLog.Interaction(job.UserID, job.Conv.DisplayName, "Generated persona: "+persona.Name)
	}
}

// handleConsolidation summarizes the full conversation and folds the result
// into the chat's long-term memory. Failures are logged and dropped; there is
// no retry, the next interval boundary will try again.
func (w *Worker) handleConsolidation(ctx context.Context, job *queue.Job) {
	full, _, err := w.store.History(job.ChatID, 0)
	if err != nil {
		logger.ErrorCF("dispatcher", "Consolidation aborted, history unreadable", map[string]interface{}{
			"chat_id": job.ChatID,
			"error":   err.Error(),
		})
		return
	}
	if len(full) == 0 {
		return
	}

	messages := append(full, backend.Message{Role: backend.RoleUser, Content: ConsolidationInstruction})
	completion := w.backend.Complete(ctx, messages, StopSequences(job.Conv.DisplayName))
	if !completion.OK() || strings.TrimSpace(completion.Text) == "" {
		logger.WarnCF("dispatcher", "Consolidation dropped after backend fault", map[string]interface{}{
			"chat_id": job.ChatID,
			"fault":   completion.Fault.String(),
		})
		return
	}

	summary := strings.TrimSpace(completion.Text)
	if old, ok, err := w.store.Summary(job.ChatID); err == nil && ok && old != "" {
		summary = old + "\n\n" + summary
	}
	if err := w.store.SetSummary(job.ChatID, summary); err != nil {
		logger.ErrorCF("dispatcher", "Failed to store consolidated memory", map[string]interface{}{
			"chat_id": job.ChatID,
			"error":   err.Error(),
		})
		return
	}

	logger.InfoCF("dispatcher", "Memory consolidated", map[string]interface{}{
		"chat_id": job.ChatID,
	})
	w.notify(ctx, job.ChatID, "<i>(A new memory has been formed.)</i>")
}

func (w *Worker) notify(ctx context.Context, chatID int64, text string) {
	if err := w.delivery.Notify(ctx, chatID, text); err != nil {
		logger.ErrorCF("dispatcher", "Notification failed", map[string]interface{}{
			"chat_id": chatID,
			"error":   err.Error(),
		})
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
