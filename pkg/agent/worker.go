package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/quiltfox/fablebot/pkg/backend"
	"github.com/quiltfox/fablebot/pkg/logger"
	"github.com/quiltfox/fablebot/pkg/queue"
	"github.com/quiltfox/fablebot/pkg/session"
)

// Completer is the inference backend as seen by job handlers.
type Completer interface {
	Complete(ctx context.Context, messages []backend.Message, stop []string) backend.Completion
}

// Store is the persistence collaborator. Read failures degrade to empty data;
// handlers never abort a job because of persistence.
type Store interface {
	AppendMessage(chatID int64, role, content string) error
	History(chatID int64, limit int) ([]backend.Message, int, error)
	Summary(chatID int64) (string, bool, error)
	SetSummary(chatID int64, summary string) error
}

// Delivery sends results back to the originating conversation.
type Delivery interface {
	// Deliver replaces the placeholder (when placeholderID is non-zero) or
	// posts new messages, splitting oversized text.
	Deliver(ctx context.Context, chatID int64, text string, placeholderID int) error
	// Notify posts a standalone message with no placeholder involved.
	Notify(ctx context.Context, chatID int64, text string) error
	// OfferScene and OfferPersona present generated content together with
	// the platform's confirmation controls.
	OfferScene(ctx context.Context, chatID int64, scene string) error
	OfferPersona(ctx context.Context, chatID int64, name, prompt string) error
	// Typing shows the platform's typing indicator, best effort.
	Typing(ctx context.Context, chatID int64)
}

// Worker is the single consumer of the job queue. Exactly one Worker runs per
// process; because the backend is only ever called from inside a running
// handler, this is what guarantees at most one in-flight inference request.
type Worker struct {
	queue            *queue.Queue
	backend          Completer
	store            Store
	delivery         Delivery
	sessions         *session.Manager
	userLog          *logger.UserLog
	historyWindow    int
	consolidateEvery int
	running          atomic.Bool
}

type WorkerOptions struct {
	Queue            *queue.Queue
	Backend          Completer
	Store            Store
	Delivery         Delivery
	Sessions         *session.Manager
	UserLog          *logger.UserLog
	HistoryWindow    int
	ConsolidateEvery int
}

func NewWorker(opts WorkerOptions) *Worker {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 10
	}
	if opts.ConsolidateEvery <= 0 {
		opts.ConsolidateEvery = 15
	}
	return &Worker{
		queue:            opts.Queue,
		backend:          opts.Backend,
		store:            opts.Store,
		delivery:         opts.Delivery,
		sessions:         opts.Sessions,
		userLog:          opts.UserLog,
		historyWindow:    opts.HistoryWindow,
		consolidateEvery: opts.ConsolidateEvery,
	}
}

// Run consumes jobs until ctx is cancelled. Cancellation stops further
// dequeues; the job already in flight always runs to completion, which is why
// handlers receive a fresh context bounded only by the backend's own timeout.
func (w *Worker) Run(ctx context.Context) error {
	w.running.Store(true)
	defer w.running.Store(false)
	logger.InfoC("dispatcher", "Job dispatcher started and listening for jobs")

	for {
		job, ok := w.queue.Dequeue(ctx)
		if !ok {
			logger.InfoC("dispatcher", "Job dispatcher stopping")
			return nil
		}
		w.dispatch(context.Background(), job)
	}
}

func (w *Worker) Running() bool {
	return w.running.Load()
}

// dispatch routes one job to its handler. A panicking handler is contained
// here so a single bad job can never stop the loop.
func (w *Worker) dispatch(ctx context.Context, job *queue.Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("dispatcher", "Job handler panicked", map[string]interface{}{
				"job_id":  job.ID,
				"kind":    job.Kind.String(),
				"chat_id": job.ChatID,
				"panic":   r,
			})
		}
	}()

	started := time.Now()
	logger.DebugCF("dispatcher", "Job started", map[string]interface{}{
		"job_id":  job.ID,
		"kind":    job.Kind.String(),
		"chat_id": job.ChatID,
		"waited":  time.Since(job.EnqueuedAt).String(),
	})

	switch job.Kind {
	case queue.KindChat:
		w.handleChat(ctx, job)
	case queue.KindGenerateScene:
		w.handleSceneGeneration(ctx, job)
	case queue.KindGeneratePersona:
		w.handlePersonaGeneration(ctx, job)
	case queue.KindConsolidateMemory:
		w.handleConsolidation(ctx, job)
	default:
		logger.WarnCF("dispatcher", "Unknown job kind dropped", map[string]interface{}{
			"job_id": job.ID,
			"kind":   int(job.Kind),
		})
	}

	logger.DebugCF("dispatcher", "Job finished", map[string]interface{}{
		"job_id":   job.ID,
		"kind":     job.Kind.String(),
		"duration": time.Since(started).String(),
	})
}
