package queue

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the job variants the dispatcher knows how to run.
type Kind int

const (
	KindChat Kind = iota
	KindGenerateScene
	KindGeneratePersona
	KindConsolidateMemory
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindGenerateScene:
		return "generate_scene"
	case KindGeneratePersona:
		return "generate_persona"
	case KindConsolidateMemory:
		return "consolidate_memory"
	default:
		return "unknown"
	}
}

// ConvSnapshot carries everything a handler needs to act and reply, captured
// at enqueue time. It is a plain value snapshot: no live platform objects
// ever travel through the queue.
type ConvSnapshot struct {
	DisplayName   string
	Profile       string
	PersonaName   string
	PersonaPrompt string
	SceneryName   string
	Scenery       string
	MemoryEnabled bool
	// PlaceholderID is the message the channel posted while the job waits;
	// zero means no placeholder exists.
	PlaceholderID int
}

// Job is one unit of work for the dispatcher. Variant fields beyond the
// common ones: UserText is set for KindChat, Prompt for the two generation
// kinds, and KindConsolidateMemory carries nothing extra because it recomputes
// from persisted history. Jobs are immutable after creation and consumed
// exactly once.
type Job struct {
	ID         string
	Kind       Kind
	ChatID     int64
	UserID     int64
	Conv       ConvSnapshot
	UserText   string
	Prompt     string
	EnqueuedAt time.Time
}

func NewJob(kind Kind, chatID, userID int64, conv ConvSnapshot) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		ChatID:     chatID,
		UserID:     userID,
		Conv:       conv,
		EnqueuedAt: time.Now(),
	}
}
