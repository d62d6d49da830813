package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/quiltfox/fablebot/pkg/logger"
)

// GeneratedPersona is a persona produced by the model, parked until the user
// confirms it.
type GeneratedPersona struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// ChatState is the per-conversation setup outside the persisted transcript:
// who the user is, which persona and scenery are active, and any generated
// content awaiting confirmation.
type ChatState struct {
	DisplayName   string                      `json:"display_name,omitempty"`
	Profile       string                      `json:"profile,omitempty"`
	PersonaName   string                      `json:"persona_name,omitempty"`
	PersonaPrompt string                      `json:"persona_prompt,omitempty"`
	SceneryName   string                      `json:"scenery_name,omitempty"`
	Scenery       string                      `json:"scenery,omitempty"`
	MemorySet     bool                        `json:"memory_set,omitempty"`
	MemoryEnabled bool                        `json:"memory_enabled,omitempty"`
	AwaitingName  bool                        `json:"awaiting_name,omitempty"`
	AwaitingBio   bool                        `json:"awaiting_bio,omitempty"`
	CustomPersona map[string]GeneratedPersona `json:"custom_personas,omitempty"`

	// Pending generated content is deliberately not persisted; it only
	// matters between a generation job and the very next confirmation tap.
	PendingScene   string            `json:"-"`
	PendingPersona *GeneratedPersona `json:"-"`
}

// Manager owns all chat states and saves them to one JSON file so setup
// survives restarts.
type Manager struct {
	mu     sync.Mutex
	path   string
	states map[int64]*ChatState
}

func NewManager(path string) *Manager {
	m := &Manager{
		path:   path,
		states: make(map[int64]*ChatState),
	}
	m.load()
	return m
}

func (m *Manager) load() {
	if m.path == "" {
		return
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WarnCF("session", "Failed to read state file", map[string]interface{}{
				"path": m.path, "error": err.Error(),
			})
		}
		return
	}
	if err := json.Unmarshal(data, &m.states); err != nil {
		logger.WarnCF("session", "Failed to parse state file, starting fresh", map[string]interface{}{
			"path": m.path, "error": err.Error(),
		})
		m.states = make(map[int64]*ChatState)
	}
}

func (m *Manager) saveLocked() {
	if m.path == "" {
		return
	}
	data, err := json.MarshalIndent(m.states, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		logger.WarnCF("session", "Failed to create state dir", map[string]interface{}{
			"path": m.path, "error": err.Error(),
		})
		return
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logger.WarnCF("session", "Failed to write state file", map[string]interface{}{
			"path": tmp, "error": err.Error(),
		})
		return
	}
	if err := os.Rename(tmp, m.path); err != nil {
		logger.WarnCF("session", "Failed to replace state file", map[string]interface{}{
			"path": m.path, "error": err.Error(),
		})
	}
}

// Get returns a copy of the state for chatID; ok is false when the chat has
// never been set up.
func (m *Manager) Get(chatID int64) (ChatState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[chatID]
	if !ok {
		return ChatState{}, false
	}
	return *st, true
}

// Update applies fn to the state for chatID, creating it if needed, and
// persists the result.
func (m *Manager) Update(chatID int64, fn func(*ChatState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[chatID]
	if !ok {
		st = &ChatState{}
		m.states[chatID] = st
	}
	fn(st)
	m.saveLocked()
}

// Reset drops the chat-scoped setup (persona, scenery, pending content) but
// keeps the user's identity and memory preference.
func (m *Manager) Reset(chatID int64) {
	m.Update(chatID, func(st *ChatState) {
		st.PersonaName = ""
		st.PersonaPrompt = ""
		st.SceneryName = ""
		st.Scenery = ""
		st.PendingScene = ""
		st.PendingPersona = nil
		st.AwaitingName = false
		st.AwaitingBio = false
	})
}

// Delete removes all state for chatID.
func (m *Manager) Delete(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, chatID)
	m.saveLocked()
}
