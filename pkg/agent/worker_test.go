package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quiltfox/fablebot/pkg/backend"
	"github.com/quiltfox/fablebot/pkg/queue"
	"github.com/quiltfox/fablebot/pkg/session"
)

type fakeBackend struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	calls       [][]backend.Message
	stops       [][]string
	delay       time.Duration
	respond     func(call int, messages []backend.Message) backend.Completion
}

func (f *fakeBackend) Complete(ctx context.Context, messages []backend.Message, stop []string) backend.Completion {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	call := len(f.calls)
	f.calls = append(f.calls, messages)
	f.stops = append(f.stops, stop)
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if f.respond != nil {
		return f.respond(call, messages)
	}
	return backend.Completion{Text: "a reply"}
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeStore struct {
	mu        sync.Mutex
	rows      map[int64][]backend.Message
	summaries map[int64]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:      make(map[int64][]backend.Message),
		summaries: make(map[int64]string),
	}
}

func (s *fakeStore) AppendMessage(chatID int64, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[chatID] = append(s.rows[chatID], backend.Message{Role: role, Content: content})
	return nil
}

func (s *fakeStore) History(chatID int64, limit int) ([]backend.Message, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.rows[chatID]
	total := len(all)
	if limit > 0 && total > limit {
		all = all[total-limit:]
	}
	out := make([]backend.Message, len(all))
	copy(out, all)
	return out, total, nil
}

func (s *fakeStore) Summary(chatID int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.summaries[chatID]
	return summary, ok, nil
}

func (s *fakeStore) SetSummary(chatID int64, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[chatID] = summary
	return nil
}

func (s *fakeStore) rowCount(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[chatID])
}

type delivered struct {
	chatID        int64
	text          string
	placeholderID int
}

type fakeDelivery struct {
	mu            sync.Mutex
	deliveries    []delivered
	notifications []string
	scenes        []string
	personaNames  []string
}

func (d *fakeDelivery) Deliver(ctx context.Context, chatID int64, text string, placeholderID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivered{chatID, text, placeholderID})
	return nil
}

func (d *fakeDelivery) Notify(ctx context.Context, chatID int64, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications = append(d.notifications, text)
	return nil
}

func (d *fakeDelivery) OfferScene(ctx context.Context, chatID int64, scene string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scenes = append(d.scenes, scene)
	return nil
}

func (d *fakeDelivery) OfferPersona(ctx context.Context, chatID int64, name, prompt string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.personaNames = append(d.personaNames, name)
	return nil
}

func (d *fakeDelivery) Typing(ctx context.Context, chatID int64) {}

func (d *fakeDelivery) lastDelivery(t *testing.T) delivered {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.deliveries) == 0 {
		t.Fatalf("nothing was delivered")
	}
	return d.deliveries[len(d.deliveries)-1]
}

type testHarness struct {
	queue    *queue.Queue
	backend  *fakeBackend
	store    *fakeStore
	delivery *fakeDelivery
	sessions *session.Manager
	worker   *Worker
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		queue:    queue.New(),
		backend:  &fakeBackend{},
		store:    newFakeStore(),
		delivery: &fakeDelivery{},
		sessions: session.NewManager(""),
	}
	h.worker = NewWorker(WorkerOptions{
		Queue:            h.queue,
		Backend:          h.backend,
		Store:            h.store,
		Delivery:         h.delivery,
		Sessions:         h.sessions,
		HistoryWindow:    10,
		ConsolidateEvery: 15,
	})
	return h
}

func chatJob(chatID int64, text string) *queue.Job {
	job := queue.NewJob(queue.KindChat, chatID, 42, queue.ConvSnapshot{
		DisplayName:   "Alice",
		PersonaPrompt: "You are a test persona.",
		Scenery:       "a test room",
		MemoryEnabled: true,
		PlaceholderID: 77,
	})
	job.UserText = text
	return job
}

func TestChatTurnDeliversAndPersists(t *testing.T) {
	h := newTestHarness(t)

	h.worker.dispatch(context.Background(), chatJob(1, "hello there"))

	got := h.delivery.lastDelivery(t)
	if got.text != "a reply" {
		t.Fatalf("delivered %q, want %q", got.text, "a reply")
	}
	if got.placeholderID != 77 {
		t.Fatalf("placeholder ID = %d, want 77", got.placeholderID)
	}
	if n := h.store.rowCount(1); n != 2 {
		t.Fatalf("persisted %d rows, want 2", n)
	}
}

func TestFirstTurnCarriesOpeningFraming(t *testing.T) {
	h := newTestHarness(t)

	h.worker.dispatch(context.Background(), chatJob(1, "hello there"))

	if h.backend.callCount() != 1 {
		t.Fatalf("backend called %d times, want 1", h.backend.callCount())
	}
	messages := h.backend.calls[0]
	last := messages[len(messages)-1]
	if !strings.Contains(last.Content, "This is a role-play") {
		t.Fatalf("first turn missing opening framing: %q", last.Content)
	}
	if !strings.Contains(last.Content, "hello there") {
		t.Fatalf("first turn missing user text: %q", last.Content)
	}

	// Second turn must not repeat the framing.
	h.worker.dispatch(context.Background(), chatJob(1, "and again"))
	messages = h.backend.calls[1]
	last = messages[len(messages)-1]
	if last.Content != "and again" {
		t.Fatalf("later turn should carry raw user text, got %q", last.Content)
	}
}

func TestChatTurnNotPersistedAfterBackendFault(t *testing.T) {
	h := newTestHarness(t)
	h.backend.respond = func(int, []backend.Message) backend.Completion {
		return backend.Completion{
			Text:  "timeout apology",
			Fault: backend.FaultTimeout,
		}
	}

	h.worker.dispatch(context.Background(), chatJob(1, "hello"))

	// The apology is still delivered through the placeholder.
	if got := h.delivery.lastDelivery(t); got.text != "timeout apology" {
		t.Fatalf("delivered %q, want apology", got.text)
	}
	if n := h.store.rowCount(1); n != 0 {
		t.Fatalf("faulted turn persisted %d rows, want 0", n)
	}
	if h.queue.Size() != 0 {
		t.Fatalf("faulted turn queued follow-up work")
	}
}

func TestMemorySummaryPrependedToContext(t *testing.T) {
	h := newTestHarness(t)
	h.store.SetSummary(1, "Alice once fought a dragon.")
	h.store.AppendMessage(1, backend.RoleUser, "hi")
	h.store.AppendMessage(1, backend.RoleAssistant, "hello")

	h.worker.dispatch(context.Background(), chatJob(1, "what do you remember?"))

	first := h.backend.calls[0][0]
	if first.Role != backend.RoleSystem || !strings.Contains(first.Content, "fought a dragon") {
		t.Fatalf("context does not start with the memory summary: %+v", first)
	}
}

func TestConsolidationEnqueuedAtInterval(t *testing.T) {
	h := newTestHarness(t)
	// 13 rows before the turn; the turn's two writes land on the 15 boundary.
	for i := 0; i < 13; i++ {
		h.store.AppendMessage(1, backend.RoleUser, "filler")
	}

	h.worker.dispatch(context.Background(), chatJob(1, "turn"))

	if h.queue.Size() != 1 {
		t.Fatalf("queue size = %d, want 1 consolidation job", h.queue.Size())
	}
	job, _ := h.queue.Dequeue(context.Background())
	if job.Kind != queue.KindConsolidateMemory {
		t.Fatalf("queued job kind = %s, want consolidate_memory", job.Kind)
	}
}

func TestConsolidationNotEnqueuedOffIntervalOrOnFreshChat(t *testing.T) {
	h := newTestHarness(t)

	// Fresh chat: total is 0, never consolidate even though 0+2 keeps the
	// modulus happy for some intervals.
	h.worker.dispatch(context.Background(), chatJob(1, "first"))
	if h.queue.Size() != 0 {
		t.Fatalf("fresh chat queued consolidation")
	}

	// Off the boundary.
	h.worker.dispatch(context.Background(), chatJob(1, "second"))
	if h.queue.Size() != 0 {
		t.Fatalf("off-interval turn queued consolidation")
	}
}

func TestConsolidationRespectsMemoryToggle(t *testing.T) {
	h := newTestHarness(t)
	for i := 0; i < 13; i++ {
		h.store.AppendMessage(1, backend.RoleUser, "filler")
	}

	job := chatJob(1, "turn")
	job.Conv.MemoryEnabled = false
	h.worker.dispatch(context.Background(), job)

	if h.queue.Size() != 0 {
		t.Fatalf("memory-off turn queued consolidation")
	}
}

func TestConsolidationAccumulatesSummaries(t *testing.T) {
	h := newTestHarness(t)
	h.store.SetSummary(1, "Chapter one happened.")
	h.store.AppendMessage(1, backend.RoleUser, "hi")
	h.store.AppendMessage(1, backend.RoleAssistant, "hello")
	h.backend.respond = func(int, []backend.Message) backend.Completion {
		return backend.Completion{Text: "Chapter two happened."}
	}

	job := queue.NewJob(queue.KindConsolidateMemory, 1, 42, queue.ConvSnapshot{DisplayName: "Alice"})
	h.worker.dispatch(context.Background(), job)

	summary, ok, _ := h.store.Summary(1)
	if !ok {
		t.Fatalf("summary missing after consolidation")
	}
	if want := "Chapter one happened.\n\nChapter two happened."; summary != want {
		t.Fatalf("summary = %q, want %q", summary, want)
	}
}

func TestConsolidationRequestEndsWithInstruction(t *testing.T) {
	h := newTestHarness(t)
	h.store.AppendMessage(1, backend.RoleUser, "hi")

	job := queue.NewJob(queue.KindConsolidateMemory, 1, 42, queue.ConvSnapshot{})
	h.worker.dispatch(context.Background(), job)

	messages := h.backend.calls[0]
	last := messages[len(messages)-1]
	if last.Role != backend.RoleUser || !strings.Contains(last.Content, "memory consolidation module") {
		t.Fatalf("consolidation request does not end with the instruction: %+v", last)
	}
}

func TestConsolidationDroppedOnFault(t *testing.T) {
	h := newTestHarness(t)
	h.store.SetSummary(1, "untouched")
	h.store.AppendMessage(1, backend.RoleUser, "hi")
	h.backend.respond = func(int, []backend.Message) backend.Completion {
		return backend.Completion{Text: "apology", Fault: backend.FaultUnreachable}
	}

	job := queue.NewJob(queue.KindConsolidateMemory, 1, 42, queue.ConvSnapshot{})
	h.worker.dispatch(context.Background(), job)

	if summary, _, _ := h.store.Summary(1); summary != "untouched" {
		t.Fatalf("faulted consolidation rewrote summary to %q", summary)
	}
	h.delivery.mu.Lock()
	defer h.delivery.mu.Unlock()
	if len(h.delivery.notifications) != 0 {
		t.Fatalf("faulted consolidation notified the user: %v", h.delivery.notifications)
	}
}

func TestSceneGenerationStagesAndOffers(t *testing.T) {
	h := newTestHarness(t)
	h.backend.respond = func(int, []backend.Message) backend.Completion {
		return backend.Completion{Text: "A moonlit pier."}
	}

	job := queue.NewJob(queue.KindGenerateScene, 1, 42, queue.ConvSnapshot{DisplayName: "Alice"})
	job.Prompt = ScenePrompt("Fantasy")
	h.worker.dispatch(context.Background(), job)

	h.delivery.mu.Lock()
	scenes := h.delivery.scenes
	h.delivery.mu.Unlock()
	if len(scenes) != 1 || scenes[0] != "A moonlit pier." {
		t.Fatalf("offered scenes = %v", scenes)
	}

	st, _ := h.sessions.Get(1)
	if st.PendingScene != "A moonlit pier." {
		t.Fatalf("pending scene = %q", st.PendingScene)
	}
	if st.Scenery != "" {
		t.Fatalf("scene became active without confirmation: %q", st.Scenery)
	}
}

func TestPersonaGenerationParsesAndOffers(t *testing.T) {
	h := newTestHarness(t)
	h.backend.respond = func(int, []backend.Message) backend.Completion {
		return backend.Completion{Text: "NAME: Marlow\n###\nPROMPT: You are role-playing as Marlow. You must never break character."}
	}

	job := queue.NewJob(queue.KindGeneratePersona, 1, 42, queue.ConvSnapshot{DisplayName: "Alice"})
	job.Prompt = PersonaPrompt("Mysterious")
	h.worker.dispatch(context.Background(), job)

	h.delivery.mu.Lock()
	names := h.delivery.personaNames
	h.delivery.mu.Unlock()
	if len(names) != 1 || names[0] != "Marlow" {
		t.Fatalf("offered personas = %v", names)
	}

	st, _ := h.sessions.Get(1)
	if st.PendingPersona == nil || st.PendingPersona.Name != "Marlow" {
		t.Fatalf("pending persona = %+v", st.PendingPersona)
	}
}

func TestPersonaGenerationReportsBadFormat(t *testing.T) {
	h := newTestHarness(t)
	h.backend.respond = func(int, []backend.Message) backend.Completion {
		return backend.Completion{Text: "just some prose without the delimiter"}
	}

	job := queue.NewJob(queue.KindGeneratePersona, 1, 42, queue.ConvSnapshot{})
	h.worker.dispatch(context.Background(), job)

	h.delivery.mu.Lock()
	defer h.delivery.mu.Unlock()
	if len(h.delivery.personaNames) != 0 {
		t.Fatalf("bad-format persona was offered anyway")
	}
	if len(h.delivery.notifications) != 1 || !strings.Contains(h.delivery.notifications[0], "invalid format") {
		t.Fatalf("notifications = %v, want one invalid-format report", h.delivery.notifications)
	}
}

func TestDispatcherSurvivesPanickingHandler(t *testing.T) {
	h := newTestHarness(t)
	h.backend.respond = func(call int, _ []backend.Message) backend.Completion {
		if call == 0 {
			panic("exploding handler")
		}
		return backend.Completion{Text: "recovered"}
	}

	h.queue.Enqueue(chatJob(1, "boom"))
	h.queue.Enqueue(chatJob(2, "still alive?"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.worker.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for h.backend.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("second job never ran after panic, calls = %d", h.backend.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if got := h.delivery.lastDelivery(t); got.chatID != 2 || got.text != "recovered" {
		t.Fatalf("second job delivery = %+v", got)
	}
}

func TestJobsRunStrictlyOneAtATime(t *testing.T) {
	h := newTestHarness(t)
	h.backend.delay = 20 * time.Millisecond

	for i := 0; i < 5; i++ {
		h.queue.Enqueue(chatJob(int64(i+1), "turn"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.worker.Run(ctx)
	}()

	deadline := time.After(5 * time.Second)
	for h.backend.callCount() < 5 {
		select {
		case <-deadline:
			t.Fatalf("only %d of 5 jobs ran", h.backend.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	if h.backend.maxInFlight != 1 {
		t.Fatalf("max in-flight backend calls = %d, want 1", h.backend.maxInFlight)
	}
}
