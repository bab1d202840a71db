// Package chat is the stateful controller over a conversation: it owns the
// renderable message list for the open thread, issues stream requests,
// feeds the protocol parser, applies reconciliation decisions and writes
// through to the local store.
package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"threadsync/pkg/clientstate"
	"threadsync/pkg/logger"
	"threadsync/pkg/models"
	"threadsync/pkg/protocol"
	"threadsync/pkg/reconcile"
	"threadsync/pkg/session"
	"threadsync/pkg/store"
	"threadsync/pkg/telemetry"
	"threadsync/pkg/transport"
)

// ErrorMarker prefixes synthesized error bubbles so renderers can style
// them apart from agent output.
const ErrorMarker = "[error] "

// Sentinel errors callers branch on.
var (
	ErrEmptyInput     = fmt.Errorf("empty input")
	ErrUnknownMessage = fmt.Errorf("unknown message")
	ErrNoResponseID   = fmt.Errorf("message has no server response id")
)

// Events is the notification surface consumed by front ends. All methods
// are optional; a nil Events is safe. Callbacks run on the stream
// goroutine while the orchestrator lock is held — return quickly.
type Events interface {
	OnThinking(delta string)
	OnProgress(message string)
	OnMessage(m models.Message)
	OnThreadMigrated(oldID, newID string)
	OnWarning(message string)
}

type noopEvents struct{}

func (noopEvents) OnThinking(string)            {}
func (noopEvents) OnProgress(string)            {}
func (noopEvents) OnMessage(models.Message)     {}
func (noopEvents) OnThreadMigrated(_, _ string) {}
func (noopEvents) OnWarning(string)             {}

// HistoryEntry is one prior turn in the outgoing request body.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type submitBody struct {
	Message      string         `json:"message"`
	ChatThreadID int64          `json:"chat_thread_id,omitempty"`
	History      []HistoryEntry `json:"history,omitempty"`
}

// streamRun tracks one open stream. gen guards against frames from an
// aborted stream landing after a newer one started.
type streamRun struct {
	gen    uint64
	parser *protocol.Parser
	cancel func()
}

// Options wires an orchestrator.
type Options struct {
	Store       *store.Store
	Agent       transport.Agent
	Feedback    transport.Feedback
	ClientState *clientstate.State
	Session     *session.Manager
	Events      Events
}

// Orchestrator owns the active conversation. One instance per logical
// session; public methods are safe for concurrent use but at most one
// stream is open at a time.
type Orchestrator struct {
	mu sync.Mutex

	store    *store.Store
	agent    transport.Agent
	feedback transport.Feedback
	cstate   *clientstate.State
	sess     *session.Manager
	events   Events

	// activeThread is the thread open in the client; awaiting is the
	// pointer to the thread whose response is in flight ("" when idle).
	activeThread string
	awaiting     string
	messages     []models.Message
	threads      map[string]models.Thread

	run     *streamRun
	nextGen uint64

	// voteInFlight absorbs concurrent votes on the same message while the
	// remote call runs outside the lock.
	voteInFlight map[string]bool
}

// New builds an orchestrator, runs the migration recovery sweep and loads
// the persisted active thread, if any.
func New(opts Options) *Orchestrator {
	ev := opts.Events
	if ev == nil {
		ev = noopEvents{}
	}
	o := &Orchestrator{
		store:    opts.Store,
		agent:    opts.Agent,
		feedback: opts.Feedback,
		cstate:   opts.ClientState,
		sess:     opts.Session,
		events:   ev,
		threads:  map[string]models.Thread{},

		voteInFlight: map[string]bool{},
	}
	reconcile.Recover(o.store)
	for _, th := range o.store.ListThreads() {
		o.threads[th.ID] = th
	}
	if o.cstate != nil {
		if id := o.cstate.ActiveThreadID(); id != "" {
			if th := o.store.GetThread(id); th != nil {
				o.openLocked(*th)
			}
		}
	}
	return o
}

// ---- thread surface ----

// Threads returns the known threads, newest update first.
func (o *Orchestrator) Threads() []models.Thread {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store.ListThreads()
}

// Messages returns a copy of the open thread's message list.
func (o *Orchestrator) Messages() []models.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// ActiveThreadID returns the id of the open thread, "" when none.
func (o *Orchestrator) ActiveThreadID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeThread
}

// NewLocalThread creates and opens a fresh local thread.
func (o *Orchestrator) NewLocalThread(title string) models.Thread {
	o.mu.Lock()
	defer o.mu.Unlock()
	th := models.NewLocalThread(title)
	if err := o.store.SaveThread(th); err != nil {
		logger.Error("local_thread_persist_failed", zap.String("thread", th.ID), zap.Error(err))
	}
	o.openLocked(th)
	return th
}

// OpenThread loads a stored thread into memory and makes it active.
func (o *Orchestrator) OpenThread(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	th := o.store.GetThread(id)
	if th == nil {
		return fmt.Errorf("open thread %s: not found", id)
	}
	o.openLocked(*th)
	return nil
}

func (o *Orchestrator) openLocked(th models.Thread) {
	o.threads[th.ID] = th
	o.activeThread = th.ID
	o.messages = o.store.ListMessages(th.ID)
	if o.cstate != nil {
		o.cstate.SetActiveThreadID(th.ID)
	}
}

// ---- submit / retry / regenerate ----

// Submit validates text, appends the optimistic user message and opens the
// response stream. A stream already open is aborted first; its remaining
// frames are ignored.
func (o *Orchestrator) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.submitLocked(ctx, text, true)
}

// Retry re-issues the last user turn after a failed response. The trailing
// error bubble, if any, is dropped; prior history is preserved.
func (o *Orchestrator) Retry(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var lastUser *models.Message
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].Role == models.RoleUser {
			lastUser = &o.messages[i]
			break
		}
	}
	if lastUser == nil {
		return ErrEmptyInput
	}
	if n := len(o.messages); n > 0 && o.messages[n-1].Meta.Error {
		o.removeMessageLocked(o.messages[n-1].ID)
	}
	return o.submitLocked(ctx, lastUser.Content, false)
}

// Regenerate removes the given assistant message and resubmits the user
// turn that produced it. The removed message is gone from memory, store
// and the outgoing history before the request is issued.
func (o *Orchestrator) Regenerate(ctx context.Context, messageID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	idx := -1
	for i, m := range o.messages {
		if m.ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 || o.messages[idx].Role != models.RoleAssistant {
		return ErrUnknownMessage
	}
	var userText string
	for i := idx - 1; i >= 0; i-- {
		if o.messages[i].Role == models.RoleUser {
			userText = o.messages[i].Content
			break
		}
	}
	if userText == "" {
		return ErrUnknownMessage
	}
	o.removeMessageLocked(messageID)
	return o.submitLocked(ctx, userText, false)
}

// submitLocked is the shared submission path. appendUser controls whether
// a fresh optimistic user message is created (false on retry/regenerate,
// whose user turn already exists). Validation is the caller's job.
func (o *Orchestrator) submitLocked(ctx context.Context, text string, appendUser bool) error {
	o.abortStreamLocked()

	if o.activeThread == "" {
		th := models.NewLocalThread("")
		if err := o.store.SaveThread(th); err != nil {
			logger.Error("local_thread_persist_failed", zap.String("thread", th.ID), zap.Error(err))
		}
		o.openLocked(th)
	}

	if appendUser {
		um := models.NewMessage(o.activeThread, models.RoleUser, text)
		o.messages = append(o.messages, um)
		o.persistMessageLocked(um)
		o.events.OnMessage(um)
	}

	body := submitBody{Message: text, History: o.historyLocked(text)}
	if id := o.outgoingThreadIDLocked(); id != 0 {
		body.ChatThreadID = id
	}

	o.awaiting = o.activeThread
	o.nextGen++
	gen := o.nextGen
	parser := protocol.NewParser(&sink{o: o, gen: gen})
	run := &streamRun{gen: gen, parser: parser}

	cancel, err := o.agent.OpenStream(ctx, body, transport.StreamHandlers{
		OnLine:  func(line []byte) { o.handleLine(gen, line) },
		OnClose: func(err error) { o.handleClose(gen, err) },
	})
	if err != nil {
		// Transport failure before any frame: keep the optimistic user
		// message and synthesize an error bubble so the turn stays
		// retryable.
		o.awaiting = ""
		o.failLocked(err.Error())
		return nil
	}
	run.cancel = cancel
	o.run = run
	telemetry.StreamsActive.Inc()
	logger.Info("stream_opened", zap.String("thread", o.activeThread), zap.Uint64("gen", gen))
	return nil
}

// outgoingThreadIDLocked resolves the chat_thread_id for the request: a
// confirmed id wins, then an already-migrated server id from metadata, and
// a still-local thread sends nothing.
func (o *Orchestrator) outgoingThreadIDLocked() int64 {
	th := o.store.GetThread(o.activeThread)
	if th == nil {
		return 0
	}
	candidate := th.ID
	if models.IsLocalID(candidate) && th.Meta.ServerThreadID != "" {
		candidate = th.Meta.ServerThreadID
	}
	if models.IsLocalID(candidate) {
		return 0
	}
	n, err := strconv.ParseInt(candidate, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// historyLocked builds the outgoing conversation history: every prior
// turn except synthesized error bubbles and the message being sent.
func (o *Orchestrator) historyLocked(current string) []HistoryEntry {
	var out []HistoryEntry
	for _, m := range o.messages {
		if m.Meta.Error {
			continue
		}
		out = append(out, HistoryEntry{Role: m.Role, Content: m.Content})
	}
	// The optimistic user message for this submission is already in the
	// list; the backend expects it only in the message field.
	if n := len(out); n > 0 && out[n-1].Role == models.RoleUser && out[n-1].Content == current {
		out = out[:n-1]
	}
	return out
}

// ---- stream plumbing ----

func (o *Orchestrator) handleLine(gen uint64, line []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil || o.run.gen != gen {
		return // frame from an aborted stream
	}
	f, err := protocol.DecodeFrame(line)
	if err != nil {
		logger.Warn("frame_decode_failed", zap.Error(err))
		return
	}
	o.run.parser.Feed(f)
}

func (o *Orchestrator) handleClose(gen uint64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil || o.run.gen != gen {
		return
	}
	parser := o.run.parser
	o.run = nil
	o.awaiting = ""
	telemetry.StreamsActive.Dec()
	switch {
	case err == nil:
		parser.Finish()
	case err == context.Canceled:
		parser.Cancel()
	default:
		if parser.State() != protocol.StateClosed {
			parser.Cancel()
			o.failLocked(err.Error())
		}
	}
}

// abortStreamLocked cancels the open stream, if any. The generation bump
// in submitLocked makes any frames still in flight no-ops.
func (o *Orchestrator) abortStreamLocked() {
	if o.run == nil {
		return
	}
	run := o.run
	o.run = nil
	o.awaiting = ""
	run.parser.Cancel()
	if run.cancel != nil {
		run.cancel()
	}
	telemetry.StreamsActive.Dec()
	logger.Info("stream_aborted", zap.Uint64("gen", run.gen))
}

// sink adapts parser events onto the orchestrator. Parser callbacks fire
// from handleLine/handleClose, which already hold the lock.
type sink struct {
	o   *Orchestrator
	gen uint64
}

func (s *sink) Thinking(delta string)   { s.o.events.OnThinking(delta) }
func (s *sink) Progress(message string) { s.o.events.OnProgress(message) }
func (s *sink) Warning(message string)  { s.o.events.OnWarning(message) }
func (s *sink) Failed(message string)   { s.o.failLocked(message) }

func (s *sink) Completed(c protocol.Completion) {
	s.o.completeLocked(c)
}

// failLocked appends a synthesized, error-tagged assistant bubble so the
// conversation stays coherent and the turn stays retryable.
func (o *Orchestrator) failLocked(message string) {
	if message == "" {
		message = "the agent could not complete the response"
	}
	m := models.NewMessage(o.activeThread, models.RoleAssistant, ErrorMarker+message)
	m.Meta.Error = true
	o.messages = append(o.messages, m)
	o.persistMessageLocked(m)
	o.events.OnMessage(m)
	logger.Warn("turn_failed", zap.String("thread", o.activeThread), zap.String("message", message))
}

// completeLocked applies a successful terminal result: reconcile thread
// identity, migrate if this was a local thread's first response, persist
// the assistant turn.
func (o *Orchestrator) completeLocked(c protocol.Completion) {
	isLocal := models.IsLocalID(o.activeThread)
	if !reconcile.BelongsToActiveThread(o.awaiting, c.ThreadID, o.activeThread, isLocal) {
		logger.Warn("response_not_attributed",
			zap.String("awaiting", o.awaiting),
			zap.String("response_thread", c.ThreadID),
			zap.String("active", o.activeThread))
		return
	}

	if c.ThreadID != "" && c.ThreadID != o.activeThread {
		oldID := o.activeThread
		th, err := reconcile.Migrate(o.store, oldID, c.ThreadID, c.ThreadName)
		if err != nil {
			logger.Error("thread_migration_failed",
				zap.String("old", oldID), zap.String("new", c.ThreadID), zap.Error(err))
		} else {
			// Replace-or-insert in one step so no reader ever sees both ids.
			delete(o.threads, oldID)
			o.threads[th.ID] = *th
			o.activeThread = th.ID
			for i := range o.messages {
				o.messages[i].Thread = th.ID
			}
			if o.cstate != nil {
				o.cstate.SetActiveThreadID(th.ID)
			}
			o.events.OnThreadMigrated(oldID, th.ID)
		}
	}

	m := models.NewMessage(o.activeThread, models.RoleAssistant, c.Answer)
	m.Meta.ResponseID = c.ResponseID
	m.Meta.References = c.References
	m.Meta.Reflections = c.Reflections
	m.Meta.Followups = c.Followups
	m.Meta.Guardrail = c.Guardrail
	m.Meta.Blocked = c.Blocked
	o.messages = append(o.messages, m)
	o.persistMessageLocked(m)

	if th := o.store.GetThread(o.activeThread); th != nil {
		th.Messages = o.store.ListMessageIDs(o.activeThread)
		if c.ThreadName != "" {
			th.Title = c.ThreadName
		}
		th.Touch()
		if err := o.store.SaveThread(*th); err != nil {
			logger.Error("thread_update_failed", zap.String("thread", th.ID), zap.Error(err))
		}
		o.threads[th.ID] = *th
	}
	if o.sess != nil {
		o.sess.MarkSynced()
	}
	o.events.OnMessage(m)
}

// persistMessageLocked writes through to the store. Failure degrades that
// message to memory-only; the session keeps working.
func (o *Orchestrator) persistMessageLocked(m models.Message) {
	if err := o.store.SaveMessage(m); err != nil {
		logger.Error("message_persist_failed", zap.String("msg", m.ID), zap.Error(err))
	}
}

func (o *Orchestrator) removeMessageLocked(id string) {
	for i, m := range o.messages {
		if m.ID == id {
			o.messages = append(o.messages[:i], o.messages[i+1:]...)
			break
		}
	}
	if err := o.store.DeleteMessage(id); err != nil {
		logger.Error("message_delete_failed", zap.String("msg", id), zap.Error(err))
	}
}

// Close aborts any open stream. Call on shutdown.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.abortStreamLocked()
}
