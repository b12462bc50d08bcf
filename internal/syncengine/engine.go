package syncengine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prperemyshlev/chatsync/internal/config"
	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/prperemyshlev/chatsync/internal/realtime"
	"github.com/prperemyshlev/chatsync/internal/session"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Fetcher is the REST surface the engine loads and self-heals from
type Fetcher interface {
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
}

// Emitter sends outbound realtime events
type Emitter interface {
	Emit(ctx context.Context, event domain.Event, payload any) error
}

// ChangeKind tells subscribers what part of the view changed
type ChangeKind int

const (
	ConversationsChanged ChangeKind = iota
	MessagesChanged
)

// Change is delivered to subscribers after the engine state changed
type Change struct {
	Kind           ChangeKind
	ConversationID string
}

const changeEvent domain.Event = "$change"

const (
	defaultTimeout  = 15 * time.Second
	defaultPageSize = 50
)

type conversationEntry struct {
	conv *domain.Conversation
	seq  uint64
}

type messageEntry struct {
	msg         *domain.Message
	status      Status
	submittedAt time.Time
}

// Engine owns the local view of conversations and messages. It merges REST
// fetches, realtime pushes and optimistic local mutations.
type Engine struct {
	cfg     config.SyncConfig
	fetcher Fetcher
	emitter Emitter
	gen     *session.Generation
	logger  *zap.Logger
	metrics *engineMetrics
	now     func() time.Time

	subscribers *realtime.Registry[Change]
	refetch     singleflight.Group
	wg          sync.WaitGroup

	mu             sync.Mutex
	self           string
	seq            uint64
	conversations  map[string]*conversationEntry
	messages       map[string]map[string]*messageEntry
	loadedMessages map[string]bool
	ops            map[string]*pendingOp
	appliedVotes   map[string]*voteKeys
}

// NewEngine creates an empty engine
func NewEngine(cfg config.SyncConfig, fetcher Fetcher, emitter Emitter, gen *session.Generation, meter metric.Meter, logger *zap.Logger) *Engine {
	cfg.EchoTimeout.Duration = cfg.EchoTimeout.Or(defaultTimeout)
	cfg.FetchTimeout.Duration = cfg.FetchTimeout.Or(defaultTimeout)
	cfg.JanitorInterval.Duration = cfg.JanitorInterval.Or(cfg.EchoTimeout.Duration / 3)
	if cfg.MessagePageSize <= 0 {
		cfg.MessagePageSize = defaultPageSize
	}

	e := &Engine{
		cfg:         cfg,
		fetcher:     fetcher,
		emitter:     emitter,
		gen:         gen,
		logger:      logger,
		metrics:     newEngineMetrics(meter, logger),
		now:         time.Now,
		subscribers: realtime.NewRegistry[Change](),
	}
	e.resetLocked()
	return e
}

func (e *Engine) resetLocked() {
	e.self = ""
	e.conversations = make(map[string]*conversationEntry)
	e.messages = make(map[string]map[string]*messageEntry)
	e.loadedMessages = make(map[string]bool)
	e.ops = make(map[string]*pendingOp)
	e.appliedVotes = make(map[string]*voteKeys)
}

// Start binds the engine to the signed-in user
func (e *Engine) Start(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.self = userID
}

// Reset drops all local state. Called on logout.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.resetLocked()
	e.mu.Unlock()

	e.notify(Change{Kind: ConversationsChanged})
}

// Subscribe registers fn for view changes and returns its disposer
func (e *Engine) Subscribe(fn func(Change)) func() {
	return e.subscribers.On(changeEvent, fn)
}

// Wait blocks until background re-fetches have finished
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) notify(changes ...Change) {
	handlers := e.subscribers.Handlers(changeEvent)
	for _, c := range changes {
		for _, fn := range handlers {
			fn(c)
		}
	}
}

// Conversations returns copies ordered by last activity, newest first
func (e *Engine) Conversations() []*domain.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversationsLocked()
}

func (e *Engine) conversationsLocked() []*domain.Conversation {
	out := make([]*domain.Conversation, 0, len(e.conversations))
	for _, entry := range e.conversations {
		out = append(out, entry.conv.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i].LastActivity(), out[j].LastActivity()
		if ai.Equal(aj) {
			return out[i].ID < out[j].ID
		}
		return ai.After(aj)
	})
	return out
}

// Conversation returns a copy of one conversation
func (e *Engine) Conversation(id string) (*domain.Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.conversations[id]
	if !ok {
		return nil, false
	}
	return entry.conv.Clone(), true
}

// Messages returns tracked copies of a conversation's messages ordered by SentAt
func (e *Engine) Messages(conversationID string) []Tracked[*domain.Message] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.messagesSnapshotLocked(conversationID)
}

func (e *Engine) messagesSnapshotLocked(conversationID string) []Tracked[*domain.Message] {
	msgs := make([]*domain.Message, 0, len(e.messages[conversationID]))
	for _, entry := range e.messages[conversationID] {
		msgs = append(msgs, entry.msg)
	}
	domain.SortMessages(msgs)

	out := make([]Tracked[*domain.Message], len(msgs))
	for i, m := range msgs {
		out[i] = e.trackedLocked(e.messages[conversationID][m.Key()])
	}
	return out
}

// Message returns one tracked message by server id or client id
func (e *Engine) Message(conversationID, key string) (Tracked[*domain.Message], bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.messages[conversationID][key]
	if !ok {
		return Tracked[*domain.Message]{}, false
	}
	return e.trackedLocked(entry), true
}

// trackedLocked folds the message's own status with the state of optimistic ops on it
func (e *Engine) trackedLocked(entry *messageEntry) Tracked[*domain.Message] {
	t := Tracked[*domain.Message]{Data: entry.msg.Clone(), Status: entry.status, SubmittedAt: entry.submittedAt}
	if entry.msg.ID == "" {
		return t
	}
	for _, op := range e.ops {
		if op.messageID == entry.msg.ID {
			t.Status = op.worse(t.Status)
			if op.submittedAt.After(t.SubmittedAt) {
				t.SubmittedAt = op.submittedAt
			}
		}
	}
	return t
}

func (e *Engine) messagesLocked(conversationID string) map[string]*messageEntry {
	msgs, ok := e.messages[conversationID]
	if !ok {
		msgs = make(map[string]*messageEntry)
		e.messages[conversationID] = msgs
	}
	return msgs
}

// putConversationLocked merges a conversation record into the view
func (e *Engine) putConversationLocked(incoming *domain.Conversation, eventTime time.Time) {
	var existing *domain.Conversation
	if entry, ok := e.conversations[incoming.ID]; ok {
		existing = entry.conv
	}

	merged := mergeConversation(existing, incoming, eventTime)
	for _, m := range e.messages[incoming.ID] {
		advanceLastMessage(merged, m.msg)
	}

	e.seq++
	e.conversations[incoming.ID] = &conversationEntry{conv: merged, seq: e.seq}
}

func (e *Engine) dropConversationLocked(id string) {
	delete(e.conversations, id)
	delete(e.messages, id)
	delete(e.loadedMessages, id)
	for key, op := range e.ops {
		if op.conversationID == id {
			delete(e.ops, key)
		}
	}
}

// touchLastMessageLocked keeps the conversation's last message in step with msg.
// replaces names the client id of a pending message msg confirms, if any.
func (e *Engine) touchLastMessageLocked(msg *domain.Message, replaces string) {
	entry, ok := e.conversations[msg.ConversationID]
	if !ok {
		return
	}
	conv := entry.conv
	last := conv.LastMessage

	switch {
	case last != nil && replaces != "" && last.ID == "" && last.ClientID == replaces:
		conv.LastMessage = msg.Clone()
	case last != nil && last.Key() == msg.Key():
		conv.LastMessage = msg.Clone()
	default:
		advanceLastMessage(conv, msg)
	}
}

// findMessageLocked looks a message up by server id, optionally inside a known conversation
func (e *Engine) findMessageLocked(conversationID, messageID string) *messageEntry {
	if conversationID != "" {
		return e.messages[conversationID][messageID]
	}
	for _, msgs := range e.messages {
		if entry, ok := msgs[messageID]; ok {
			return entry
		}
	}
	return nil
}

// reapplyOpsLocked puts still-pending optimistic changes back on top of a server record
func (e *Engine) reapplyOpsLocked(msg *domain.Message) {
	if msg.ID == "" {
		return
	}
	for key, op := range e.ops {
		if op.messageID != msg.ID {
			continue
		}
		if op.status == TimedOut {
			delete(e.ops, key)
			continue
		}
		e.applyOpLocked(op, msg)
	}
}

func (e *Engine) applyOpLocked(op *pendingOp, msg *domain.Message) {
	switch {
	case op.voteID != "":
		if msg.Vote != nil {
			setVoteSelection(msg.Vote, e.self, op.selected)
		}
	case op.removed:
		clearReaction(msg, e.self)
	default:
		setReaction(msg, domain.Reaction{MessageID: msg.ID, UserID: e.self, Emoji: op.emoji, CreatedAt: op.submittedAt})
	}
}
