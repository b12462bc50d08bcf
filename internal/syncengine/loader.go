package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/prperemyshlev/chatsync/internal/dto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// LoadConversations fetches the conversation list and merges it into the view.
// Conversations missing from the response are dropped unless an event touched them
// while the request was in flight.
func (e *Engine) LoadConversations(ctx context.Context) dto.Result[[]*domain.Conversation] {
	return dto.Guard(e.logger, "load_conversations", func() dto.Result[[]*domain.Conversation] {
		gen := e.gen.Current()
		e.mu.Lock()
		startSeq := e.seq
		e.mu.Unlock()

		convs, err := e.fetcher.ListConversations(ctx)
		if err != nil {
			e.logger.Warn("Failed to load conversations", zap.Error(err))
			return dto.FailFromError[[]*domain.Conversation](err)
		}
		if !e.gen.Valid(gen) {
			return dto.FailFromError[[]*domain.Conversation](domain.ErrSessionChanged)
		}

		e.mu.Lock()
		if !e.currentLocked(gen) {
			e.mu.Unlock()
			return dto.FailFromError[[]*domain.Conversation](domain.ErrSessionChanged)
		}
		fetched := make(map[string]struct{}, len(convs))
		for i := range convs {
			fetched[convs[i].ID] = struct{}{}
			e.putConversationLocked(&convs[i], time.Time{})
		}
		for id, entry := range e.conversations {
			if _, ok := fetched[id]; !ok && entry.seq <= startSeq {
				e.dropConversationLocked(id)
			}
		}
		out := e.conversationsLocked()
		e.mu.Unlock()

		e.logger.Debug("Conversations loaded", zap.Int("count", len(out)))
		e.notify(Change{Kind: ConversationsChanged})
		return dto.Ok(out, "")
	})
}

// LoadMessages fetches the latest page of a conversation and reconciles local state
// with it. Timed-out optimistic entries are dropped; pending ones survive.
func (e *Engine) LoadMessages(ctx context.Context, conversationID string) dto.Result[[]Tracked[*domain.Message]] {
	return dto.Guard(e.logger, "load_messages", func() dto.Result[[]Tracked[*domain.Message]] {
		if conversationID == "" {
			return dto.Fail[[]Tracked[*domain.Message]](dto.ErrCodeBadRequest, "conversation id is required")
		}

		gen := e.gen.Current()
		msgs, err := e.fetcher.ListMessages(ctx, conversationID, e.cfg.MessagePageSize)
		if err != nil {
			e.logger.Warn("Failed to load messages", zap.String("conversation_id", conversationID), zap.Error(err))
			return dto.FailFromError[[]Tracked[*domain.Message]](err)
		}
		if !e.gen.Valid(gen) {
			return dto.FailFromError[[]Tracked[*domain.Message]](domain.ErrSessionChanged)
		}

		e.mu.Lock()
		if !e.currentLocked(gen) {
			e.mu.Unlock()
			return dto.FailFromError[[]Tracked[*domain.Message]](domain.ErrSessionChanged)
		}
		local := e.messagesLocked(conversationID)
		inPage := make(map[string]struct{}, len(msgs))
		for i := range msgs {
			m := &msgs[i]
			if m.ConversationID == "" {
				m.ConversationID = conversationID
			}
			inPage[m.Key()] = struct{}{}
			e.putServerMessageLocked(local, m, replaceMessage)
		}

		for key, entry := range local {
			if _, ok := inPage[key]; !ok && entry.status == TimedOut {
				delete(local, key)
			}
		}
		for key, op := range e.ops {
			if op.conversationID == conversationID && op.status == TimedOut {
				delete(e.ops, key)
			}
		}
		e.loadedMessages[conversationID] = true
		out := e.messagesSnapshotLocked(conversationID)
		e.mu.Unlock()

		e.notify(Change{Kind: MessagesChanged, ConversationID: conversationID})
		return dto.Ok(out, "")
	})
}

// putServerMessageLocked stores a server-confirmed message, reconciling it with a pending
// copy keyed by its client id, and re-applies optimistic ops on top.
func (e *Engine) putServerMessageLocked(local map[string]*messageEntry, m *domain.Message, merge func(existing, incoming *domain.Message) *domain.Message) *domain.Message {
	var pending *domain.Message
	if m.ClientID != "" && m.ClientID != m.ID {
		if entry, ok := local[m.ClientID]; ok && entry.msg.ID == "" {
			pending = entry.msg
			delete(local, m.ClientID)
		}
	}

	var merged *domain.Message
	switch entry, ok := local[m.ID]; {
	case ok:
		merged = merge(entry.msg, m)
	case pending != nil:
		// the echo carries the server's view of our own message
		merged = mergeMessage(nil, m)
		merged.ReadBy = domain.UnionStrings(pending.ReadBy, merged.ReadBy)
	default:
		merged = mergeMessage(nil, m)
	}

	e.reapplyOpsLocked(merged)
	local[merged.Key()] = &messageEntry{msg: merged, status: Confirmed}

	replaces := ""
	if pending != nil {
		replaces = pending.ClientID
	}
	e.touchLastMessageLocked(merged, replaces)
	return merged
}

// refetchConversation fetches a conversation an event referenced but the view lacks.
// after runs under the engine lock once the conversation is in place.
func (e *Engine) refetchConversation(id string, after func(conv *domain.Conversation)) {
	gen := e.gen.Current()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.recoverBackground("refetch_conversation")

		v, err, shared := e.refetch.Do("conversation|"+id, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FetchTimeout.Duration)
			defer cancel()
			e.metrics.refetches.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "conversation")))
			return e.fetcher.GetConversation(ctx, id)
		})
		if err != nil {
			e.logger.Warn("Failed to re-fetch conversation", zap.String("conversation_id", id), zap.Error(err))
			return
		}
		if !e.gen.Valid(gen) {
			e.logger.Debug("Discarding re-fetched conversation from previous session", zap.String("conversation_id", id))
			return
		}

		fetched, _ := v.(*domain.Conversation)
		if fetched == nil {
			return
		}
		conv := fetched.Clone()
		if conv.ID == "" {
			conv.ID = id
		}
		if conv.ID != id {
			e.logger.Warn("Re-fetched conversation has another id",
				zap.String("expected", id),
				zap.String("actual", conv.ID),
			)
			return
		}

		stored := func() bool {
			e.mu.Lock()
			defer e.mu.Unlock()
			if !e.currentLocked(gen) {
				return false
			}
			e.putConversationLocked(conv, time.Time{})
			if entry, ok := e.conversations[id]; ok && after != nil {
				after(entry.conv)
			}
			return true
		}()
		if !stored {
			e.logger.Debug("Discarding re-fetched conversation from previous session", zap.String("conversation_id", id))
			return
		}

		e.logger.Debug("Conversation re-fetched", zap.String("conversation_id", id), zap.Bool("shared", shared))
		e.notify(Change{Kind: ConversationsChanged, ConversationID: id})
	}()
}

// refetchMessage fetches a message an event referenced but the view lacks.
// after runs under the engine lock with the stored message.
func (e *Engine) refetchMessage(conversationID, messageID string, after func(msg *domain.Message)) {
	gen := e.gen.Current()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.recoverBackground("refetch_message")

		v, err, _ := e.refetch.Do("message|"+messageID, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FetchTimeout.Duration)
			defer cancel()
			e.metrics.refetches.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "message")))
			return e.fetcher.GetMessage(ctx, messageID)
		})
		if err != nil {
			e.logger.Warn("Failed to re-fetch message", zap.String("message_id", messageID), zap.Error(err))
			return
		}
		if !e.gen.Valid(gen) {
			return
		}

		fetched, _ := v.(*domain.Message)
		if fetched == nil {
			return
		}
		msg := fetched.Clone()
		if msg.ConversationID == "" {
			msg.ConversationID = conversationID
		}
		if msg.ConversationID != conversationID {
			e.logger.Warn("Re-fetched message belongs to another conversation",
				zap.String("message_id", messageID),
				zap.String("expected", conversationID),
				zap.String("actual", msg.ConversationID),
			)
			return
		}

		stored := func() bool {
			e.mu.Lock()
			defer e.mu.Unlock()
			if !e.currentLocked(gen) {
				return false
			}
			merged := e.putServerMessageLocked(e.messagesLocked(conversationID), msg, mergeMessage)
			if after != nil {
				after(merged)
			}
			return true
		}()
		if !stored {
			return
		}

		e.notify(Change{Kind: MessagesChanged, ConversationID: conversationID})
	}()
}

// recoverBackground keeps a panic in a background fetch from taking the process down
func (e *Engine) recoverBackground(op string) {
	if r := recover(); r != nil {
		e.logger.Error("Recovered from panic in background work", zap.String("op", op), zap.String("panic", fmt.Sprint(r)))
	}
}

// currentLocked reports whether results fetched under gen may still be applied.
// Checked under e.mu, so a logout cannot slip in between the check and the write.
func (e *Engine) currentLocked(gen uint64) bool {
	return e.gen.Valid(gen) && e.signedInLocked()
}

// resync reloads conversations and every conversation whose messages were loaded.
// Used after the realtime channel recovers from a drop.
func (e *Engine) resync(ctx context.Context) error {
	res := e.LoadConversations(ctx)
	if !res.Success {
		return fmt.Errorf("resync conversations: %s", res.Message)
	}

	e.mu.Lock()
	ids := make([]string, 0, len(e.loadedMessages))
	for id := range e.loadedMessages {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		if r := e.LoadMessages(ctx, id); !r.Success {
			e.logger.Warn("Failed to resync messages", zap.String("conversation_id", id), zap.String("message", r.Message))
		}
	}
	return nil
}
