package syncengine

import (
	"context"
	"fmt"

	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/prperemyshlev/chatsync/internal/realtime"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Bind subscribes the engine to the channel's inbound events and returns the unbinder.
// A recovery from Reconnecting triggers a resync, since events may have been missed.
func (e *Engine) Bind(ch *realtime.Channel) func() {
	disposers := []func(){
		realtime.OnEvent(ch, domain.EventMessageReceived, e.HandleMessage),
		realtime.OnEvent(ch, domain.EventVoteCreated, e.HandleMessage),
		realtime.OnEvent(ch, domain.EventMessageRead, e.HandleRead),
		realtime.OnEvent(ch, domain.EventReactionReceived, e.HandleReaction),
		realtime.OnEvent(ch, domain.EventVoteUpdated, e.HandleVoteUpdated),
		realtime.OnEvent(ch, domain.EventParticipantAdded, e.HandleParticipantsAdded),
		realtime.OnEvent(ch, domain.EventParticipantRemoved, e.HandleParticipantsRemoved),
		realtime.OnEvent(ch, domain.EventConversationRenamed, e.HandleConversationRenamed),
		realtime.OnEvent(ch, domain.EventConversationUpdated, e.HandleConversationUpdated),
		realtime.OnEvent(ch, domain.EventConversationCreated, e.HandleConversationCreated),
		ch.OnStateChange(func(sc realtime.StateChange) {
			if sc.From == realtime.Reconnecting && sc.To == realtime.Connected {
				e.resyncInBackground()
			}
		}),
	}

	return func() {
		for _, dispose := range disposers {
			dispose()
		}
	}
}

func (e *Engine) resyncInBackground() {
	gen := e.gen.Current()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.recoverBackground("resync")

		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FetchTimeout.Duration)
		defer cancel()
		if !e.gen.Valid(gen) {
			return
		}
		if err := e.resync(ctx); err != nil {
			e.logger.Warn("Resync after reconnect failed", zap.Error(err))
			return
		}
		e.logger.Info("Resynced after reconnect")
	}()
}

func (e *Engine) applied(event domain.Event) {
	e.metrics.eventsApplied.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", string(event))))
}

// signedInLocked reports whether a user is bound. Events arriving after Reset are ignored.
func (e *Engine) signedInLocked() bool {
	return e.self != ""
}

// HandleMessage merges a pushed message. It also confirms a pending message or poll
// carrying the same client id.
func (e *Engine) HandleMessage(ev domain.MessageEvent) {
	m := ev.Message.Clone()
	if m.ID == "" || m.ConversationID == "" {
		e.logger.Warn("Dropping message event without ids", zap.String("event_id", ev.EventID))
		return
	}
	if m.SentAt.IsZero() {
		m.SentAt = ev.ServerTime
	}

	e.mu.Lock()
	if !e.signedInLocked() {
		e.mu.Unlock()
		return
	}
	_, known := e.conversations[m.ConversationID]
	e.putServerMessageLocked(e.messagesLocked(m.ConversationID), m, mergeMessage)
	if known {
		e.seq++
		e.conversations[m.ConversationID].seq = e.seq
	}
	e.mu.Unlock()

	e.applied(domain.EventMessageReceived)
	if !known {
		e.refetchConversation(m.ConversationID, nil)
	}
	e.notify(Change{Kind: MessagesChanged, ConversationID: m.ConversationID}, Change{Kind: ConversationsChanged, ConversationID: m.ConversationID})
}

// HandleRead adds the reader to each message's read set
func (e *Engine) HandleRead(ev domain.ReadEvent) {
	if ev.UserID == "" {
		return
	}
	markRead := func(msg *domain.Message) {
		msg.ReadBy = domain.UnionStrings(msg.ReadBy, []string{ev.UserID})
	}

	e.mu.Lock()
	if !e.signedInLocked() {
		e.mu.Unlock()
		return
	}
	var missing []string
	for _, id := range ev.MessageIDs {
		entry := e.findMessageLocked(ev.ConversationID, id)
		if entry == nil {
			missing = append(missing, id)
			continue
		}
		markRead(entry.msg)
		e.touchLastMessageLocked(entry.msg, "")
	}
	e.mu.Unlock()

	e.applied(domain.EventMessageRead)
	for _, id := range missing {
		e.selfHealMessage(ev.ConversationID, id, markRead)
	}
	e.notify(Change{Kind: MessagesChanged, ConversationID: ev.ConversationID})
}

// HandleReaction applies a reaction change. The last event received wins, except that
// a still-pending local reaction of the current user is kept on top.
func (e *Engine) HandleReaction(ev domain.ReactionEvent) {
	r := ev.Reaction
	if r.MessageID == "" || r.UserID == "" {
		return
	}

	e.mu.Lock()
	if !e.signedInLocked() {
		e.mu.Unlock()
		return
	}
	apply := func(msg *domain.Message) {
		if ev.Removed {
			clearReaction(msg, r.UserID)
		} else {
			setReaction(msg, r)
		}
		if r.UserID != e.self {
			return
		}
		key := reactionOpKey(msg.ID, e.self)
		op, ok := e.ops[key]
		switch {
		case !ok:
		case op.removed == ev.Removed && (op.removed || op.emoji == r.Emoji):
			delete(e.ops, key)
		default:
			e.applyOpLocked(op, msg)
		}
	}

	entry := e.findMessageLocked(ev.ConversationID, r.MessageID)
	if entry != nil {
		apply(entry.msg)
		e.touchLastMessageLocked(entry.msg, "")
	}
	e.mu.Unlock()

	e.applied(domain.EventReactionReceived)
	if entry == nil {
		e.selfHealMessage(ev.ConversationID, r.MessageID, apply)
		return
	}
	e.notify(Change{Kind: MessagesChanged, ConversationID: ev.ConversationID})
}

// HandleVoteUpdated applies a single vote. Duplicate deliveries are detected by the
// event id, or by (user, option, server time) when the backend sends none.
func (e *Engine) HandleVoteUpdated(ev domain.VoteEvent) {
	if ev.MessageID == "" || ev.UserID == "" {
		return
	}

	e.mu.Lock()
	if !e.signedInLocked() {
		e.mu.Unlock()
		return
	}
	entry := e.findMessageLocked(ev.ConversationID, ev.MessageID)
	if entry == nil || entry.msg.Vote == nil {
		e.mu.Unlock()
		e.selfHealMessage(ev.ConversationID, ev.MessageID, func(msg *domain.Message) {
			if msg.Vote != nil {
				e.recordVoteLocked(voteOpKey(msg.Vote.ID, ev.UserID), voteEventKey(ev))
			}
		})
		return
	}

	convID := entry.msg.ConversationID
	changed := e.applyVoteEventLocked(entry.msg, ev)
	if changed {
		e.touchLastMessageLocked(entry.msg, "")
	}
	e.mu.Unlock()

	if changed {
		e.applied(domain.EventVoteUpdated)
		e.notify(Change{Kind: MessagesChanged, ConversationID: convID})
	}
}

func voteEventKey(ev domain.VoteEvent) string {
	if ev.EventID != "" {
		return ev.EventID
	}
	return fmt.Sprintf("%s|%d|%d", ev.UserID, ev.OptionIndex, ev.ServerTime.UnixNano())
}

func (e *Engine) applyVoteEventLocked(msg *domain.Message, ev domain.VoteEvent) bool {
	vote := msg.Vote
	voteID := vote.ID
	if voteID == "" {
		voteID = ev.VoteID
	}
	pollUser := voteOpKey(voteID, ev.UserID)
	key := voteEventKey(ev)

	if ev.UserID == e.self {
		if op, ok := e.ops[pollUser]; ok && (ev.EventID != "" && op.eventID == ev.EventID || ev.EventID == "" && op.option == ev.OptionIndex) {
			setVoteSelection(vote, e.self, op.selected)
			delete(e.ops, pollUser)
			e.recordVoteLocked(pollUser, key)
			return true
		}
	}

	if e.appliedVotes[pollUser].has(key) {
		e.logger.Debug("Skipping duplicate vote event", zap.String("vote_id", voteID), zap.String("key", key))
		return false
	}
	if !applyVote(vote, ev.UserID, ev.OptionIndex) {
		e.logger.Warn("Vote event option out of range",
			zap.String("vote_id", voteID),
			zap.Int("option", ev.OptionIndex),
			zap.Int("options", len(vote.Options)),
		)
		return false
	}
	e.recordVoteLocked(pollUser, key)

	if op, ok := e.ops[pollUser]; ok && ev.UserID == e.self {
		e.applyOpLocked(op, msg)
	}
	return true
}

func (e *Engine) recordVoteLocked(pollUser, key string) {
	keys, ok := e.appliedVotes[pollUser]
	if !ok {
		keys = newVoteKeys()
		e.appliedVotes[pollUser] = keys
	}
	keys.add(key)
}

// selfHealMessage re-fetches what an event referenced but the view lacks. An unknown
// conversation is fetched whole; a message is fetched only once its conversation's
// messages are held locally, since a later page load brings it in anyway.
func (e *Engine) selfHealMessage(conversationID, messageID string, after func(msg *domain.Message)) {
	e.mu.Lock()
	_, knownConv := e.conversations[conversationID]
	_, held := e.messages[conversationID]
	e.mu.Unlock()

	switch {
	case conversationID != "" && !knownConv:
		e.refetchConversation(conversationID, nil)
	case conversationID != "" && held:
		e.refetchMessage(conversationID, messageID, after)
	default:
		e.logger.Debug("Ignoring event for message not held locally",
			zap.String("conversation_id", conversationID),
			zap.String("message_id", messageID),
		)
	}
}

// HandleParticipantsAdded unions the new members into the conversation
func (e *Engine) HandleParticipantsAdded(ev domain.ParticipantsEvent) {
	add := func(conv *domain.Conversation) {
		addParticipants(conv, ev.UserIDs, ev.Participants)
	}

	if !e.updateConversation(ev.ConversationID, add) {
		e.refetchConversation(ev.ConversationID, add)
	}
	e.applied(domain.EventParticipantAdded)
}

// HandleParticipantsRemoved removes members. When the current user is removed the
// conversation leaves the view.
func (e *Engine) HandleParticipantsRemoved(ev domain.ParticipantsEvent) {
	ids := append([]string(nil), ev.UserIDs...)
	for _, p := range ev.Participants {
		ids = append(ids, p.UserID)
	}

	e.mu.Lock()
	if !e.signedInLocked() {
		e.mu.Unlock()
		return
	}
	if domain.ContainsString(ids, e.self) {
		e.dropConversationLocked(ev.ConversationID)
		e.mu.Unlock()

		e.logger.Info("Removed from conversation", zap.String("conversation_id", ev.ConversationID))
		e.applied(domain.EventParticipantRemoved)
		e.notify(Change{Kind: ConversationsChanged, ConversationID: ev.ConversationID})
		return
	}
	e.mu.Unlock()

	remove := func(conv *domain.Conversation) {
		removeParticipants(conv, ids)
	}
	if !e.updateConversation(ev.ConversationID, remove) {
		e.refetchConversation(ev.ConversationID, remove)
	}
	e.applied(domain.EventParticipantRemoved)
}

// HandleConversationRenamed applies a new name unless a newer update already landed
func (e *Engine) HandleConversationRenamed(ev domain.ConversationEvent) {
	incoming := ev.Conversation
	stamp := incoming.UpdatedAt
	if stamp.IsZero() {
		stamp = ev.ServerTime
	}

	rename := func(conv *domain.Conversation) {
		if !stamp.IsZero() && stamp.Before(conv.UpdatedAt) {
			e.logger.Debug("Ignoring stale rename", zap.String("conversation_id", conv.ID))
			return
		}
		conv.Name = incoming.Name
		if stamp.After(conv.UpdatedAt) {
			conv.UpdatedAt = stamp
		}
	}

	if !e.updateConversation(incoming.ID, rename) {
		e.refetchConversation(incoming.ID, nil)
	}
	e.applied(domain.EventConversationRenamed)
}

// HandleConversationUpdated merges pushed conversation fields
func (e *Engine) HandleConversationUpdated(ev domain.ConversationEvent) {
	e.mu.Lock()
	if !e.signedInLocked() {
		e.mu.Unlock()
		return
	}
	_, known := e.conversations[ev.Conversation.ID]
	if known {
		e.putConversationLocked(&ev.Conversation, ev.ServerTime)
	}
	e.mu.Unlock()

	if !known {
		e.refetchConversation(ev.Conversation.ID, nil)
		return
	}
	e.applied(domain.EventConversationUpdated)
	e.notify(Change{Kind: ConversationsChanged, ConversationID: ev.Conversation.ID})
}

// HandleConversationCreated inserts a conversation the current user was added to
func (e *Engine) HandleConversationCreated(ev domain.ConversationEvent) {
	if ev.Conversation.ID == "" {
		return
	}

	e.mu.Lock()
	if !e.signedInLocked() {
		e.mu.Unlock()
		return
	}
	e.putConversationLocked(&ev.Conversation, ev.ServerTime)
	e.mu.Unlock()

	e.applied(domain.EventConversationCreated)
	e.notify(Change{Kind: ConversationsChanged, ConversationID: ev.Conversation.ID})
}

// updateConversation runs fn on a held conversation. It reports false when the
// conversation is unknown so the caller can self-heal.
func (e *Engine) updateConversation(id string, fn func(conv *domain.Conversation)) bool {
	if id == "" {
		return true
	}

	e.mu.Lock()
	if !e.signedInLocked() {
		e.mu.Unlock()
		return true
	}
	entry, ok := e.conversations[id]
	if ok {
		fn(entry.conv)
		e.seq++
		entry.seq = e.seq
	}
	e.mu.Unlock()

	if ok {
		e.notify(Change{Kind: ConversationsChanged, ConversationID: id})
	}
	return ok
}
