package syncengine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/prperemyshlev/chatsync/internal/domain"
	"github.com/prperemyshlev/chatsync/internal/dto"
	"go.uber.org/zap"
)

const minVoteOptions = 2

var (
	errEmptyContent    = errors.New("message content is required")
	errUnconfirmed     = errors.New("message is not confirmed yet")
	errNoPoll          = errors.New("message has no poll")
	errOptionRange     = errors.New("vote option out of range")
	errEmptyEmoji      = errors.New("emoji is required")
	errInvalidQuestion = errors.New("poll needs a question and at least two options")
)

// SendMessage adds a pending message and emits it. The message stays pending until
// the server echoes it back with the same client id.
func (e *Engine) SendMessage(ctx context.Context, req dto.SendMessageRequest) dto.Result[Tracked[*domain.Message]] {
	return dto.Guard(e.logger, "send_message", func() dto.Result[Tracked[*domain.Message]] {
		content := strings.TrimSpace(req.Content)
		if content == "" {
			return badRequest[Tracked[*domain.Message]](errEmptyContent)
		}
		msgType := req.Type
		if msgType == "" {
			msgType = domain.MessageTypeText
		}
		if msgType == domain.MessageTypeVote || msgType == domain.MessageTypeSystem {
			return dto.Fail[Tracked[*domain.Message]](dto.ErrCodeBadRequest, "unsupported message type "+string(msgType))
		}

		e.mu.Lock()
		if err := e.checkConversationLocked(req.ConversationID); err != nil {
			e.mu.Unlock()
			return dto.FailFromError[Tracked[*domain.Message]](err)
		}
		if req.RepliedToID != nil && e.loadedMessages[req.ConversationID] {
			if _, ok := e.messages[req.ConversationID][*req.RepliedToID]; !ok {
				e.mu.Unlock()
				return dto.Fail[Tracked[*domain.Message]](dto.ErrCodeNotFound, "replied message not found")
			}
		}

		msg := &domain.Message{
			ClientID:       uuid.NewString(),
			ConversationID: req.ConversationID,
			SenderID:       e.self,
			Content:        content,
			Type:           msgType,
			RepliedToID:    req.RepliedToID,
			SentAt:         e.now(),
			ReadBy:         []string{e.self},
		}
		tracked := e.addPendingLocked(msg)
		e.mu.Unlock()

		e.notify(Change{Kind: MessagesChanged, ConversationID: req.ConversationID}, Change{Kind: ConversationsChanged, ConversationID: req.ConversationID})

		err := e.emitter.Emit(ctx, domain.EventSendMessage, domain.SendMessagePayload{
			ClientID:       msg.ClientID,
			ConversationID: msg.ConversationID,
			Content:        msg.Content,
			Type:           msg.Type,
			RepliedToID:    msg.RepliedToID,
		})
		if err != nil {
			return emitFailed(e.logger, err, tracked)
		}
		return dto.Ok(tracked, "")
	})
}

// MarkRead adds the current user to the read set of the given messages (all unread
// messages from others when none are given) and emits a read receipt.
func (e *Engine) MarkRead(ctx context.Context, conversationID string, messageIDs ...string) dto.Result[[]string] {
	return dto.Guard(e.logger, "mark_read", func() dto.Result[[]string] {
		e.mu.Lock()
		if err := e.checkConversationLocked(conversationID); err != nil {
			e.mu.Unlock()
			return dto.FailFromError[[]string](err)
		}

		local := e.messages[conversationID]
		if len(messageIDs) == 0 {
			for _, entry := range local {
				if entry.msg.ID != "" && entry.msg.SenderID != e.self {
					messageIDs = append(messageIDs, entry.msg.ID)
				}
			}
		}

		var marked []string
		for _, id := range messageIDs {
			entry, ok := local[id]
			if !ok || entry.msg.ID == "" || domain.ContainsString(entry.msg.ReadBy, e.self) {
				continue
			}
			entry.msg.ReadBy = domain.UnionStrings(entry.msg.ReadBy, []string{e.self})
			e.touchLastMessageLocked(entry.msg, "")
			marked = append(marked, id)
		}
		e.mu.Unlock()

		if len(marked) == 0 {
			return dto.Ok[[]string](nil, "nothing to mark")
		}
		e.notify(Change{Kind: MessagesChanged, ConversationID: conversationID})

		err := e.emitter.Emit(ctx, domain.EventReadMessage, domain.ReadMessagePayload{
			ConversationID: conversationID,
			MessageIDs:     marked,
		})
		if err != nil {
			return emitFailed(e.logger, err, marked)
		}
		return dto.Ok(marked, "")
	})
}

// React toggles the current user's reaction on a message. Reacting with the emoji
// already set removes it; any other emoji replaces it.
func (e *Engine) React(ctx context.Context, conversationID, messageID, emoji string) dto.Result[Tracked[*domain.Message]] {
	return dto.Guard(e.logger, "react", func() dto.Result[Tracked[*domain.Message]] {
		if emoji == "" {
			return badRequest[Tracked[*domain.Message]](errEmptyEmoji)
		}

		e.mu.Lock()
		entry, err := e.confirmedMessageLocked(conversationID, messageID)
		if err != nil {
			e.mu.Unlock()
			return failFor[Tracked[*domain.Message]](err)
		}

		current, has := entry.msg.ReactionOf(e.self)
		op := &pendingOp{
			conversationID: conversationID,
			messageID:      messageID,
			status:         Pending,
			submittedAt:    e.now(),
			emoji:          emoji,
			removed:        has && current.Emoji == emoji,
		}
		e.ops[reactionOpKey(messageID, e.self)] = op
		e.applyOpLocked(op, entry.msg)
		e.touchLastMessageLocked(entry.msg, "")
		tracked := e.trackedLocked(entry)
		e.mu.Unlock()

		e.notify(Change{Kind: MessagesChanged, ConversationID: conversationID})

		err = e.emitter.Emit(ctx, domain.EventReact, domain.ReactPayload{
			ConversationID: conversationID,
			MessageID:      messageID,
			Emoji:          emoji,
		})
		if err != nil {
			return emitFailed(e.logger, err, tracked)
		}
		return dto.Ok(tracked, "")
	})
}

// CreateVote adds a pending poll message and emits it
func (e *Engine) CreateVote(ctx context.Context, req dto.CreateVoteRequest) dto.Result[Tracked[*domain.Message]] {
	return dto.Guard(e.logger, "create_vote", func() dto.Result[Tracked[*domain.Message]] {
		question := strings.TrimSpace(req.Question)
		options := make([]domain.VoteOption, 0, len(req.Options))
		texts := make([]string, 0, len(req.Options))
		for _, o := range req.Options {
			if o = strings.TrimSpace(o); o != "" {
				options = append(options, domain.VoteOption{Text: o, Voters: []string{}})
				texts = append(texts, o)
			}
		}
		if question == "" || len(options) < minVoteOptions {
			return badRequest[Tracked[*domain.Message]](errInvalidQuestion)
		}

		e.mu.Lock()
		if err := e.checkConversationLocked(req.ConversationID); err != nil {
			e.mu.Unlock()
			return dto.FailFromError[Tracked[*domain.Message]](err)
		}

		msg := &domain.Message{
			ClientID:       uuid.NewString(),
			ConversationID: req.ConversationID,
			SenderID:       e.self,
			Content:        question,
			Type:           domain.MessageTypeVote,
			SentAt:         e.now(),
			ReadBy:         []string{e.self},
			Vote: &domain.Vote{
				ConversationID: req.ConversationID,
				CreatedBy:      e.self,
				Question:       question,
				Options:        options,
				Multiple:       req.Multiple,
			},
		}
		tracked := e.addPendingLocked(msg)
		e.mu.Unlock()

		e.notify(Change{Kind: MessagesChanged, ConversationID: req.ConversationID}, Change{Kind: ConversationsChanged, ConversationID: req.ConversationID})

		err := e.emitter.Emit(ctx, domain.EventCreateVote, domain.CreateVotePayload{
			ClientID:       msg.ClientID,
			ConversationID: req.ConversationID,
			Question:       question,
			Options:        texts,
			Multiple:       req.Multiple,
		})
		if err != nil {
			return emitFailed(e.logger, err, tracked)
		}
		return dto.Ok(tracked, "")
	})
}

// SubmitVote casts the current user's vote on a poll option. Single-choice polls move
// the vote; multiple-choice polls toggle the option.
func (e *Engine) SubmitVote(ctx context.Context, conversationID, messageID string, option int) dto.Result[Tracked[*domain.Message]] {
	return dto.Guard(e.logger, "submit_vote", func() dto.Result[Tracked[*domain.Message]] {
		e.mu.Lock()
		entry, err := e.confirmedMessageLocked(conversationID, messageID)
		if err != nil {
			e.mu.Unlock()
			return failFor[Tracked[*domain.Message]](err)
		}
		vote := entry.msg.Vote
		if vote == nil || vote.ID == "" {
			e.mu.Unlock()
			return badRequest[Tracked[*domain.Message]](errNoPoll)
		}
		if !applyVote(vote, e.self, option) {
			e.mu.Unlock()
			return badRequest[Tracked[*domain.Message]](errOptionRange)
		}

		op := &pendingOp{
			conversationID: conversationID,
			messageID:      messageID,
			status:         Pending,
			submittedAt:    e.now(),
			voteID:         vote.ID,
			eventID:        uuid.NewString(),
			option:         option,
			selected:       vote.OptionsOf(e.self),
		}
		e.ops[voteOpKey(vote.ID, e.self)] = op
		e.touchLastMessageLocked(entry.msg, "")
		tracked := e.trackedLocked(entry)
		e.mu.Unlock()

		e.notify(Change{Kind: MessagesChanged, ConversationID: conversationID})

		err = e.emitter.Emit(ctx, domain.EventSubmitVote, domain.SubmitVotePayload{
			EventID:        op.eventID,
			ConversationID: conversationID,
			MessageID:      messageID,
			VoteID:         vote.ID,
			OptionIndex:    option,
		})
		if err != nil {
			return emitFailed(e.logger, err, tracked)
		}
		return dto.Ok(tracked, "")
	})
}

func (e *Engine) checkConversationLocked(conversationID string) error {
	if e.self == "" {
		return domain.ErrNotAuthenticated
	}
	if _, ok := e.conversations[conversationID]; !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (e *Engine) confirmedMessageLocked(conversationID, messageID string) (*messageEntry, error) {
	if err := e.checkConversationLocked(conversationID); err != nil {
		return nil, err
	}
	entry, ok := e.messages[conversationID][messageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if entry.msg.ID == "" {
		return nil, errUnconfirmed
	}
	return entry, nil
}

func (e *Engine) addPendingLocked(msg *domain.Message) Tracked[*domain.Message] {
	entry := &messageEntry{msg: msg, status: Pending, submittedAt: msg.SentAt}
	e.messagesLocked(msg.ConversationID)[msg.ClientID] = entry
	e.touchLastMessageLocked(msg, "")
	e.seq++
	e.conversations[msg.ConversationID].seq = e.seq
	return e.trackedLocked(entry)
}

// emitFailed reports an emit failure while keeping the optimistic state in place;
// the janitor flags it once the echo timeout passes.
func emitFailed[T any](logger *zap.Logger, err error, data T) dto.Result[T] {
	logger.Warn("Failed to emit realtime event", zap.Error(err))
	res := dto.FailFromError[T](err)
	res.Data = data
	return res
}

func badRequest[T any](err error) dto.Result[T] {
	return dto.Fail[T](dto.ErrCodeBadRequest, err.Error())
}

// failFor maps engine validation errors to bad requests and everything else by sentinel
func failFor[T any](err error) dto.Result[T] {
	if errors.Is(err, errUnconfirmed) {
		return badRequest[T](err)
	}
	return dto.FailFromError[T](err)
}
