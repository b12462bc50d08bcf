package syncengine

import (
	"time"

	"github.com/prperemyshlev/chatsync/internal/domain"
)

// mergeConversation folds incoming into existing and returns the result.
// Scalars follow the newer UpdatedAt (falling back to eventTime, then receipt order),
// participant ids are unioned and LastMessage only moves forward.
func mergeConversation(existing, incoming *domain.Conversation, eventTime time.Time) *domain.Conversation {
	if existing == nil {
		return incoming.Clone()
	}

	merged := existing.Clone()

	stamp := incoming.UpdatedAt
	if stamp.IsZero() {
		stamp = eventTime
	}
	if stamp.IsZero() || !stamp.Before(existing.UpdatedAt) {
		merged.IsGroup = incoming.IsGroup
		if incoming.Name != "" {
			merged.Name = incoming.Name
		}
		if incoming.AvatarURL != "" {
			merged.AvatarURL = incoming.AvatarURL
		}
		merged.Settings = incoming.Settings
		if incoming.PinMessages != nil {
			merged.PinMessages = append([]string(nil), incoming.PinMessages...)
		}
		if len(incoming.ParticipantInfo) > 0 {
			merged.ParticipantInfo = append([]domain.Participant(nil), incoming.ParticipantInfo...)
		}
		if stamp.After(merged.UpdatedAt) {
			merged.UpdatedAt = stamp
		}
	}

	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = incoming.CreatedAt
	}
	merged.ParticipantIDs = domain.UnionStrings(existing.ParticipantIDs, incoming.ParticipantIDs)
	advanceLastMessage(merged, incoming.LastMessage)
	return merged
}

// advanceLastMessage replaces conv.LastMessage only with a strictly later message
// (or a newer copy of the same message)
func advanceLastMessage(conv *domain.Conversation, msg *domain.Message) {
	if msg == nil {
		return
	}
	last := conv.LastMessage
	switch {
	case last == nil,
		msg.SentAt.After(last.SentAt),
		msg.SentAt.Equal(last.SentAt) && (msg.Key() == last.Key() || msg.ClientID != "" && msg.ClientID == last.ClientID):
		conv.LastMessage = msg.Clone()
	}
}

// addParticipants unions ids and appends unknown participant info in server order
func addParticipants(conv *domain.Conversation, ids []string, info []domain.Participant) {
	ids = append([]string(nil), ids...)
	for _, p := range info {
		ids = append(ids, p.UserID)
	}
	conv.ParticipantIDs = domain.UnionStrings(conv.ParticipantIDs, ids)

	for _, p := range info {
		known := false
		for i := range conv.ParticipantInfo {
			if conv.ParticipantInfo[i].UserID == p.UserID {
				conv.ParticipantInfo[i] = p
				known = true
				break
			}
		}
		if !known {
			conv.ParticipantInfo = append(conv.ParticipantInfo, p)
		}
	}
}

// removeParticipants drops ids from both the id set and the info list
func removeParticipants(conv *domain.Conversation, ids []string) {
	conv.ParticipantIDs = domain.RemoveStrings(conv.ParticipantIDs, ids...)

	kept := conv.ParticipantInfo[:0]
	for _, p := range conv.ParticipantInfo {
		if !domain.ContainsString(ids, p.UserID) {
			kept = append(kept, p)
		}
	}
	conv.ParticipantInfo = kept
}

// mergeMessage folds incoming into existing. ReadBy is always a union; other fields
// are taken from incoming unless its ReadBy is a strict subset of ours, which marks it stale.
func mergeMessage(existing, incoming *domain.Message) *domain.Message {
	if existing == nil {
		out := incoming.Clone()
		out.ReadBy = domain.UnionStrings(nil, out.ReadBy)
		return out
	}

	readBy := domain.UnionStrings(existing.ReadBy, incoming.ReadBy)
	if domain.IsStrictSubset(incoming.ReadBy, existing.ReadBy) {
		out := existing.Clone()
		out.ReadBy = readBy
		if out.ID == "" {
			out.ID = incoming.ID
		}
		return out
	}

	out := incoming.Clone()
	out.ReadBy = readBy
	if out.ClientID == "" {
		out.ClientID = existing.ClientID
	}
	if out.Reactions == nil {
		out.Reactions = append([]domain.Reaction(nil), existing.Reactions...)
	}
	if out.Vote == nil {
		out.Vote = existing.Vote.Clone()
	}
	return out
}

// setReaction makes r the only current reaction of r.UserID on msg
func setReaction(msg *domain.Message, r domain.Reaction) {
	clearReaction(msg, r.UserID)
	msg.Reactions = append(msg.Reactions, r)
}

// clearReaction removes any reaction of userID from msg
func clearReaction(msg *domain.Message, userID string) {
	kept := make([]domain.Reaction, 0, len(msg.Reactions))
	for _, r := range msg.Reactions {
		if r.UserID != userID {
			kept = append(kept, r)
		}
	}
	msg.Reactions = kept
}

// applyVote records a vote of userID for option. Single-choice polls move the user;
// multiple-choice polls toggle the user in the option. Returns false for a bad index.
func applyVote(v *domain.Vote, userID string, option int) bool {
	if v == nil || option < 0 || option >= len(v.Options) {
		return false
	}

	if !v.Multiple {
		for i := range v.Options {
			v.Options[i].Voters = domain.RemoveStrings(v.Options[i].Voters, userID)
		}
		v.Options[option].Voters = append(v.Options[option].Voters, userID)
		return true
	}

	opt := &v.Options[option]
	if domain.ContainsString(opt.Voters, userID) {
		opt.Voters = domain.RemoveStrings(opt.Voters, userID)
	} else {
		opt.Voters = append(opt.Voters, userID)
	}
	return true
}

// setVoteSelection forces userID's membership to exactly selected (option index set)
func setVoteSelection(v *domain.Vote, userID string, selected []int) {
	if v == nil {
		return
	}
	for i := range v.Options {
		want := false
		for _, s := range selected {
			if s == i {
				want = true
				break
			}
		}
		has := domain.ContainsString(v.Options[i].Voters, userID)
		switch {
		case want && !has:
			v.Options[i].Voters = append(v.Options[i].Voters, userID)
		case !want && has:
			v.Options[i].Voters = domain.RemoveStrings(v.Options[i].Voters, userID)
		}
	}
}

// replaceMessage takes a server page record as the new base. Only ReadBy is unioned,
// so reactions and votes the server no longer reports are dropped.
func replaceMessage(existing, incoming *domain.Message) *domain.Message {
	if existing == nil {
		return mergeMessage(nil, incoming)
	}
	if domain.IsStrictSubset(incoming.ReadBy, existing.ReadBy) {
		return mergeMessage(existing, incoming)
	}

	out := incoming.Clone()
	out.ReadBy = domain.UnionStrings(existing.ReadBy, incoming.ReadBy)
	if out.ClientID == "" {
		out.ClientID = existing.ClientID
	}
	return out
}
