package domain

import (
	"sort"
	"time"
)

// MessageType classifies message content
type MessageType string

const (
	// MessageTypeText plain text message
	MessageTypeText MessageType = "text"
	// MessageTypeImage image attachment
	MessageTypeImage MessageType = "image"
	// MessageTypeFile file attachment
	MessageTypeFile MessageType = "file"
	// MessageTypeVote message carrying a poll
	MessageTypeVote MessageType = "vote"
	// MessageTypeSystem server generated notice
	MessageTypeSystem MessageType = "system"
)

// Message represents a chat message
type Message struct {
	ID             string      `json:"id"`
	ClientID       string      `json:"clientId,omitempty"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	RepliedToID    *string     `json:"repliedToId,omitempty"`
	SentAt         time.Time   `json:"sentAt"`
	ReadBy         []string    `json:"readBy"`
	Reactions      []Reaction  `json:"reactions,omitempty"`
	Vote           *Vote       `json:"vote,omitempty"`
}

// Reaction is a single emoji reaction of a user on a message.
// At most one reaction per (MessageID, UserID) is current.
type Reaction struct {
	ID        string    `json:"id,omitempty"`
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// VoteOption is one answer of a poll together with its voters
type VoteOption struct {
	Text   string   `json:"text"`
	Voters []string `json:"voters"`
}

// Vote is a poll attached to a message
type Vote struct {
	ID             string       `json:"id"`
	MessageID      string       `json:"messageId,omitempty"`
	ConversationID string       `json:"conversationId"`
	CreatedBy      string       `json:"createdBy,omitempty"`
	Question       string       `json:"question"`
	Options        []VoteOption `json:"options"`
	Multiple       bool         `json:"multiple"`
}

// Clone returns a deep copy of the message
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	if m.RepliedToID != nil {
		id := *m.RepliedToID
		out.RepliedToID = &id
	}
	out.ReadBy = append([]string(nil), m.ReadBy...)
	out.Reactions = append([]Reaction(nil), m.Reactions...)
	out.Vote = m.Vote.Clone()
	return &out
}

// Key returns the id used to index the message locally
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.ClientID
}

// ReactionOf returns the current reaction of userID, if any
func (m *Message) ReactionOf(userID string) (Reaction, bool) {
	for _, r := range m.Reactions {
		if r.UserID == userID {
			return r, true
		}
	}
	return Reaction{}, false
}

// Clone returns a deep copy of the poll
func (v *Vote) Clone() *Vote {
	if v == nil {
		return nil
	}
	out := *v
	out.Options = make([]VoteOption, len(v.Options))
	for i, opt := range v.Options {
		out.Options[i] = VoteOption{Text: opt.Text, Voters: append([]string(nil), opt.Voters...)}
	}
	return &out
}

// OptionsOf returns the option indexes userID voted for
func (v *Vote) OptionsOf(userID string) []int {
	var idx []int
	for i, opt := range v.Options {
		if ContainsString(opt.Voters, userID) {
			idx = append(idx, i)
		}
	}
	return idx
}

// SortMessages orders messages by SentAt, then by key for ties
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].Key() < msgs[j].Key()
		}
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
}
