package domain

import "time"

// Event is a realtime event name
type Event string

// Inbound events pushed by the backend
const (
	// EventMessageReceived a new or edited message
	EventMessageReceived Event = "receive-message"
	// EventMessageRead read receipt update
	EventMessageRead Event = "message-read"
	// EventReactionReceived reaction added or removed
	EventReactionReceived Event = "receive-reaction"
	// EventVoteCreated a poll was created
	EventVoteCreated Event = "receive-vote"
	// EventVoteUpdated a user voted on a poll
	EventVoteUpdated Event = "vote-updated"
	// EventParticipantAdded users joined a conversation
	EventParticipantAdded Event = "participant-added"
	// EventParticipantRemoved users left or were removed
	EventParticipantRemoved Event = "participant-removed"
	// EventConversationRenamed a conversation got a new name
	EventConversationRenamed Event = "conversation-renamed"
	// EventConversationUpdated conversation scalar fields changed
	EventConversationUpdated Event = "conversation-updated"
	// EventConversationCreated the user was added to a new conversation
	EventConversationCreated Event = "new-conversation"
)

// Outbound events emitted by the client
const (
	// EventSendMessage send a message
	EventSendMessage Event = "send-message"
	// EventReadMessage mark messages as read
	EventReadMessage Event = "read-message"
	// EventReact toggle a reaction
	EventReact Event = "react"
	// EventCreateVote create a poll
	EventCreateVote Event = "create-vote"
	// EventSubmitVote vote on a poll option
	EventSubmitVote Event = "submit-vote"
)

// MessageEvent carries a message push
type MessageEvent struct {
	EventID    string    `json:"eventId,omitempty"`
	Message    Message   `json:"message"`
	ServerTime time.Time `json:"serverTime"`
}

// ReadEvent carries a read receipt
type ReadEvent struct {
	EventID        string    `json:"eventId,omitempty"`
	ConversationID string    `json:"conversationId"`
	MessageIDs     []string  `json:"messageIds"`
	UserID         string    `json:"userId"`
	ServerTime     time.Time `json:"serverTime"`
}

// ReactionEvent carries a reaction change. Removed=true clears the user's reaction.
type ReactionEvent struct {
	EventID        string    `json:"eventId,omitempty"`
	ConversationID string    `json:"conversationId"`
	Reaction       Reaction  `json:"reaction"`
	Removed        bool      `json:"removed"`
	ServerTime     time.Time `json:"serverTime"`
}

// VoteEvent carries a single vote cast on a poll option
type VoteEvent struct {
	EventID        string    `json:"eventId,omitempty"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	VoteID         string    `json:"voteId"`
	UserID         string    `json:"userId"`
	OptionIndex    int       `json:"optionIndex"`
	ServerTime     time.Time `json:"serverTime"`
}

// ParticipantsEvent carries participants joining or leaving
type ParticipantsEvent struct {
	EventID        string        `json:"eventId,omitempty"`
	ConversationID string        `json:"conversationId"`
	UserIDs        []string      `json:"userIds"`
	Participants   []Participant `json:"participants,omitempty"`
	ServerTime     time.Time     `json:"serverTime"`
}

// ConversationEvent carries a conversation push (rename, update, creation)
type ConversationEvent struct {
	EventID      string       `json:"eventId,omitempty"`
	Conversation Conversation `json:"conversation"`
	ServerTime   time.Time    `json:"serverTime"`
}

// SendMessagePayload is emitted with EventSendMessage
type SendMessagePayload struct {
	ClientID       string      `json:"clientId"`
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	RepliedToID    *string     `json:"repliedToId,omitempty"`
}

// ReadMessagePayload is emitted with EventReadMessage
type ReadMessagePayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// ReactPayload is emitted with EventReact
type ReactPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Emoji          string `json:"emoji"`
}

// CreateVotePayload is emitted with EventCreateVote
type CreateVotePayload struct {
	ClientID       string   `json:"clientId"`
	ConversationID string   `json:"conversationId"`
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	Multiple       bool     `json:"multiple"`
}

// SubmitVotePayload is emitted with EventSubmitVote
type SubmitVotePayload struct {
	EventID        string `json:"eventId"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	VoteID         string `json:"voteId"`
	OptionIndex    int    `json:"optionIndex"`
}
