package domain

import "time"

// Participant is the server-ordered display info for a conversation member
type Participant struct {
	UserID    string `json:"userId"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Role      string `json:"role,omitempty"`
}

// ConversationSettings holds per-user conversation preferences
type ConversationSettings struct {
	IsMuted  bool   `json:"isMuted"`
	IsPinned bool   `json:"isPinned"`
	Theme    string `json:"theme,omitempty"`
}

// Conversation represents a direct or group chat
type Conversation struct {
	ID              string               `json:"id"`
	IsGroup         bool                 `json:"isGroup"`
	Name            string               `json:"name,omitempty"`
	AvatarURL       string               `json:"avatarUrl,omitempty"`
	ParticipantIDs  []string             `json:"participantIds"`
	ParticipantInfo []Participant        `json:"participantInfo,omitempty"`
	Settings        ConversationSettings `json:"settings"`
	LastMessage     *Message             `json:"lastMessage,omitempty"`
	PinMessages     []string             `json:"pinMessages,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

// Clone returns a deep copy of the conversation
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	out.ParticipantInfo = append([]Participant(nil), c.ParticipantInfo...)
	out.PinMessages = append([]string(nil), c.PinMessages...)
	out.LastMessage = c.LastMessage.Clone()
	return &out
}

// LastActivity is the time used to order conversation lists
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessage != nil && c.LastMessage.SentAt.After(c.UpdatedAt) {
		return c.LastMessage.SentAt
	}
	return c.UpdatedAt
}

// HasParticipant reports whether userID is a member
func (c *Conversation) HasParticipant(userID string) bool {
	return ContainsString(c.ParticipantIDs, userID)
}
