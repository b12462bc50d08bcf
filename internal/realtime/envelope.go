package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/prperemyshlev/chatsync/internal/domain"
)

// Envelope is the frame exchanged over the realtime transport
type Envelope struct {
	Type    domain.Event    `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode builds a frame for event with payload marshaled as JSON
func Encode(event domain.Event, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Type: event, Payload: raw})
}

// Decode parses a frame
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("frame has no type")
	}
	return env, nil
}
