package syncengine

import "time"

// Status tags locally held entities with their reconciliation state
type Status int

const (
	// Confirmed entities match what the server last reported
	Confirmed Status = iota
	// Pending entities carry an optimistic change awaiting the server echo
	Pending
	// TimedOut entities never saw their echo; they stay until an authoritative fetch supersedes them
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case Pending:
		return "pending"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Tracked is an immutable snapshot of an entity and its reconciliation state
type Tracked[T any] struct {
	Data        T         `json:"data"`
	Status      Status    `json:"status"`
	SubmittedAt time.Time `json:"submittedAt,omitempty"`
}

// pendingOp is an optimistic reaction or vote awaiting its echo.
// It stores the desired end state, so re-applying it is idempotent.
type pendingOp struct {
	conversationID string
	messageID      string
	status         Status
	submittedAt    time.Time

	// reaction ops
	emoji   string
	removed bool

	// vote ops
	voteID   string
	eventID  string
	option   int
	selected []int
}

func (op *pendingOp) worse(s Status) Status {
	if op.status > s {
		return op.status
	}
	return s
}

func reactionOpKey(messageID, userID string) string {
	return "reaction|" + messageID + "|" + userID
}

func voteOpKey(voteID, userID string) string {
	return "vote|" + voteID + "|" + userID
}

// maxVoteKeys bounds how many applied vote-event keys are remembered per user and poll
const maxVoteKeys = 64

// voteKeys is the bounded set of vote-event keys already applied for one user and poll.
// The oldest key is forgotten first.
type voteKeys struct {
	order []string
	seen  map[string]struct{}
}

func newVoteKeys() *voteKeys {
	return &voteKeys{seen: make(map[string]struct{})}
}

func (k *voteKeys) has(key string) bool {
	if k == nil {
		return false
	}
	_, ok := k.seen[key]
	return ok
}

func (k *voteKeys) add(key string) {
	if k.has(key) {
		return
	}
	k.order = append(k.order, key)
	k.seen[key] = struct{}{}
	if len(k.order) > maxVoteKeys {
		delete(k.seen, k.order[0])
		k.order = k.order[1:]
	}
}
