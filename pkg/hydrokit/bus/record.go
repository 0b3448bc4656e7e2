package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the task type bus records travel under.
const Kind = "bus"

// Record is the replication envelope stored in the task queue.
type Record struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	SenderID  int             `json:"senderId"`
	Fanout    int             `json:"fanout"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Decode converts a listener payload to T. Local deliveries carry the
// publisher's value and are returned as-is when already a T; replicas arrive
// as JSON-decoded values and are converted through JSON.
func Decode[T any](payload any) (T, error) {
	var out T
	if v, ok := payload.(T); ok {
		return v, nil
	}

	var data []byte
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return out, fmt.Errorf("bus: re-encode payload: %w", err)
		}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("bus: decode payload as %T: %w", out, err)
	}
	return out, nil
}
