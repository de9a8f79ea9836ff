package model

import (
	"encoding/json"
	"fmt"
)

// MessageStatus is the delivery state of a message. Transitions are
// SENDING -> DELIVERED -> READ, with UNKNOWN as the zero placeholder for
// messages that never entered the send path. Status updates apply
// last-write-wins; out-of-order updates are a documented gap, not defended
// against.
type MessageStatus int

const (
	StatusUnknown MessageStatus = iota
	StatusSending
	StatusDelivered
	StatusRead
)

var statusNames = map[MessageStatus]string{
	StatusUnknown:   "unknown",
	StatusSending:   "sending",
	StatusDelivered: "delivered",
	StatusRead:      "read",
}

func (s MessageStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s MessageStatus) MarshalJSON() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid message status %d", int(s))
	}
	return json.Marshal(name)
}

func (s *MessageStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for status, n := range statusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown message status %q", name)
}
