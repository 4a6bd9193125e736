// Package realtime carries row-level change notifications between server
// instances over redis pub/sub and reconciles them into the local state
// projection. Delivery may be duplicated or out of order; the merge is
// idempotent by record id.
package realtime

// EventType classifies a row-level change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is the wire payload published after a confirmed write.
// New carries the changed fields (full row for INSERT), Old carries at
// least the id for DELETE.
type ChangeEvent struct {
	Type  EventType              `json:"eventType"`
	Table string                 `json:"table"`
	OrgID string                 `json:"org_id"`
	New   map[string]interface{} `json:"new,omitempty"`
	Old   map[string]interface{} `json:"old,omitempty"`
}

// RecordID extracts the row id the event refers to.
func (e ChangeEvent) RecordID() string {
	if id, ok := stringField(e.New, "id"); ok {
		return id
	}
	if id, ok := stringField(e.Old, "id"); ok {
		return id
	}
	return ""
}

func stringField(m map[string]interface{}, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
