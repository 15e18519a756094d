package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationUserType distinguishes who a log entry belongs to.
type NotificationUserType string

const (
	NotificationUserTeacher NotificationUserType = "teacher"
	NotificationUserStudent NotificationUserType = "student"
)

// NotificationStatus tracks delivery outcome for notification entries.
type NotificationStatus string

const (
	NotificationStatusSuccess NotificationStatus = "success"
	NotificationStatusFailed  NotificationStatus = "failed"
	NotificationStatusPending NotificationStatus = "pending"
)

// NotificationLog is an append-only record of a dispatched notification.
// Only read_at is ever mutated after insert.
type NotificationLog struct {
	ID        string               `db:"id" json:"id"`
	UserType  NotificationUserType `db:"user_type" json:"user_type"`
	UserID    string               `db:"user_id" json:"user_id"`
	Type      string               `db:"type" json:"type"`
	Title     string               `db:"title" json:"title"`
	Message   string               `db:"message" json:"message"`
	Metadata  NotificationMeta     `db:"metadata" json:"metadata"`
	Status    NotificationStatus   `db:"status" json:"status"`
	ReadAt    *time.Time           `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
}

// NotificationMeta carries structured context persisted as JSONB, enough to
// retry a failed delivery by hand.
type NotificationMeta map[string]string

// Value marshals metadata to JSON for persistence.
func (m NotificationMeta) Value() (driver.Value, error) {
	if m == nil {
		m = NotificationMeta{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal notification metadata: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the metadata map.
func (m *NotificationMeta) Scan(value interface{}) error {
	if value == nil {
		*m = NotificationMeta{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for NotificationMeta", value)
	}
	if len(data) == 0 {
		*m = NotificationMeta{}
		return nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("unmarshal notification metadata: %w", err)
	}
	return nil
}

// NotificationFilter scopes notification listing.
type NotificationFilter struct {
	UserType   NotificationUserType
	UserID     string
	UnreadOnly bool
	Page       int
	PageSize   int
}

// NotificationList bundles a page of notifications with the unread count.
type NotificationList struct {
	Notifications []NotificationLog `json:"notifications"`
	UnreadCount   int               `json:"unread_count"`
}
