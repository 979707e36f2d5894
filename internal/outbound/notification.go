package outbound

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventName identifies consolidated change notifications on the outbound
// stream.
const EventName = "subject_changed"

// Notification is the consolidated message published once per settled burst.
// It is serialized and persisted on the claimed change record before any
// transport hand-off.
type Notification struct {
	EventName      string    `json:"event_name"`
	EventID        string    `json:"event_id"`
	CreatedAt      time.Time `json:"created_at"`
	PrimaryID      string    `json:"primary_id"`
	SecondaryID    string    `json:"secondary_id,omitempty"`
	ChangeRecordID int64     `json:"change_record_id"`
}

// NewNotification stamps a notification for the claimed burst.
func NewNotification(primaryID, secondaryID string, changeRecordID int64) Notification {
	return Notification{
		EventName:      EventName,
		EventID:        uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		PrimaryID:      primaryID,
		SecondaryID:    secondaryID,
		ChangeRecordID: changeRecordID,
	}
}

// Marshal serializes the notification for persistence and publishing.
func (n Notification) Marshal() ([]byte, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("outbound: marshal notification: %w", err)
	}
	return payload, nil
}
