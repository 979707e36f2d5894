package v1

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ChangeEvent is the typed command handed to the ingestion handler after the
// raw CDC message has passed the envelope predicate.
type ChangeEvent struct {
	// PrimaryID is the subject's natural-key identifier as it appears in the
	// legacy system ("after.SUBJECT_ID" in the CDC envelope).
	PrimaryID string

	// SourceEventID is the change identifier assigned by the CDC source
	// ("after.CHANGE_ID"). Used for dedup on redelivery.
	SourceEventID int64

	// SourceTable names the legacy table the change originated from.
	// Carried only for metrics labels.
	SourceTable string

	// Payload is the raw inbound message. Opaque to the rest of the system;
	// persisted verbatim on the change record.
	Payload json.RawMessage

	// ReceivedAt is when the consumer picked the message up (server clock).
	ReceivedAt time.Time
}

// Validate ensures the event carries everything ingestion needs.
func (e *ChangeEvent) Validate() error {
	if e.PrimaryID == "" {
		return fmt.Errorf("primary_id is required")
	}
	if e.SourceEventID <= 0 {
		return fmt.Errorf("source_event_id must be positive")
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return nil
}

// ParseChangeEvent maps a raw CDC message onto a ChangeEvent.
// The legacy feed pads fixed-width columns with spaces and sometimes emits
// numeric columns as strings, so both identifier fields are trimmed and the
// change id accepts either JSON number or numeric string.
func ParseChangeEvent(raw []byte) (*ChangeEvent, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid change message: %w", err)
	}

	primaryID, ok := lookupString(doc, "after.SUBJECT_ID")
	if !ok {
		return nil, fmt.Errorf("missing after.SUBJECT_ID")
	}

	sourceEventID, ok := lookupInt64(doc, "after.CHANGE_ID")
	if !ok {
		return nil, fmt.Errorf("missing or non-numeric after.CHANGE_ID")
	}

	sourceTable, _ := lookupString(doc, "after.TABLE_NAME")

	evt := &ChangeEvent{
		PrimaryID:     primaryID,
		SourceEventID: sourceEventID,
		SourceTable:   sourceTable,
		Payload:       append(json.RawMessage(nil), raw...),
		ReceivedAt:    time.Now().UTC(),
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return evt, nil
}

func lookupString(doc map[string]interface{}, path string) (string, bool) {
	value, ok := lookup(doc, path)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func lookupInt64(doc map[string]interface{}, path string) (int64, bool) {
	value, ok := lookup(doc, path)
	if !ok {
		return 0, false
	}
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
