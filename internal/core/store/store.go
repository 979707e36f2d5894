package store

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateChange is returned when a change with the same
// (subject, source_event_id) already exists. The inbound CDC feed is
// at-least-once, so callers treat this as a redelivery, not a failure.
var ErrDuplicateChange = errors.New("change already recorded for source event")

// DueGranularity is the fixed rounding applied to due times. Changes that
// arrive close together land on the same due minute, so concurrent
// extensions converge on one claimable instant per burst.
const DueGranularity = time.Minute

// DueTime computes the due timestamp for a change observed at now.
func DueTime(now time.Time, window time.Duration) time.Time {
	return now.Add(window).Truncate(DueGranularity)
}

// DueSubject is one subject whose whole unsent burst has settled.
// LatestRecordID is the watermark: every unsent record with id at or below
// it belongs to the claimed burst.
type DueSubject struct {
	SubjectID      int64
	PrimaryID      string
	SecondaryID    string
	LatestRecordID int64
}

// Settled is a committed claim: the notification payload is durably stored
// on RecordID and ready to be handed to the transport, keyed by PrimaryID.
type Settled struct {
	RecordID  int64
	PrimaryID string
	Outgoing  []byte
}

// ChangeStore owns the subjects and change_records tables. All mutation runs
// inside its transactions; ingestion and the pulse scheduler never touch the
// rows directly.
//
// Implementations must uphold at-most-one-claim: under concurrent
// ClaimAndSettle calls, each due subject is settled by exactly one caller.
// The Postgres adapter does this with row locks and a zero-rows-affected
// guard; alternative engines may use other primitives as long as the
// contract holds.
type ChangeStore interface {
	// UpsertSubject inserts or updates the subject by primary id.
	// A non-nil secondaryID overwrites the stored value (last write wins);
	// nil leaves it untouched. Race-safe under concurrent callers.
	UpsertSubject(ctx context.Context, primaryID string, secondaryID *string) (int64, error)

	// RecordChange inserts a change record due at DueTime(now, window).
	// Returns ErrDuplicateChange when the source event was already recorded.
	RecordChange(ctx context.Context, subjectID, sourceEventID int64, payload []byte, window time.Duration) (int64, error)

	// ExtendDueTime pushes the due time of every unsent record of the
	// subject to DueTime(now, window). Called on every incoming change, so a
	// subject with continuous activity never becomes due.
	ExtendDueTime(ctx context.Context, subjectID int64, window time.Duration) error

	// ClaimAndSettle runs one claim transaction: it selects up to limit
	// subjects whose unsent records are all due at now (gated on the
	// latest record's due time), builds the outgoing payload for each,
	// marks the burst sent and persists the payload on the watermark
	// record. Subjects already settled by a concurrent claimer are skipped.
	// The returned batch is only safe to publish because the transaction
	// has committed.
	ClaimAndSettle(ctx context.Context, now time.Time, limit int, build func(DueSubject) ([]byte, error)) ([]Settled, error)

	// UnackedOutgoing returns settled records whose payload was persisted
	// but never acknowledged by the transport, sent before olderThan.
	// Feeds the re-delivery sweep for the publish-after-commit gap.
	UnackedOutgoing(ctx context.Context, olderThan time.Time, limit int) ([]Settled, error)

	// MarkDelivered records the transport acknowledgment for a record.
	// Idempotent: a second call is a no-op.
	MarkDelivered(ctx context.Context, recordID int64) error
}
