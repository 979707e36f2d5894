package postgres

// SQL for the change store. Claim and settle statements run inside one
// transaction; the rest run against prepared statements.

const (
	// queryUpsertSubject inserts or updates the subject by primary_id.
	// COALESCE keeps the stored secondary_id when the caller passes NULL,
	// and overwrites it (last write wins) otherwise. Conflict resolution
	// happens at the storage layer, so concurrent upserts for the same
	// primary_id cannot race.
	queryUpsertSubject = `
		INSERT INTO subjects (primary_id, secondary_id)
		VALUES ($1, $2)
		ON CONFLICT (primary_id) DO UPDATE
		SET secondary_id = COALESCE(EXCLUDED.secondary_id, subjects.secondary_id)
		RETURNING id
	`

	// queryInsertChange records one change. ON CONFLICT DO NOTHING returns
	// no rows (sql.ErrNoRows) when the source event was already recorded.
	queryInsertChange = `
		INSERT INTO change_records (subject_id, source_event_id, payload, due_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject_id, source_event_id) DO NOTHING
		RETURNING id
	`

	// queryExtendDueTime pushes the due time of the subject's whole unsent
	// burst forward. The sent_at IS NULL guard keeps it off records a
	// concurrent claimer has settled; if the claimer still holds its row
	// locks the extension simply serializes behind the claim transaction.
	queryExtendDueTime = `
		UPDATE change_records
		SET due_at = $2
		WHERE subject_id = $1 AND sent_at IS NULL
	`

	// queryClaimDueSubjects selects subjects whose unsent burst has fully
	// settled: the gate is the burst's latest due time, so a subject with a
	// freshly extended record is not claimable even if older records are
	// past due. MAX(id) is the claim watermark. SKIP LOCKED makes a
	// concurrent claimer skip, not block, so overlapping pulses cannot
	// double-claim.
	queryClaimDueSubjects = `
		WITH due AS (
			SELECT c.subject_id, MAX(c.id) AS latest_record_id
			FROM change_records c
			WHERE c.sent_at IS NULL
			GROUP BY c.subject_id
			HAVING MAX(c.due_at) <= $1
			LIMIT $2
		)
		SELECT s.id, s.primary_id, COALESCE(s.secondary_id, ''), due.latest_record_id
		FROM subjects s
		INNER JOIN due ON due.subject_id = s.id
		FOR UPDATE OF s SKIP LOCKED
	`

	// queryMarkSent settles the claimed burst: every unsent record up to
	// and including the watermark. Zero affected rows means a concurrent
	// transaction already settled it; the caller must then skip the
	// subject without publishing.
	queryMarkSent = `
		UPDATE change_records
		SET sent_at = $3
		WHERE subject_id = $1 AND sent_at IS NULL AND id <= $2
	`

	// queryPersistOutgoing stores the serialized notification on the
	// watermark record before any transport hand-off. The IS NULL guard
	// keeps a persisted payload stable forever.
	queryPersistOutgoing = `
		UPDATE change_records
		SET outgoing_payload = $2
		WHERE id = $1 AND outgoing_payload IS NULL
	`

	// queryUnackedOutgoing finds settled records whose payload was
	// committed but never acknowledged by the transport. The sent_at bound
	// keeps the sweep away from claims that are still between commit and
	// hand-off.
	queryUnackedOutgoing = `
		SELECT c.id, s.primary_id, c.outgoing_payload
		FROM change_records c
		INNER JOIN subjects s ON s.id = c.subject_id
		WHERE c.sent_at IS NOT NULL
		  AND c.outgoing_payload IS NOT NULL
		  AND c.delivered_at IS NULL
		  AND c.sent_at <= $1
		ORDER BY c.id ASC
		LIMIT $2
	`

	// queryMarkDelivered records the transport acknowledgment. Idempotent.
	queryMarkDelivered = `
		UPDATE change_records
		SET delivered_at = $2
		WHERE id = $1 AND delivered_at IS NULL
	`
)
