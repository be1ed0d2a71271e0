package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Store persists audit entries in Postgres.
type Store struct {
	db db.DBTX
}

// NewStore constructs a Postgres backed store.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn}
}

// Write inserts the entry. Replays of the same entry ID are ignored so queue
// redelivery stays harmless.
func (s *Store) Write(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("audit: store not configured")
	}
	if e.Action == "" || e.EntityType == "" || e.EntityID == "" {
		return fmt.Errorf("audit: entry requires action/entity_type/entity_id")
	}
	oldJSON, err := encodeValues(e.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := encodeValues(e.NewValues)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO audit_entries (id, entity_type, entity_id, action, old_values, new_values, actor, doc_no, amount, occurred_at, checksum)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO NOTHING`,
		e.ID, e.EntityType, e.EntityID, string(e.Action), oldJSON, newJSON, e.Actor, e.DocNo, e.Amount, e.Timestamp, e.Checksum)
	return err
}

// Window returns entries matching filters newest first.
func (s *Store) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT id, entity_type, entity_id, action, old_values, new_values, actor, doc_no, amount, occurred_at, checksum
FROM audit_entries
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::text IS NULL OR actor = $3)
  AND ($4::text IS NULL OR entity_type = $4)
  AND ($5::text IS NULL OR entity_id = $5)
  AND ($6::text IS NULL OR action = $6)
ORDER BY occurred_at DESC, id
OFFSET $7 LIMIT $8`,
		toPgTime(filters.From), toPgTime(filters.To),
		optionalText(filters.Actor), optionalText(filters.EntityType),
		optionalText(filters.EntityID), optionalText(filters.Action),
		offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			action  string
			oldJSON []byte
			newJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &action, &oldJSON, &newJSON, &e.Actor, &e.DocNo, &e.Amount, &e.Timestamp, &e.Checksum); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		e.Timestamp = e.Timestamp.UTC()
		if e.OldValues, err = decodeValues(oldJSON); err != nil {
			return nil, err
		}
		if e.NewValues, err = decodeValues(newJSON); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func encodeValues(values map[string]any) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	payload, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("audit: encode values: %w", err)
	}
	return payload, nil
}

func decodeValues(payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var values map[string]any
	if err := json.Unmarshal(payload, &values); err != nil {
		return nil, fmt.Errorf("audit: decode values: %w", err)
	}
	return values, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
