package audit

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Action names one audited mutation.
type Action string

const (
	ActionCreate       Action = "CREATE"
	ActionUpdate       Action = "UPDATE"
	ActionDelete       Action = "DELETE"
	ActionPost         Action = "POST"
	ActionVoid         Action = "VOID"
	ActionDuplicate    Action = "DUPLICATE"
	ActionPeriodLock   Action = "PERIOD_LOCK"
	ActionPeriodUnlock Action = "PERIOD_UNLOCK"
)

// ErrChecksumMismatch indicates an entry was altered after sealing.
var ErrChecksumMismatch = errors.New("audit: checksum mismatch")

// Entry is one tamper-evident record of a committed mutation.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     Action         `json:"action"`
	OldValues  map[string]any `json:"old_values,omitempty"`
	NewValues  map[string]any `json:"new_values,omitempty"`
	Actor      string         `json:"actor"`
	DocNo      string         `json:"doc_no,omitempty"`
	Amount     string         `json:"amount,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Checksum   string         `json:"checksum"`
}

// Seal assigns identity and timestamp when missing, redacts sensitive values
// and computes the checksum. The returned entry is ready to persist.
func Seal(e Entry, now time.Time) (Entry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Microsecond)
	e.OldValues = Redact(e.OldValues)
	e.NewValues = Redact(e.NewValues)
	sum, err := Checksum(e)
	if err != nil {
		return Entry{}, err
	}
	e.Checksum = sum
	return e, nil
}

// Checksum hashes the canonical JSON form of e, excluding the checksum
// field itself, with BLAKE2b-256.
func Checksum(e Entry) (string, error) {
	e.Checksum = ""
	payload, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("audit: encode entry: %w", err)
	}
	sum := blake2b.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the checksum of a sealed entry.
func Verify(e Entry) error {
	sum, err := Checksum(e)
	if err != nil {
		return err
	}
	if sum != e.Checksum {
		return ErrChecksumMismatch
	}
	return nil
}
