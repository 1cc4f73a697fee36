package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB carries free-form version metadata (training metrics, dataset tags,
// approval notes) into Postgres jsonb columns and out of JSON request
// bodies. A nil map persists as SQL NULL.
type JSONB map[string]any

// Value implements driver.Valuer for sqlx writes.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner. lib/pq hands jsonb back as []byte; some
// drivers use string.
func (j *JSONB) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into version metadata", value)
	}

	if len(raw) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(raw, j)
}

// Equals reports whether two metadata maps carry the same content. Values
// are compared through their JSON encoding so numeric types round-trip
// cleanly; registration idempotency checks rely on this.
func (j JSONB) Equals(other JSONB) bool {
	if len(j) != len(other) {
		return false
	}
	for k, v := range j {
		ov, ok := other[k]
		if !ok {
			return false
		}
		a, err := json.Marshal(v)
		if err != nil {
			return false
		}
		b, err := json.Marshal(ov)
		if err != nil {
			return false
		}
		if string(a) != string(b) {
			return false
		}
	}
	return true
}
