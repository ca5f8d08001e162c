// Package syncx holds small JSON/time/uuid helpers shared by the sync
// engine and HTTP layer.
package syncx

import (
	"time"

	"github.com/google/uuid"
)

// GetString safely extracts a string value from a map.
func GetString(m map[string]any, k string) (string, bool) {
	if v, ok := m[k]; ok {
		if s, ok2 := v.(string); ok2 {
			return s, true
		}
	}
	return "", false
}

// GetMap safely extracts a nested map from a map, tolerating both
// map[string]any and map[string]interface{}.
func GetMap(m map[string]any, k string) (map[string]any, bool) {
	if v, ok := m[k]; ok {
		if mm, ok2 := v.(map[string]any); ok2 {
			return mm, true
		}
	}
	return nil, false
}

// Has reports whether k is present in m at all, including when its
// value is an explicit JSON null. This is the presence check a
// partial-update payload needs: GetString/GetMap collapse "absent" and
// "present but null" into the same false, which a COALESCE-style
// column assignment cannot tell apart from "leave unchanged".
func Has(m map[string]any, k string) bool {
	_, ok := m[k]
	return ok
}

// GetNullableString extracts a nullable column's value from a partial-
// update payload. ok reports whether k was present at all (absent
// means leave the column unchanged); when present, a nil result means
// the payload explicitly cleared the field (JSON null or a non-string
// value).
func GetNullableString(m map[string]any, k string) (*string, bool) {
	v, present := m[k]
	if !present {
		return nil, false
	}
	if s, ok := v.(string); ok {
		return &s, true
	}
	return nil, true
}

// GetNullableDate is GetNullableString for date-only columns: ok
// reports presence, and a nil result with ok true (null, a non-string
// value, or an unparseable date) clears the column.
func GetNullableDate(m map[string]any, k string) (*time.Time, bool) {
	v, present := m[k]
	if !present {
		return nil, false
	}
	s, ok := v.(string)
	if !ok {
		return nil, true
	}
	t, ok := ParseDateOnly(s)
	if !ok {
		return nil, true
	}
	return &t, true
}

// ParseUUID parses a UUID string.
func ParseUUID(s string) (uuid.UUID, bool) {
	if s == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	return id, err == nil
}

// ParseDateOnly parses a "YYYY-MM-DD" date, as used by due_date /
// issue_date fields in push payloads.
func ParseDateOnly(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
