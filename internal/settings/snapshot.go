package settings

import (
	"strconv"
	"strings"
	"time"
)

// Kind selects the coercion applied by Snapshot.Get.
type Kind int

// Supported value kinds.
const (
	KindString Kind = iota
	KindInt
	KindBool
	KindList
)

// Snapshot is an immutable view of the key/value settings at one refresh.
type Snapshot struct {
	values      map[string]string
	refreshedAt time.Time
}

// NewSnapshot copies values into a Snapshot stamped with refreshedAt.
func NewSnapshot(values map[string]string, refreshedAt time.Time) *Snapshot {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &Snapshot{values: cp, refreshedAt: refreshedAt}
}

// RefreshedAt reports when the snapshot was loaded. Zero for the empty snapshot.
func (s *Snapshot) RefreshedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.refreshedAt
}

// Values returns a copy of the raw key/value pairs.
func (s *Snapshot) Values() map[string]string {
	if s == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Raw returns the stored string and whether the key is present.
func (s *Snapshot) Raw(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// Get returns the value for key coerced to kind, or def when missing or invalid.
func (s *Snapshot) Get(key string, def any, kind Kind) any {
	switch kind {
	case KindInt:
		d, _ := def.(int)
		return s.Int(key, d)
	case KindBool:
		d, _ := def.(bool)
		return s.Bool(key, d)
	case KindList:
		d, _ := def.([]string)
		return s.List(key, d)
	default:
		d, _ := def.(string)
		return s.String(key, d)
	}
}

// String returns the trimmed value or def when the key is absent or blank.
func (s *Snapshot) String(key, def string) string {
	v, ok := s.Raw(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

// Int parses the value as a base-10 integer, falling back to def.
func (s *Snapshot) Int(key string, def int) int {
	v, ok := s.Raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Bool is true for true/1/yes/on in any case. A missing key yields def.
func (s *Snapshot) Bool(key string, def bool) bool {
	v, ok := s.Raw(key)
	if !ok {
		return def
	}
	return ParseBool(v)
}

// List splits the value on commas and drops blank entries.
func (s *Snapshot) List(key string, def []string) []string {
	v, ok := s.Raw(key)
	if !ok {
		return def
	}
	return SplitList(v)
}

// ParseBool applies the truthy set used by the settings store.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// SplitList splits on commas, trimming and skipping empties.
func SplitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
