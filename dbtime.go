package main

import (
	"fmt"
	"strings"
	"time"
)

// dbTime scans timestamps from aggregates such as MAX(collected_at). SQLite
// hands those back as text, Postgres as a time.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var dbTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func (t *dbTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*t = dbTime{}
		return nil
	case time.Time:
		*t = dbTime{Time: x.UTC(), Valid: true}
		return nil
	case int64:
		*t = dbTime{Time: time.Unix(x, 0).UTC(), Valid: true}
		return nil
	case []byte:
		return t.parse(string(x))
	case string:
		return t.parse(x)
	default:
		return fmt.Errorf("dbTime: unsupported type %T", v)
	}
}

func (t *dbTime) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*t = dbTime{}
		return nil
	}
	// time.Time.String appends the monotonic reading
	if i := strings.Index(s, " m="); i >= 0 {
		s = s[:i]
	}
	for _, layout := range dbTimeLayouts {
		if p, err := time.Parse(layout, s); err == nil {
			*t = dbTime{Time: p.UTC(), Valid: true}
			return nil
		}
	}
	return fmt.Errorf("dbTime: cannot parse %q", s)
}

func (t dbTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
