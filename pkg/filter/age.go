package filter

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

// ageFilter compares how long ago a resource timestamp attribute occurred
// against a threshold duration.
type ageFilter struct {
	key       string
	olderThan bool
	threshold time.Duration
	now       func() time.Time
}

func (e *Evaluator) compileAge(m map[string]any) (Predicate, error) {
	key, _ := m["key"].(string)
	if key == "" {
		key, _ = m["attribute"].(string)
	}
	if key == "" {
		return nil, engine.NewUnsupportedFilterError("age filter requires a key")
	}

	f := &ageFilter{key: key, olderThan: true, now: e.now}
	if op, ok := m["op"].(string); ok {
		switch op {
		case "older-than", "greater-than", "gt", "gte":
			f.olderThan = true
		case "newer-than", "less-than", "lt", "lte":
			f.olderThan = false
		default:
			return nil, engine.NewUnsupportedFilterError("age op must be older-than or newer-than")
		}
	}

	var threshold time.Duration
	if days, ok := toFloat(m["days"]); ok {
		threshold += time.Duration(days * 24 * float64(time.Hour))
	}
	if hours, ok := toFloat(m["hours"]); ok {
		threshold += time.Duration(hours * float64(time.Hour))
	}
	if minutes, ok := toFloat(m["minutes"]); ok {
		threshold += time.Duration(minutes * float64(time.Minute))
	}
	f.threshold = threshold
	return f, nil
}

func (f *ageFilter) Match(_ context.Context, r engine.Resource) (bool, error) {
	raw, found := resolvePath(r, f.key)
	if !found {
		return false, nil
	}
	ts, ok := parseTimestamp(raw)
	if !ok {
		return false, nil
	}
	age := f.now().Sub(ts)
	if f.olderThan {
		return age >= f.threshold, nil
	}
	return age < f.threshold, nil
}

// doubledZoneMarker matches timestamps that carry both a Z suffix and a
// numeric offset, like "2025-03-26T08:30:15Z+0800". Some services emit
// these; the explicit offset is taken as authoritative, so the instant is
// the naive reading shifted forward by the offset.
var doubledZoneMarker = regexp.MustCompile(`^(.+)Z([+-])(\d{2}):?(\d{2})$`)

// parseTimestamp accepts the timestamp shapes cloud list APIs return:
// RFC3339 strings, bare datetimes assumed UTC, date-only strings and epoch
// values in either seconds or milliseconds.
func parseTimestamp(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, true
	case string:
		return parseTimestampString(strings.TrimSpace(v))
	default:
		if n, ok := toFloat(raw); ok {
			return fromEpoch(n), true
		}
	}
	return time.Time{}, false
}

func parseTimestampString(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(n), true
	}

	if m := doubledZoneMarker.FindStringSubmatch(s); m != nil {
		base, err := time.Parse("2006-01-02T15:04:05", m[1])
		if err != nil {
			return time.Time{}, false
		}
		hours, _ := strconv.Atoi(m[3])
		minutes, _ := strconv.Atoi(m[4])
		offset := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
		if m[2] == "-" {
			offset = -offset
		}
		return base.UTC().Add(offset), true
	}

	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// fromEpoch treats magnitudes past the year-33658 seconds horizon as
// milliseconds.
func fromEpoch(n float64) time.Time {
	const msThreshold = 1e12
	if n >= msThreshold || n <= -msThreshold {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}
