// Package normalize holds the boundary decoders shared by every store
// consumer: email canonicalization and the polymorphic timestamp decoder.
package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// TimestampKind tags which wire shape a timestamp arrived in.
type TimestampKind int

const (
	KindMissing TimestampKind = iota
	KindServer                // bson.DateTime, bson.Timestamp, time.Time or {seconds, nanoseconds}
	KindISO                   // ISO-8601 / RFC 3339 string
	KindEpoch                 // raw epoch seconds
	KindInvalid               // present but not decodable
)

// isoLayouts are tried in order; the last two cover the JavaScript
// Date.toISOString output without a zone and plain dates.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// DecodeTimestamp classifies v and converts it into a UTC time.
// The returned time is zero unless the kind is KindServer, KindISO or KindEpoch.
func DecodeTimestamp(v any) (time.Time, TimestampKind) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, KindMissing
	case time.Time:
		if t.IsZero() {
			return time.Time{}, KindMissing
		}
		return t.UTC(), KindServer
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, KindMissing
		}
		return t.UTC(), KindServer
	case bson.DateTime:
		return t.Time().UTC(), KindServer
	case bson.Timestamp:
		return time.Unix(int64(t.T), 0).UTC(), KindServer
	case bson.M:
		return decodeSecondsMap(map[string]any(t))
	case map[string]any:
		return decodeSecondsMap(t)
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = e.Value
		}
		return decodeSecondsMap(m)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, KindMissing
		}
		for _, layout := range isoLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), KindISO
			}
		}
		// some clients stringify epoch seconds
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epoch(f), KindEpoch
		}
		return time.Time{}, KindInvalid
	case int:
		return epoch(float64(t)), KindEpoch
	case int32:
		return epoch(float64(t)), KindEpoch
	case int64:
		return epoch(float64(t)), KindEpoch
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return time.Time{}, KindInvalid
		}
		return epoch(t), KindEpoch
	}
	return time.Time{}, KindInvalid
}

// Timestamp decodes v like DecodeTimestamp but never fails: missing or
// undecodable values become now.
func Timestamp(v any, now time.Time) time.Time {
	ts, kind := DecodeTimestamp(v)
	switch kind {
	case KindServer, KindISO, KindEpoch:
		return ts
	}
	return now.UTC()
}

// OptionalTimestamp returns nil for missing or undecodable values.
func OptionalTimestamp(v any) *time.Time {
	ts, kind := DecodeTimestamp(v)
	switch kind {
	case KindServer, KindISO, KindEpoch:
		return &ts
	}
	return nil
}

func epoch(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

// decodeSecondsMap handles the {seconds, nanoseconds} shape exported by
// Firestore server timestamps (also seen as _seconds/_nanoseconds).
func decodeSecondsMap(m map[string]any) (time.Time, TimestampKind) {
	sec, ok := number(m["seconds"])
	if !ok {
		if sec, ok = number(m["_seconds"]); !ok {
			return time.Time{}, KindInvalid
		}
	}
	nanos, ok := number(m["nanoseconds"])
	if !ok {
		nanos, _ = number(m["_nanoseconds"])
	}
	return time.Unix(int64(sec), int64(nanos)).UTC(), KindServer
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
