package docstore

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/PaulBabatuyi/petmarket-gRPC/internal/normalize"
)

// Decode unmarshals a document's data into a struct with bson tags.
func Decode(doc Document, v any) error {
	raw, err := bson.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	if err := bson.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document %s: %w", doc.ID, err)
	}
	return nil
}

// Clone deep-copies data through a BSON round trip, so the result has the
// same value types a MongoDB read would produce (bson.M, bson.A,
// bson.DateTime, int32/int64).
func Clone(data bson.M) (bson.M, error) {
	if data == nil {
		return bson.M{}, nil
	}
	raw, err := bson.Marshal(data)
	if err != nil {
		return nil, err
	}
	dec := bson.NewDecoder(bson.NewDocumentReader(bytes.NewReader(raw)))
	dec.DefaultDocumentM()
	out := bson.M{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// AsMap views v as a document regardless of how the driver decoded it.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]any:
		return m, true
	case bson.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	}
	return nil, false
}

// AsSlice views v as an array.
func AsSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case bson.A:
		return s, true
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	}
	return nil, false
}

// String returns m[key] if it is a string.
func String(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Int returns m[key] as an int64 for any numeric representation.
func Int(m map[string]any, key string) int64 {
	switch n := m[key].(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}

// Strings returns m[key] as a slice of its string elements.
func Strings(m map[string]any, key string) []string {
	arr, ok := AsSlice(m[key])
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// lookup reads a dotted path from data.
func lookup(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := AsMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// matches reports whether doc satisfies q's filter.
func matches(doc Document, q Query) bool {
	if q.Op == OpAll {
		return true
	}
	var v any
	if q.Field == IDField {
		v = doc.ID
	} else {
		var ok bool
		if v, ok = lookup(doc.Data, q.Field); !ok {
			return false
		}
	}
	candidates := []any{v}
	if arr, ok := AsSlice(v); ok {
		candidates = arr
	}
	switch q.Op {
	case OpEquals:
		for _, c := range candidates {
			if equalValues(c, q.Value) {
				return true
			}
		}
	case OpIn:
		for _, c := range candidates {
			for _, want := range q.Values {
				if equalValues(c, want) {
					return true
				}
			}
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
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

// compareValues orders values the way the backing database would for the
// shapes this service stores: numbers, strings, then timestamps.
func compareValues(a, b any) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb)
		}
	}
	ta, ka := normalize.DecodeTimestamp(a)
	tb, kb := normalize.DecodeTimestamp(b)
	switch {
	case ka == normalize.KindMissing && kb == normalize.KindMissing:
		return 0
	case ka == normalize.KindMissing:
		return -1
	case kb == normalize.KindMissing:
		return 1
	}
	return ta.Compare(tb)
}
