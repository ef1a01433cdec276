package metadata

import (
	"encoding/json"
	"sort"
)

// DropOrder selects which entries of a numeric map go first.
type DropOrder int

const (
	// DropSmallest discards the lowest values first.
	DropSmallest DropOrder = iota
	// DropLargest discards the highest values first.
	DropLargest
)

// Truncation reports what Truncate removed.
type Truncation struct {
	Passes  int
	Removed int
	Before  int // encoded bytes
	After   int
}

// Changed reports whether any entry was removed.
func (t Truncation) Changed() bool { return t.Removed > 0 }

// Truncate halves m until its JSON encoding is at most limit bytes. When
// every value is numeric the entries are ranked by value according to order,
// otherwise by key; each pass drops the lower-ranked half of what is left.
// The input map is not modified. A map that already fits is returned as is.
func Truncate[V any](m map[string]V, limit int, order DropOrder) (map[string]V, Truncation, error) {
	size, err := encodedLen(m)
	if err != nil {
		return nil, Truncation{}, err
	}
	report := Truncation{Before: size, After: size}
	if size <= limit {
		return m, report, nil
	}

	keys := rankKeys(m, order)
	out := m
	for size > limit && len(keys) > 0 {
		drop := len(keys) / 2
		if drop == 0 {
			drop = len(keys)
		}
		keys = keys[drop:]
		report.Passes++
		report.Removed += drop

		out = make(map[string]V, len(keys))
		for _, k := range keys {
			out[k] = m[k]
		}
		if size, err = encodedLen(out); err != nil {
			return nil, Truncation{}, err
		}
	}
	report.After = size
	return out, report, nil
}

// rankKeys orders keys so that the ones to drop first come first. Ties are
// broken by key so the result does not depend on map iteration.
func rankKeys[V any](m map[string]V, order DropOrder) []string {
	keys := make([]string, 0, len(m))
	values := make(map[string]float64, len(m))
	numeric := true
	for k, v := range m {
		keys = append(keys, k)
		if f, ok := asFloat(v); ok {
			values[k] = f
		} else {
			numeric = false
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if numeric && values[a] != values[b] {
			if order == DropLargest {
				return values[a] > values[b]
			}
			return values[a] < values[b]
		}
		return a < b
	})
	return keys
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func encodedLen(v any) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
