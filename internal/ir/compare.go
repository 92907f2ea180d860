package ir

import (
	"encoding/json"
	"sort"
)

// StructurallyEqual reports whether a and b carry the same information once
// map-key order and, for block lists where a dialect does not specify
// ordering, list order are normalized away. It round-trips both values
// through JSON so callers can compare any of the exported types in this
// package without writing a bespoke Equal method per type.
func StructurallyEqual(a, b any) bool {
	an, aOK := normalize(a)
	bn, bOK := normalize(b)

	if !aOK || !bOK {
		return false
	}

	return deepEqual(an, bn)
}

func normalize(v any) (any, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}

	return out, true
}

func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}

		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqual(v, bvv) {
				return false
			}
		}

		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}

		// Content-block lists carry no dialect-mandated order; compare as a
		// multiset of canonical serializations rather than positionally.
		return equalAsMultiset(av, bv)
	default:
		return a == b
	}
}

func equalAsMultiset(a, b []any) bool {
	// Fast path: positional equality covers the ordered case without paying
	// for sorting.
	if len(a) == len(b) {
		positional := true

		for i := range a {
			if !deepEqual(a[i], b[i]) {
				positional = false
				break
			}
		}

		if positional {
			return true
		}
	}

	as := canonicalStrings(a)
	bs := canonicalStrings(b)

	sort.Strings(as)
	sort.Strings(bs)

	if len(as) != len(bs) {
		return false
	}

	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}

	return true
}

func canonicalStrings(items []any) []string {
	out := make([]string, 0, len(items))

	for _, item := range items {
		out = append(out, canonicalize(item))
	}

	return out
}

// canonicalize produces a stable string form of a value decoded from JSON by
// recursively sorting map keys, so two maps with the same keys in different
// orders canonicalize identically.
func canonicalize(v any) string {
	data, err := json.Marshal(sortedCopy(v))
	if err != nil {
		return ""
	}

	return string(data)
}

func sortedCopy(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		out := make(map[string]any, len(vv))
		for _, k := range keys {
			out[k] = sortedCopy(vv[k])
		}

		return out
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = sortedCopy(item)
		}

		return out
	default:
		return vv
	}
}
