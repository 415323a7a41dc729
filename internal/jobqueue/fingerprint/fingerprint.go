// Package fingerprint computes a deterministic, canonical digest of a job
// input for result memoization. The canonicalization rules mirror the
// teacher's modules/learning/keys package: sort map keys, trim strings,
// elide absent values, normalize numeric encoding, and sort arrays that
// are homogeneously strings.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Of returns the hex-encoded SHA-256 digest of the canonical form of v.
// It is pure: the same logical value always yields the same digest,
// regardless of map iteration order or process.
func Of(v any) (string, error) {
	var asAny any
	switch t := v.(type) {
	case json.RawMessage:
		if len(t) == 0 {
			asAny = nil
		} else if err := json.Unmarshal(t, &asAny); err != nil {
			return "", err
		}
	case []byte:
		if len(t) == 0 {
			asAny = nil
		} else if err := json.Unmarshal(t, &asAny); err != nil {
			return "", err
		}
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		if err := json.Unmarshal(b, &asAny); err != nil {
			return "", err
		}
	}

	canonical := canonicalize(asAny)
	b, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// MustOf panics if fingerprinting fails; useful in tests and anywhere the
// input is already known to be valid JSON-compatible data.
func MustOf(v any) string {
	s, err := Of(v)
	if err != nil {
		panic(err)
	}
	return s
}

// canonicalize recursively normalizes a decoded JSON value:
//   - object keys are sorted lexicographically and keys whose value is
//     nil are elided entirely (an absent key and an explicit null are
//     indistinguishable downstream);
//   - strings are trimmed of surrounding whitespace;
//   - numbers are re-encoded through a stable decimal form so 1 and 1.0
//     fingerprint identically;
//   - arrays of strings are sorted (their order carries no semantic
//     content); arrays of anything else keep encounter order.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k, val := range t {
			if val == nil {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			out[k] = canonicalize(t[k])
		}
		return out
	case []any:
		arr := make([]any, 0, len(t))
		for _, x := range t {
			arr = append(arr, canonicalize(x))
		}
		if allStrings(arr) {
			ss := make([]string, 0, len(arr))
			for _, x := range arr {
				ss = append(ss, x.(string))
			}
			sort.Strings(ss)
			out := make([]any, len(ss))
			for i, s := range ss {
				out[i] = s
			}
			return out
		}
		return arr
	case string:
		return strings.TrimSpace(t)
	case float64:
		return normalizeNumber(t)
	default:
		return v
	}
}

func allStrings(a []any) bool {
	for _, x := range a {
		if _, ok := x.(string); !ok {
			return false
		}
	}
	return true
}

// normalizeNumber re-encodes a float64 through strconv so that values
// like 1 and 1.0, which decode identically from JSON anyway, still take
// a single canonical textual form once re-marshaled.
func normalizeNumber(f float64) json.Number {
	return json.Number(strconv.FormatFloat(f, 'g', -1, 64))
}
