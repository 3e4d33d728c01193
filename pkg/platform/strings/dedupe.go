// Package strings holds small list helpers for configuration parsing.
package strings

import (
	"strings"
)

// SplitList splits s on sep, trims each element, and drops empty and
// repeated elements. Order of first appearance is preserved.
//
//	SplitList(" k1:9092, k2:9092,,k1:9092", ",") // [k1:9092 k2:9092]
func SplitList(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(s, sep))
}

// DedupeAndTrim trims every element and drops empty and repeated ones.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
