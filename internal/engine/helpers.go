package engine

import "math"

var nan = math.NaN()

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// dedupe drops empty and repeated ids, keeping first occurrences in order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// firstPresent returns the first candidate found in fields, falling back to
// the first field.
func firstPresent(fields []string, candidates ...string) string {
	for _, c := range candidates {
		if c != "" && contains(fields, c) {
			return c
		}
	}
	if len(fields) > 0 {
		return fields[0]
	}
	return ""
}

func sameSampleSet(a, b []Sample) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	ids := make(map[string]struct{}, len(a))
	for _, s := range a {
		ids[s.ID] = struct{}{}
	}
	for _, s := range b {
		if _, ok := ids[s.ID]; !ok {
			return false
		}
	}
	return true
}
