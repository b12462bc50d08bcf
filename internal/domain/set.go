package domain

// ContainsString reports whether s is in set
func ContainsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// UnionStrings returns a followed by the members of b not already in a.
// Order of first appearance is kept.
func UnionStrings(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok || v == "" {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// RemoveStrings returns set without any of the given values
func RemoveStrings(set []string, values ...string) []string {
	out := make([]string, 0, len(set))
	for _, v := range set {
		if !ContainsString(values, v) {
			out = append(out, v)
		}
	}
	return out
}

// IsStrictSubset reports whether every member of a is in b and b has more members
func IsStrictSubset(a, b []string) bool {
	if len(UnionStrings(nil, a)) >= len(UnionStrings(nil, b)) {
		return false
	}
	for _, v := range a {
		if !ContainsString(b, v) {
			return false
		}
	}
	return true
}
