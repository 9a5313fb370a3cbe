package permission

import "strings"

// Match reports whether a single approved pattern covers a key.
// A pattern ending in '*' matches any key sharing its prefix; anything
// else matches exactly.
func Match(pattern, key string) bool {
	if pattern == "" {
		return false
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := pattern[:len(pattern)-1]
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}

// covered reports whether every key is matched by at least one pattern
// in the approved set.
func covered(approved map[string]struct{}, keys []string) bool {
	if len(keys) == 0 {
		return false
	}
	for _, key := range keys {
		if !anyMatch(approved, key) {
			return false
		}
	}
	return true
}

func anyMatch(approved map[string]struct{}, key string) bool {
	for pattern := range approved {
		if Match(pattern, key) {
			return true
		}
	}
	return false
}

// coveredBy is the slice variant of covered, used for workspace lookups.
func coveredBy(patterns []string, keys []string) bool {
	if len(keys) == 0 {
		return false
	}
	for _, key := range keys {
		matched := false
		for _, pattern := range patterns {
			if Match(pattern, key) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
