package store

import "strings"

// isHashRef reports whether ref names a structural hash directly, either
// bare (64 lowercase hex chars, matching compile.StructuralHash's output)
// or prefixed with "sha256:". Anything else is treated as an alias name.
func isHashRef(ref string) (hash string, ok bool) {
	if h, found := strings.CutPrefix(ref, "sha256:"); found {
		return h, isHex64(h)
	}
	if isHex64(ref) {
		return ref, true
	}
	return "", false
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
