package engine

import (
	"path"
	"strings"
)

// splitLocation separates a "scheme://" prefix from the rest of location.
func splitLocation(location string) (prefix, rest string) {
	i := strings.Index(location, "://")
	if i <= 0 || strings.ContainsAny(location[:i], "/?#") {
		return "", location
	}
	return location[:i+3], location[i+3:]
}

// LocationDir returns the parent of location, keeping its scheme prefix.
func LocationDir(location string) string {
	prefix, rest := splitLocation(location)
	return prefix + path.Dir(rest)
}

// JoinLocation joins elem onto dir, keeping dir's scheme prefix.
func JoinLocation(dir string, elem ...string) string {
	prefix, rest := splitLocation(dir)
	return prefix + path.Join(append([]string{rest}, elem...)...)
}
