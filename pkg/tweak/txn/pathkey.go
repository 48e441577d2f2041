package txn

import "strings"

// EscapePath turns an absolute path into a flat, collision-free backup blob
// name. "%" is escaped before "/" so the transform is reversible.
func EscapePath(path string) string {
	s := strings.ReplaceAll(path, "%", "%25")
	return strings.ReplaceAll(s, "/", "%2F")
}

// UnescapePath reverses EscapePath.
func UnescapePath(key string) string {
	s := strings.ReplaceAll(key, "%2F", "/")
	return strings.ReplaceAll(s, "%25", "%")
}
