package models

import "strings"

// Separator is the universal path separator of the folder model.
const Separator = "/"

// SplitPath returns the non-empty segments of p in order.
func SplitPath(p string) []string {
	parts := strings.Split(p, Separator)
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segments = append(segments, part)
	}
	return segments
}

// JoinPath joins segments with single separators. Empty segments are skipped and
// separators inside a segment are collapsed, so the result never has a leading,
// trailing or doubled separator.
func JoinPath(segments ...string) string {
	var parts []string
	for _, s := range segments {
		parts = append(parts, SplitPath(s)...)
	}
	return strings.Join(parts, Separator)
}

// NormalizePath is JoinPath(SplitPath(p)...).
func NormalizePath(p string) string {
	return JoinPath(SplitPath(p)...)
}

// ComparePaths reports whether a and b address the same node modulo normalization.
func ComparePaths(a, b string) bool {
	return NormalizePath(a) == NormalizePath(b)
}

// DeriveName returns the last non-empty segment of p, or "" for an empty path.
func DeriveName(p string) string {
	segments := SplitPath(p)
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// DeriveParent returns a reference to the folder containing p, or nil when p has
// fewer than two segments. A rooted input ("/a/b") yields a rooted parent and a
// prefix-style input ("a/b/") yields a prefix-style parent.
func DeriveParent(p string) *FolderRef {
	segments := SplitPath(p)
	if len(segments) <= 1 {
		return nil
	}
	parent := segments[:len(segments)-1]
	path := strings.Join(parent, Separator)
	if strings.HasPrefix(p, Separator) {
		path = Separator + path
	}
	if strings.HasSuffix(p, Separator) {
		path += Separator
	}
	return &FolderRef{
		Path: path,
		Name: parent[len(parent)-1],
	}
}

// AsPrefix returns p normalized with exactly one trailing separator, or "" for the root.
func AsPrefix(p string) string {
	n := NormalizePath(p)
	if n == "" {
		return ""
	}
	return n + Separator
}
