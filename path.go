package recon

import (
	"net/url"
	"path/filepath"
	"strings"
)

// NormalizePath converts a path to use forward slashes consistently
// regardless of the operating system and cleans the path.
// Empty paths remain empty.
func NormalizePath(path string) string {
	if path == "" {
		return ""
	}

	cleaned := filepath.Clean(path)
	return strings.ReplaceAll(cleaned, "\\", "/")
}

// JoinPaths joins path elements and normalizes the result.
func JoinPaths(elem ...string) string {
	return NormalizePath(filepath.Join(elem...))
}

// IsSubPath checks if childPath is inside parentPath.
// Both paths are normalized before comparison.
func IsSubPath(parentPath, childPath string) bool {
	normalizedParent := NormalizePath(parentPath)
	normalizedChild := NormalizePath(childPath)

	if normalizedParent == "" || normalizedParent == "." {
		return true
	}

	if normalizedParent == normalizedChild {
		return true
	}

	if !strings.HasSuffix(normalizedParent, "/") {
		normalizedParent += "/"
	}

	return strings.HasPrefix(normalizedChild, normalizedParent)
}

// DirPath returns the directory portion of a path
func DirPath(path string) string {
	return NormalizePath(filepath.Dir(NormalizePath(path)))
}

// RelPath returns path relative to root when path is inside root, and the
// normalized path otherwise.
func RelPath(root, path string) string {
	normalized := NormalizePath(path)
	if root == "" || !IsSubPath(root, normalized) {
		return normalized
	}
	rel, err := filepath.Rel(NormalizePath(root), normalized)
	if err != nil {
		return normalized
	}
	return NormalizePath(rel)
}

// URIToPath converts a file:// URI into a normalized path. Other URIs are
// returned unchanged.
func URIToPath(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return NormalizePath(strings.TrimPrefix(uri, "file://"))
	}
	p := u.Path
	// file:///C:/x on Windows
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return NormalizePath(p)
}

// PathToURI converts a file path into a file:// URI.
func PathToURI(path string) string {
	p := NormalizePath(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
