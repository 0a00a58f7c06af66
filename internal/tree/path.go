// Package tree defines the hierarchical item store contract: slash-separated
// paths, subtree snapshots, and push subscriptions delivered through a Hub.
package tree

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is returned for empty paths or paths with empty, "." or
// ".." segments.
var ErrInvalidPath = errors.New("invalid path")

// Namespaces used by the marketplace.
const (
	Items     = "items"
	Watchlist = "watchlist"
	ItemPics  = "itemPics"
)

// Join joins segments with "/" and validates the result.
func Join(segments ...string) (string, error) {
	return Clean(strings.Join(segments, "/"))
}

// MustJoin is Join for segments known to be valid. It panics otherwise.
func MustJoin(segments ...string) string {
	p, err := Join(segments...)
	if err != nil {
		panic(err)
	}
	return p
}

// Clean validates p and strips a single leading or trailing slash.
func Clean(p string) (string, error) {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "":
			return "", fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, p)
		case ".", "..":
			return "", fmt.Errorf("%w: %q has a relative segment", ErrInvalidPath, p)
		}
	}
	return p, nil
}

// Key returns the last segment of p.
func Key(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Parent returns p without its last segment, or "" for a single segment.
func Parent(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

// Related reports whether a change at changed affects a subscription at
// watched: either is the other, or one is an ancestor of the other.
func Related(watched, changed string) bool {
	return watched == changed ||
		strings.HasPrefix(changed, watched+"/") ||
		strings.HasPrefix(watched, changed+"/")
}
