// Package route maps a path relative to a watch root onto its destination.
//
// The first segment names the collection. A second segment of exactly
// "Inbox" routes into the collection's inbox; the remaining intermediate
// segments form the location. The filename never participates.
package route

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"intake/internal/services"
)

// InboxSegment is the case-sensitive second segment that selects the inbox.
const InboxSegment = "Inbox"

// Descriptor is the destination derived from a relative path.
type Descriptor struct {
	Collection   string
	Location     string
	IsInboxRoute bool
	IsRootLevel  bool
}

// Parse derives a Descriptor from a slash-separated relative path. Paths with
// fewer than two segments cannot name both a collection and a file and fail
// with services.ErrInvalidPath.
func Parse(rel string) (Descriptor, error) {
	segments := Segments(rel)
	if len(segments) < 2 {
		return Descriptor{}, services.Wrap(services.ErrInvalidPath, "route", "parse",
			fmt.Sprintf("%q needs a collection folder and a filename", rel), nil)
	}

	d := Descriptor{Collection: segments[0]}
	dirs := segments[1 : len(segments)-1]
	switch {
	case len(dirs) == 0:
		d.IsRootLevel = true
	case dirs[0] == InboxSegment:
		d.IsInboxRoute = true
		d.Location = strings.Join(dirs[1:], "/")
	default:
		d.Location = strings.Join(dirs, "/")
	}
	return d, nil
}

// Segments splits rel on "/" after NFC normalization, dropping empty segments
// produced by leading, trailing, or doubled separators.
func Segments(rel string) []string {
	rel = norm.NFC.String(rel)
	parts := strings.Split(rel, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// String renders the descriptor for logs, e.g. "Acme/Inbox/2024".
func (d Descriptor) String() string {
	parts := []string{d.Collection}
	if d.IsInboxRoute {
		parts = append(parts, InboxSegment)
	}
	if d.Location != "" {
		parts = append(parts, d.Location)
	}
	return strings.Join(parts, "/")
}
