package diff

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neboloop/canvas/internal/artifact"
)

// ErrInvalidSince is returned for a since value that is neither "last" nor
// a parseable timestamp.
var ErrInvalidSince = errors.New("diff: invalid since timestamp")

// ErrNoCaptureSince is returned when screenshots exist but none is stamped
// at or before an explicit since.
var ErrNoCaptureSince = errors.New("diff: no screenshot at or before since")

// SinceLast selects the pointer baseline, same as an empty since.
const SinceLast = "last"

var sinceLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseSince parses an explicit since value.
func ParseSince(since string) (time.Time, error) {
	for _, layout := range sinceLayouts {
		if t, err := time.Parse(layout, since); err == nil {
			return t, nil
		}
	}
	if t, ok := artifact.ParseTimestamp(since); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidSince, since)
}

// ResolveBaseline picks the image to compare against, returning "" when no
// baseline exists yet. An explicit since selects the newest screenshot
// stamped at or before it, and fails when every screenshot is newer.
// Otherwise the pointer wins if its file still
// exists, falling back to the newest screenshot.
func ResolveBaseline(s *artifact.Store, since string) (string, error) {
	since = strings.TrimSpace(since)
	if since != "" && since != SinceLast {
		cutoff, err := ParseSince(since)
		if err != nil {
			return "", err
		}
		shots, err := s.Screenshots()
		if err != nil {
			return "", err
		}
		var best artifact.Artifact
		for _, a := range shots {
			if a.Timestamp.IsZero() || a.Timestamp.After(cutoff) {
				continue
			}
			if best.Path == "" || a.Timestamp.After(best.Timestamp) {
				best = a
			}
		}
		if best.Path == "" && len(shots) > 0 {
			return "", fmt.Errorf("%w: %s is older than %s", ErrNoCaptureSince, since, shots[0].Name)
		}
		return best.Path, nil
	}

	if p, ok := ReadPointer(s); ok && s.Exists(p.BaselinePath) {
		return p.BaselinePath, nil
	}

	shots, err := s.Screenshots()
	if err != nil {
		return "", err
	}
	if len(shots) == 0 {
		return "", nil
	}
	return shots[len(shots)-1].Path, nil
}
