package artifact

import (
	"path/filepath"
	"strings"
	"time"
)

const isoMillis = "2006-01-02T15:04:05.000Z"

// Timestamp renders t as a filesystem-safe UTC ISO-8601 stamp with ':'
// replaced by '-', e.g. 2026-10-19T08-30-00.123Z.
func Timestamp(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format(isoMillis), ":", "-")
}

// ParseTimestamp recovers the time from an artifact name produced by
// Timestamp. Extensions and a trailing -NNNNNN live index are ignored.
func ParseTimestamp(name string) (time.Time, bool) {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if len(stem) < len(isoMillis) {
		return time.Time{}, false
	}
	stem = stem[:len(isoMillis)]
	date, clock, ok := strings.Cut(stem, "T")
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(isoMillis, date+"T"+strings.ReplaceAll(clock, "-", ":"))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
