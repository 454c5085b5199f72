package diff

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/neboloop/canvas/internal/artifact"
)

// Record is one manifest.jsonl line. Paths are relative to the diffs dir.
type Record struct {
	Timestamp           time.Time `json:"ts"`
	BaselinePath        string    `json:"baselinePath"`
	CurrentPath         string    `json:"currentPath"`
	DiffPath            string    `json:"diffPath"`
	MismatchedPixels    int       `json:"mismatchedPixels"`
	MismatchedRatio     float64   `json:"mismatchedRatio"`
	Regions             []Region  `json:"regions"`
	Threshold           float64   `json:"threshold"`
	BaselineInitialized bool      `json:"baselineInitialized"`
	URL                 string    `json:"url,omitempty"`
	Selector            string    `json:"selector,omitempty"`
}

// AppendRecord appends rec to the manifest.
func AppendRecord(s *artifact.Store, rec Record) error {
	rec.BaselinePath = toDiffsDir(s, rec.BaselinePath)
	rec.CurrentPath = toDiffsDir(s, rec.CurrentPath)
	rec.DiffPath = toDiffsDir(s, rec.DiffPath)
	if rec.Regions == nil {
		rec.Regions = []Region{}
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.AppendLine(filepath.Join(s.Dir(artifact.DiffsDir), manifestName), line)
}
