package diff

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/neboloop/canvas/internal/artifact"
)

const (
	pointerName  = "baseline.json"
	manifestName = "manifest.jsonl"

	// PointerFile is the pointer's location relative to the project root.
	PointerFile = artifact.DiffsDir + "/" + pointerName
)

// Pointer records which screenshot the next diff compares against.
type Pointer struct {
	BaselinePath string    `json:"baselinePath"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func pointerPath(s *artifact.Store) string {
	return filepath.Join(s.Dir(artifact.DiffsDir), pointerName)
}

// ReadPointer returns the stored pointer with its path made absolute, or
// ok=false when there is none or it cannot be read.
func ReadPointer(s *artifact.Store) (Pointer, bool) {
	data, err := s.ReadFile(pointerPath(s))
	if err != nil {
		return Pointer{}, false
	}
	var p Pointer
	if err := json.Unmarshal(data, &p); err != nil || p.BaselinePath == "" {
		return Pointer{}, false
	}
	p.BaselinePath = fromDiffsDir(s, p.BaselinePath)
	return p, true
}

// WritePointer overwrites the pointer to target.
func WritePointer(s *artifact.Store, target string, at time.Time) error {
	data, err := json.MarshalIndent(Pointer{
		BaselinePath: toDiffsDir(s, target),
		UpdatedAt:    at.UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := s.WriteFile(pointerPath(s), data); err != nil {
		return fmt.Errorf("write baseline pointer: %w", err)
	}
	return nil
}

func toDiffsDir(s *artifact.Store, p string) string {
	if p == "" {
		return ""
	}
	rel, err := filepath.Rel(s.Dir(artifact.DiffsDir), p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}

func fromDiffsDir(s *artifact.Store, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.Dir(artifact.DiffsDir), filepath.FromSlash(p))
}
