// Package artifact lays out and persists the files canvas writes under a
// project's .canvas directory.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Directory layout relative to the project root.
const (
	RootDir        = ".canvas"
	ScreenshotsDir = ".canvas/screenshots"
	DiffsDir       = ".canvas/diffs"
	LiveDir        = ".canvas/live"

	BaselineName = "baseline.png"
)

// Artifact is a file in one of the artifact directories.
type Artifact struct {
	Path      string
	Name      string
	ModTime   time.Time
	Timestamp time.Time // zero when the name carries no timestamp
}

// Store reads and writes artifacts below Root.
type Store struct {
	fs   afero.Fs
	root string
	now  func() time.Time
}

// NewStore returns a store rooted at root, normally the request's cwd.
func NewStore(fsys afero.Fs, root string) *Store {
	return &Store{fs: fsys, root: root, now: time.Now}
}

// WithClock returns a copy of s that stamps files using now.
func (s *Store) WithClock(now func() time.Time) *Store {
	c := *s
	c.now = now
	return &c
}

// Fs exposes the underlying filesystem.
func (s *Store) Fs() afero.Fs { return s.fs }

// Root is the project directory the store writes under.
func (s *Store) Root() string { return s.root }

// Dir returns the absolute form of one of the layout directories.
func (s *Store) Dir(rel string) string { return filepath.Join(s.root, filepath.FromSlash(rel)) }

// BaselinePath is the canonical first-run baseline location.
func (s *Store) BaselinePath() string { return filepath.Join(s.Dir(ScreenshotsDir), BaselineName) }

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.now() }

// WriteScreenshot stores a PNG under screenshots/<ts>.png and returns its path.
func (s *Store) WriteScreenshot(data []byte) (string, error) {
	return s.writeStamped(s.Dir(ScreenshotsDir), ".png", data)
}

// WriteDiff stores a diff artifact as diffs/<ts><suffix>.
func (s *Store) WriteDiff(stamp, suffix string, data []byte) (string, error) {
	dir := s.Dir(DiffsDir)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	p := filepath.Join(dir, stamp+suffix)
	if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	return p, nil
}

// WriteLive stores a live capture as live/<ts>-<index>.png.
func (s *Store) WriteLive(index int, data []byte) (string, error) {
	dir := s.Dir(LiveDir)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	p := filepath.Join(dir, fmt.Sprintf("%s-%06d.png", Timestamp(s.now()), index))
	if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	return p, nil
}

func (s *Store) writeStamped(dir, ext string, data []byte) (string, error) {
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	t := s.now()
	for i := 0; i < 1000; i++ {
		p := filepath.Join(dir, Timestamp(t)+ext)
		f, err := s.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			t = t.Add(time.Millisecond)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", p, err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("write %s: %w", p, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("write %s: %w", p, err)
		}
		return p, nil
	}
	return "", fmt.Errorf("no free artifact name in %s", dir)
}

// ReadFile reads an artifact.
func (s *Store) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(s.fs, path)
}

// WriteFile replaces path with data, creating parent directories.
func (s *Store) WriteFile(path string, data []byte) error {
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	return afero.WriteFile(s.fs, path, data, 0o644)
}

// Copy duplicates src to dst.
func (s *Store) Copy(src, dst string) error {
	data, err := s.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	return s.WriteFile(dst, data)
}

// Exists reports whether path is present.
func (s *Store) Exists(path string) bool {
	ok, err := afero.Exists(s.fs, path)
	return err == nil && ok
}

// AppendLine appends line plus a newline to path.
func (s *Store) AppendLine(path string, line []byte) error {
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := s.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	return f.Close()
}

// Screenshots lists stored screenshots oldest first, excluding the baseline.
func (s *Store) Screenshots() ([]Artifact, error) {
	list, err := s.list(s.Dir(ScreenshotsDir))
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, a := range list {
		if a.Name != BaselineName {
			out = append(out, a)
		}
	}
	return out, nil
}

// LiveCaptures lists live captures oldest first.
func (s *Store) LiveCaptures() ([]Artifact, error) {
	return s.list(s.Dir(LiveDir))
}

// PruneLive removes the oldest live captures until at most max remain.
func (s *Store) PruneLive(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	list, err := s.LiveCaptures()
	if err != nil {
		return 0, err
	}
	removed := 0
	for len(list)-removed > max {
		if err := s.fs.Remove(list[removed].Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("prune %s: %w", list[removed].Path, err)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) list(dir string) ([]Artifact, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	out := make([]Artifact, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		ts, _ := ParseTimestamp(e.Name())
		out = append(out, Artifact{
			Path:      filepath.Join(dir, e.Name()),
			Name:      e.Name(),
			ModTime:   e.ModTime(),
			Timestamp: ts,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.Before(out[j].ModTime)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
