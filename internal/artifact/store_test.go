package artifact

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		cur := t
		t = t.Add(step)
		return cur
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	at := time.Date(2026, 10, 19, 8, 30, 0, 123_000_000, time.UTC)
	stamp := Timestamp(at)
	assert.Equal(t, "2026-10-19T08-30-00.123Z", stamp)
	assert.NotContains(t, stamp, ":")

	for _, name := range []string{stamp + ".png", stamp + ".diff.png", stamp + "-000042.png"} {
		got, ok := ParseTimestamp(name)
		require.True(t, ok, name)
		assert.True(t, at.Equal(got), name)
	}

	_, ok := ParseTimestamp("baseline.png")
	assert.False(t, ok)
}

func TestWriteScreenshotAvoidsCollisions(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewStore(afero.NewMemMapFs(), "/proj").WithClock(func() time.Time { return at })

	p1, err := s.WriteScreenshot([]byte("a"))
	require.NoError(t, err)
	p2, err := s.WriteScreenshot([]byte("b"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/proj", ".canvas", "screenshots", "2026-01-02T03-04-05.000Z.png"), p1)
	assert.NotEqual(t, p1, p2)
}

func TestScreenshotsExcludeBaseline(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), "/proj").
		WithClock(fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second))

	first, err := s.WriteScreenshot([]byte("1"))
	require.NoError(t, err)
	second, err := s.WriteScreenshot([]byte("2"))
	require.NoError(t, err)
	require.NoError(t, s.Copy(second, s.BaselinePath()))

	list, err := s.Screenshots()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].Path)
	assert.Equal(t, second, list[1].Path)
}

func TestScreenshotsEmptyDir(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), "/proj")
	list, err := s.Screenshots()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPruneLiveKeepsNewest(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), "/proj").
		WithClock(fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second))

	var paths []string
	for i := 0; i < 5; i++ {
		p, err := s.WriteLive(i, []byte{byte(i)})
		require.NoError(t, err)
		paths = append(paths, p)
	}
	assert.Contains(t, paths[3], "-000003.png")

	removed, err := s.PruneLive(2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	left, err := s.LiveCaptures()
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, paths[3], left[0].Path)
	assert.Equal(t, paths[4], left[1].Path)
}

func TestAppendLine(t *testing.T) {
	s := NewStore(afero.NewMemMapFs(), "/proj")
	p := filepath.Join(s.Dir(DiffsDir), "manifest.jsonl")
	require.NoError(t, s.AppendLine(p, []byte(`{"a":1}`)))
	require.NoError(t, s.AppendLine(p, []byte(`{"a":2}`)))

	data, err := s.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", string(data))
}

func TestConcurrentScreenshotsGetDistinctNames(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewStore(afero.NewOsFs(), t.TempDir()).WithClock(func() time.Time { return at })

	const n = 16
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := s.WriteScreenshot([]byte{byte(i)})
			assert.NoError(t, err)
			paths[i] = p
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, p := range paths {
		require.NotEmpty(t, p)
		assert.False(t, seen[p], "duplicate %s", p)
		seen[p] = true
	}
	shots, err := s.Screenshots()
	require.NoError(t, err)
	assert.Len(t, shots, n)
}
