package diff

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/canvas/internal/artifact"
	"github.com/neboloop/canvas/internal/browser"
	"github.com/neboloop/canvas/internal/browser/browsertest"
)

func newEnv(t *testing.T) (*Engine, *artifact.Store, *browsertest.Page) {
	t.Helper()
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	tick := start
	store := artifact.NewStore(afero.NewMemMapFs(), "/proj").WithClock(func() time.Time {
		cur := tick
		tick = tick.Add(time.Second)
		return cur
	})
	page := browsertest.NewPage(browser.Viewport{Width: 32, Height: 24})
	return NewEngine(nil), store, page
}

func TestRunFirstDiffInitializesBaseline(t *testing.T) {
	eng, store, page := newEnv(t)

	res, err := eng.Run(context.Background(), store, page, Options{Threshold: 0.1})
	require.NoError(t, err)
	assert.True(t, res.BaselineInitialized)
	assert.Zero(t, res.MismatchedPixels)
	assert.Zero(t, res.MismatchedRatio)
	assert.Empty(t, res.Regions)
	assert.Equal(t, store.BaselinePath(), res.BaselinePath)
	assert.True(t, store.Exists(store.BaselinePath()))

	ptr, ok := ReadPointer(store)
	require.True(t, ok)
	assert.Equal(t, res.CurrentPath, ptr.BaselinePath)
}

func TestRunRoundTripIsClean(t *testing.T) {
	eng, store, page := newEnv(t)
	ctx := context.Background()

	_, err := eng.Run(ctx, store, page, Options{Threshold: 0.1})
	require.NoError(t, err)
	second, err := eng.Run(ctx, store, page, Options{Threshold: 0.1})
	require.NoError(t, err)

	assert.False(t, second.BaselineInitialized)
	assert.Zero(t, second.MismatchedPixels)
	assert.Empty(t, second.Regions)
	assert.NotEmpty(t, second.DiffPath)
}

func TestRunDetectsChangeAndMovesPointer(t *testing.T) {
	eng, store, page := newEnv(t)
	ctx := context.Background()

	first, err := eng.Run(ctx, store, page, Options{Threshold: 0.1})
	require.NoError(t, err)

	page.SetPixel(30, 20, color.Black)
	second, err := eng.Run(ctx, store, page, Options{Threshold: 0.1})
	require.NoError(t, err)
	assert.Equal(t, first.CurrentPath, second.BaselinePath)
	assert.Equal(t, 1, second.MismatchedPixels)
	require.Len(t, second.Regions, 1)
	assert.True(t, second.Regions[0].Contains(30, 20))
	assert.Contains(t, second.Summary, "bottom-right")
	assert.True(t, store.Exists(second.OverlayPath))

	third, err := eng.Run(ctx, store, page, Options{Threshold: 0.1})
	require.NoError(t, err)
	assert.Equal(t, second.CurrentPath, third.BaselinePath)
	assert.Zero(t, third.MismatchedPixels)
}

func TestRunUsesLatestScreenshotWithoutPointer(t *testing.T) {
	eng, store, page := newEnv(t)
	ctx := context.Background()

	shot, err := page.Screenshot(ctx, browser.ScreenshotOptions{})
	require.NoError(t, err)
	manual, err := store.WriteScreenshot(shot)
	require.NoError(t, err)

	res, err := eng.Run(ctx, store, page, Options{Threshold: 0.1})
	require.NoError(t, err)
	assert.False(t, res.BaselineInitialized)
	assert.Equal(t, manual, res.BaselinePath)
	assert.Zero(t, res.MismatchedPixels)
}

func TestRunSince(t *testing.T) {
	eng, store, page := newEnv(t)
	ctx := context.Background()

	first, err := eng.Run(ctx, store, page, Options{Threshold: 0.1})
	require.NoError(t, err)
	page.SetPixel(0, 0, color.Black)
	_, err = eng.Run(ctx, store, page, Options{Threshold: 0.1})
	require.NoError(t, err)

	stamp := filepath.Base(first.CurrentPath)
	ts, ok := artifact.ParseTimestamp(stamp)
	require.True(t, ok)

	res, err := eng.Run(ctx, store, page, Options{Threshold: 0.1, Since: ts.Format(time.RFC3339Nano)})
	require.NoError(t, err)
	assert.Equal(t, first.CurrentPath, res.BaselinePath)
	assert.Equal(t, 1, res.MismatchedPixels)

	_, err = eng.Run(ctx, store, page, Options{Threshold: 0.1, Since: "yesterday-ish"})
	assert.ErrorIs(t, err, ErrInvalidSince)
}

func TestRunSinceBeforeEveryCaptureKeepsBaseline(t *testing.T) {
	eng, store, page := newEnv(t)
	ctx := context.Background()

	first, err := eng.Run(ctx, store, page, Options{Threshold: 0.1})
	require.NoError(t, err)
	baseline, err := store.ReadFile(store.BaselinePath())
	require.NoError(t, err)
	shots, err := store.Screenshots()
	require.NoError(t, err)

	_, err = eng.Run(ctx, store, page, Options{Threshold: 0.1, Since: "2020-01-01"})
	assert.ErrorIs(t, err, ErrNoCaptureSince)

	ptr, ok := ReadPointer(store)
	require.True(t, ok)
	assert.Equal(t, first.CurrentPath, ptr.BaselinePath)
	after, err := store.ReadFile(store.BaselinePath())
	require.NoError(t, err)
	assert.Equal(t, baseline, after)
	again, err := store.Screenshots()
	require.NoError(t, err)
	assert.Len(t, again, len(shots), "nothing captured")
}

func TestRunRejectsThreshold(t *testing.T) {
	eng, store, page := newEnv(t)
	_, err := eng.Run(context.Background(), store, page, Options{Threshold: -0.1})
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestRunDimensionMismatch(t *testing.T) {
	eng, store, page := newEnv(t)
	ctx := context.Background()
	_, err := eng.Run(ctx, store, page, Options{Threshold: 0.1})
	require.NoError(t, err)

	page.AddElement("#card", &browsertest.Element{Role: "region", Box: browser.Rect{Width: 8, Height: 8}})
	_, err = eng.Run(ctx, store, page, Options{Threshold: 0.1, Selector: "#card"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestManifestRecordsRelativePaths(t *testing.T) {
	eng, store, page := newEnv(t)
	ctx := context.Background()
	_, err := eng.Run(ctx, store, page, Options{Threshold: 0.1})
	require.NoError(t, err)
	_, err = eng.Run(ctx, store, page, Options{Threshold: 0.2})
	require.NoError(t, err)

	data, err := store.ReadFile(filepath.Join(store.Dir(artifact.DiffsDir), "manifest.jsonl"))
	require.NoError(t, err)

	var recs []Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		recs = append(recs, r)
	}
	require.Len(t, recs, 2)
	assert.True(t, recs[0].BaselineInitialized)
	assert.Equal(t, "../screenshots/baseline.png", recs[0].BaselinePath)
	assert.Equal(t, 0.2, recs[1].Threshold)
	assert.False(t, filepath.IsAbs(recs[1].CurrentPath))
	assert.NotEmpty(t, recs[1].DiffPath)
	assert.NotContains(t, recs[1].DiffPath, "/")
}
