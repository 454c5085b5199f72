package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type proberFunc func(ctx context.Context) error

func (f proberFunc) Probe(ctx context.Context) error { return f(ctx) }

func TestRunKeepsOrderAndCounts(t *testing.T) {
	dir := t.TempDir()
	r := Run(context.Background(),
		DataDir(filepath.Join(dir, "data")),
		ConfigFile(filepath.Join(dir, "missing.yaml")),
		Driver(proberFunc(func(context.Context) error { return errors.New("driver missing") })),
		Socket(filepath.Join(dir, "none.sock")),
	)
	require.Len(t, r.Checks, 4)
	assert.Equal(t, "Data Directory", r.Checks[0].Name)
	assert.Equal(t, StatusOK, r.Checks[0].Status)
	assert.Equal(t, StatusWarn, r.Checks[1].Status)
	assert.Equal(t, StatusError, r.Checks[2].Status)
	assert.Contains(t, r.Checks[2].Message, "playwright")
	assert.Equal(t, StatusWarn, r.Checks[3].Status)
	assert.Equal(t, 1, r.OK)
	assert.Equal(t, 2, r.Warn)
	assert.Equal(t, 1, r.Error)
	assert.False(t, r.Healthy())
}

func TestConfigFilePresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	c := ConfigFile(path)(context.Background())
	assert.Equal(t, StatusOK, c.Status)
}

func TestDriverOK(t *testing.T) {
	c := Driver(proberFunc(func(context.Context) error { return nil }))(context.Background())
	assert.Equal(t, StatusOK, c.Status)
	assert.Equal(t, StatusWarn, Driver(nil)(context.Background()).Status)
}

func TestChromeCustomPathMissing(t *testing.T) {
	c := Chrome(filepath.Join(t.TempDir(), "no-chrome"), false)(context.Background())
	assert.Equal(t, StatusWarn, c.Status)
	assert.Contains(t, c.Message, "not found")
}
