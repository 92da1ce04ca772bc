package pathvalidator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akamalov/mcp-log-server-sub000/internal/logger"
)

type fakeWatcher struct {
	path   string
	closed bool
}

func (f *fakeWatcher) Path() string { return f.path }
func (f *fakeWatcher) Close()       { f.closed = true }

func TestValidatePaths(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "a.log")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0644))

	valid, invalid := ValidatePaths([]string{existing, filepath.Join(dir, "missing.log")})
	assert.Equal(t, 1, valid)
	assert.Equal(t, 1, invalid)
}

func TestValidator_EvictsDeadPath(t *testing.T) {
	dir := t.TempDir()
	gone := filepath.Join(dir, "gone.log")
	require.NoError(t, os.WriteFile(gone, []byte("x"), 0644))

	var removed []Removal
	v := New(10*time.Millisecond, func(r Removal) { removed = append(removed, r) }, logger.Default())

	w := &fakeWatcher{path: gone}
	v.Register(w)

	require.NoError(t, os.Remove(gone))

	report := v.runOnce()
	assert.Equal(t, 0, report.ValidCount)
	assert.Equal(t, 1, report.InvalidCount)
	assert.True(t, w.closed)
	require.Len(t, removed, 1)
	assert.Equal(t, ReasonPathInvalid, removed[0].Reason)
}
