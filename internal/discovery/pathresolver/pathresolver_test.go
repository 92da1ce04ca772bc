package pathresolver

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_NativeOrderingAndDedup(t *testing.T) {
	paths := AgentPaths{
		Linux:   []string{"/tmp/a", "/tmp/a", "/tmp/b"},
		MacOS:   []string{"/tmp/mac"},
		Windows: []string{`%USERPROFILE%\AppData\Roaming\Foo`},
	}

	got := Resolve(paths)
	require.NotEmpty(t, got)

	switch runtime.GOOS {
	case "linux":
		assert.Equal(t, []string{"/tmp/a", "/tmp/b"}, got[:2])
	case "darwin":
		assert.Contains(t, got, "/tmp/mac")
	}
}

func TestWindowsVariant(t *testing.T) {
	got := windowsVariant("c", "alice", `%USERPROFILE%\AppData\Roaming\Foo`)
	assert.Equal(t, "/mnt/c/Users/alice/AppData/Roaming/Foo", got)
}

func TestContainsFold(t *testing.T) {
	assert.True(t, containsFold("Linux version 5.15.90.1-Microsoft-standard-WSL2", "microsoft"))
	assert.False(t, containsFold("Linux version 5.15.0-generic", "microsoft"))
}
