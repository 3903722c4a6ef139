// internal/browser/statepath_test.go
package browser

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestStatePath(t *testing.T) {
	a := StatePath("/var/state", "project-a")
	b := StatePath("/var/state", "project-b")

	assert.NotEqual(t, a, b, "distinct projects get distinct paths")
	assert.Equal(t, a, StatePath("/var/state", "project-a"), "path is deterministic")
	assert.True(t, strings.HasSuffix(a, ".json"))
	assert.Equal(t, "/var/state", filepath.Dir(a))

	// Hostile identifiers still map inside the state dir.
	hostile := StatePath("/var/state", "../../etc/passwd")
	assert.Equal(t, "/var/state", filepath.Dir(hostile))
}

func TestStateFileUsable(t *testing.T) {
	logger := zap.NewNop()
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		assert.False(t, stateFileUsable(filepath.Join(dir, "missing.json"), logger))
	})

	t.Run("corrupt file is treated as absent", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.json")
		writeFile(t, path, "{not json")
		assert.False(t, stateFileUsable(path, logger))
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "good.json")
		writeFile(t, path, `{"cookies":[],"origins":[]}`)
		assert.True(t, stateFileUsable(path, logger))
	})
}
