// internal/browser/statepath.go
package browser

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// StatePath maps a project identifier to its storage state file. The project
// id is hashed so arbitrary identifiers (URLs, names with separators) always
// produce a stable, filesystem-safe path.
func StatePath(stateDir, projectID string) string {
	sum := sha256.Sum256([]byte(projectID))
	return filepath.Join(stateDir, hex.EncodeToString(sum[:])+".json")
}
