// internal/fileid/path.go
package fileid

import "path/filepath"

// absClean returns the canonical absolute form of path used for identity
// comparison. Symlinks are intentionally not resolved further than
// filepath.Abs/Clean: the WAL and shm paths are derived deterministically
// from the database path by the caller, so two handles on "the same"
// file already share the same input string in the overwhelming majority
// of cases, and the (dev, ino) key in fileid.go is the real source of
// truth wherever the platform provides one.
func absClean(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
