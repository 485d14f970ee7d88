// Package fileid derives stable keys from source file paths.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

const (
	keyLen    = 16
	keySuffix = ".json"
)

// Normalize returns the absolute, cleaned form of path. All metadata is keyed by
// the normalized path so that "./a.go" and "/repo/a.go" name the same file.
func Normalize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// MetaKey returns the metadata record key for an already normalized path:
// the first 16 hex characters of its SHA-256 digest plus ".json".
// Same path always yields the same key.
func MetaKey(normalizedPath string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(normalizedPath)))
	return hex.EncodeToString(hash[:])[:keyLen] + keySuffix
}
