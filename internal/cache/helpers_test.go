package cache

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func digestOf(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newFileStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	root := t.TempDir()

	idx, err := NewFileIndex(filepath.Join(root, "cache"))
	require.NoError(t, err)

	st, err := NewStore(idx, filepath.Join(root, "screenshots"), ttl, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func imagePath(st *Store, name string) string {
	return filepath.Join(st.ImageDir(), name)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
