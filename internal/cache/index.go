package cache

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
)

// Index persists cache entries. Implementations return ErrNotFound from
// Get and FindByFilename when nothing matches, and treat Remove of a
// missing key as success.
type Index interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, e *Entry) error
	Remove(ctx context.Context, key string) error
	FindByFilename(ctx context.Context, filename string) (*Entry, error)
	All(ctx context.Context) ([]*Entry, error)
	Clear(ctx context.Context) (int, error)
	Close() error
}

// OpenIndex builds the index for backend ("file", "clover" or "redis").
// The file and clover backends live under cacheDir.
func OpenIndex(ctx context.Context, backend, cacheDir string, redisOpts RedisOptions) (Index, error) {
	switch backend {
	case "", "file":
		return NewFileIndex(cacheDir)
	case "clover":
		return NewCloverIndex(filepath.Join(cacheDir, "index.clover"))
	case "redis":
		return NewRedisIndex(ctx, redisOpts)
	default:
		return nil, errors.Errorf("unknown cache backend %q", backend)
	}
}
