// Package cache maps deterministic capture keys to stored images. An
// entry is only trusted while its metadata and its image both exist and
// it has not expired; anything else is purged the next time it is read.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultTTL applies when NewStore is given a non-positive ttl.
const DefaultTTL = time.Hour

// Store combines an Index with the directory holding the images.
type Store struct {
	index    Index
	imageDir string
	ttl      time.Duration
	log      *zap.Logger

	now func() time.Time
}

// NewStore creates imageDir if needed.
func NewStore(index Index, imageDir string, ttl time.Duration, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(imageDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create screenshot directory")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Store{
		index:    index,
		imageDir: imageDir,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
	}, nil
}

// ImageDir is the directory artifacts are written to.
func (s *Store) ImageDir() string {
	return s.imageDir
}

// Lookup returns the entry for key if it is still valid. Expired entries
// and entries whose image has gone missing are purged. Index failures are
// logged and reported as a miss so the caller falls back to rendering.
func (s *Store) Lookup(ctx context.Context, key string) (*Entry, bool) {
	e, err := s.index.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false
	}
	if err != nil {
		s.log.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	if !e.Expired(s.now()) && s.imageExists(e.Filename) {
		return e, true
	}

	if err := s.index.Remove(ctx, key); err != nil {
		s.log.Warn("failed to purge stale cache entry", zap.String("key", key), zap.Error(err))
	}
	return nil, false
}

// Store records filename as the artifact for key, valid for the TTL.
func (s *Store) Store(ctx context.Context, key, filename string, meta Meta) (*Entry, error) {
	now := s.now()
	e := &Entry{
		Key:       key,
		Filename:  filename,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		Meta:      meta,
	}

	if err := s.index.Put(ctx, e); err != nil {
		return nil, errors.Wrapf(err, "failed to store cache entry %s", key)
	}
	return e, nil
}

// WriteArtifact writes an image under filename. The file only appears
// under its final name once fully written.
func (s *Store) WriteArtifact(filename string, data []byte) error {
	if !validName(filename) {
		return ErrInvalidName
	}
	return writeFileAtomic(s.imageDir, filepath.Join(s.imageDir, filename), data)
}

// Delete removes the image and, if present, the entry pointing at it.
func (s *Store) Delete(ctx context.Context, filename string) error {
	if !validName(filename) {
		return ErrInvalidName
	}

	err := os.Remove(filepath.Join(s.imageDir, filename))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "failed to remove artifact")
	}

	e, err := s.index.FindByFilename(ctx, filename)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to find cache entry for artifact")
	}

	return s.index.Remove(ctx, e.Key)
}

// Clear drops every index entry. Images are left on disk.
func (s *Store) Clear(ctx context.Context) (int, error) {
	n, err := s.index.Clear(ctx)
	if err != nil {
		return n, errors.Wrap(err, "failed to clear cache")
	}
	return n, nil
}

// Sweep purges every expired entry and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	entries, err := s.index.All(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	purged := 0
	for _, e := range entries {
		if !e.Expired(now) {
			continue
		}
		if err := s.index.Remove(ctx, e.Key); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// Stats counts valid and expired entries and sums the artifact sizes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	entries, err := s.index.All(ctx)
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	now := s.now()
	st.CacheEntries = len(entries)
	for _, e := range entries {
		if e.Expired(now) {
			st.ExpiredEntries++
		} else {
			st.ValidEntries++
		}
	}

	artifacts, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	st.ScreenshotCount = len(artifacts)
	for _, a := range artifacts {
		st.TotalSizeBytes += a.Size
	}
	st.TotalSizeMB = fmt.Sprintf("%.2f", float64(st.TotalSizeBytes)/1024/1024)

	return st, nil
}

// List enumerates the stored images.
func (s *Store) List(_ context.Context) ([]Artifact, error) {
	dirEntries, err := os.ReadDir(s.imageDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list screenshot directory")
	}

	artifacts := make([]Artifact, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || isTemp(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, Artifact{
			Filename: de.Name(),
			Size:     info.Size(),
			Created:  info.ModTime(),
		})
	}
	return artifacts, nil
}

// Close releases the index.
func (s *Store) Close() error {
	return s.index.Close()
}

func (s *Store) imageExists(filename string) bool {
	if !validName(filename) {
		return false
	}
	_, err := os.Stat(filepath.Join(s.imageDir, filename))
	return err == nil
}
