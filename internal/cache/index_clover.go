package cache

import (
	"context"
	"os"
	"sync"

	"github.com/ostafen/clover"
	"github.com/pkg/errors"
)

const cloverCollection = "cache_entries"

// CloverIndex stores entries in an embedded clover document database,
// which avoids the directory scans the file index needs for filename
// lookups and stats.
type CloverIndex struct {
	db *clover.DB

	// mu makes the delete+insert in Put one step; the database is embedded,
	// so this process is its only writer.
	mu sync.Mutex
}

// NewCloverIndex opens (or creates) the database under dir.
func NewCloverIndex(dir string) (*CloverIndex, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create clover directory")
	}

	db, err := clover.Open(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open clover index")
	}

	exists, err := db.HasCollection(cloverCollection)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to check collection existence")
	}
	if !exists {
		if err := db.CreateCollection(cloverCollection); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to create collection")
		}
	}

	return &CloverIndex{db: db}, nil
}

func (c *CloverIndex) first(field, value string) (*Entry, error) {
	docs, err := c.db.Query(cloverCollection).Where(clover.Field(field).Eq(value)).FindAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to query clover index")
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}

	var r record
	if err := docs[0].Unmarshal(&r); err != nil {
		return nil, errors.Wrap(err, "failed to decode clover document")
	}
	return r.entry(), nil
}

func (c *CloverIndex) Get(_ context.Context, key string) (*Entry, error) {
	return c.first("key", key)
}

func (c *CloverIndex) FindByFilename(_ context.Context, filename string) (*Entry, error) {
	return c.first("filename", filename)
}

// Put replaces any previous document for the same key. Concurrent Puts
// for one key leave exactly one document: the last writer's.
func (c *CloverIndex) Put(_ context.Context, e *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(e.Key)).Delete(); err != nil {
		return errors.Wrap(err, "failed to replace clover document")
	}

	doc := clover.NewDocumentOf(toRecord(e))
	if err := c.db.Insert(cloverCollection, doc); err != nil {
		return errors.Wrap(err, "failed to insert clover document")
	}
	return nil
}

func (c *CloverIndex) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.db.Query(cloverCollection).Where(clover.Field("key").Eq(key)).Delete(); err != nil {
		return errors.Wrap(err, "failed to delete clover document")
	}
	return nil
}

func (c *CloverIndex) All(_ context.Context) ([]*Entry, error) {
	docs, err := c.db.Query(cloverCollection).FindAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list clover index")
	}

	entries := make([]*Entry, 0, len(docs))
	for _, doc := range docs {
		var r record
		if err := doc.Unmarshal(&r); err != nil {
			continue
		}
		entries = append(entries, r.entry())
	}
	return entries, nil
}

func (c *CloverIndex) Clear(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.db.Query(cloverCollection)
	n, err := q.Count()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count clover documents")
	}
	if err := q.Delete(); err != nil {
		return 0, errors.Wrap(err, "failed to clear clover index")
	}
	return n, nil
}

func (c *CloverIndex) Close() error {
	return c.db.Close()
}
