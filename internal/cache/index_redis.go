package cache

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisIndex keeps each entry as a JSON string under <prefix>:entry:<key>
// and a reverse mapping <prefix>:file:<filename> -> key.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisIndex connects and pings the server.
func NewRedisIndex(ctx context.Context, opts RedisOptions) (*RedisIndex, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to reach redis at %s", opts.Addr)
	}

	return &RedisIndex{client: client, prefix: opts.Prefix}, nil
}

func (r *RedisIndex) entryKey(key string) string {
	return r.prefix + ":entry:" + key
}

func (r *RedisIndex) fileKey(filename string) string {
	return r.prefix + ":file:" + filename
}

func (r *RedisIndex) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read redis entry")
	}

	var rec record
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "corrupt redis entry")
	}
	return rec.entry(), nil
}

func (r *RedisIndex) Put(ctx context.Context, e *Entry) error {
	data, err := sonic.Marshal(toRecord(e))
	if err != nil {
		return errors.Wrap(err, "failed to encode redis entry")
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.entryKey(e.Key), data, 0)
		p.Set(ctx, r.fileKey(e.Filename), e.Key, 0)
		return nil
	})
	return errors.Wrap(err, "failed to write redis entry")
}

func (r *RedisIndex) Remove(ctx context.Context, key string) error {
	e, err := r.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.entryKey(key))
		p.Del(ctx, r.fileKey(e.Filename))
		return nil
	})
	return errors.Wrap(err, "failed to delete redis entry")
}

func (r *RedisIndex) FindByFilename(ctx context.Context, filename string) (*Entry, error) {
	key, err := r.client.Get(ctx, r.fileKey(filename)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read redis filename mapping")
	}
	return r.Get(ctx, key)
}

func (r *RedisIndex) All(ctx context.Context) ([]*Entry, error) {
	var entries []*Entry
	iter := r.client.Scan(ctx, 0, r.entryKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var rec record
		if err := sonic.Unmarshal(data, &rec); err != nil {
			continue
		}
		entries = append(entries, rec.entry())
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan redis entries")
	}
	return entries, nil
}

func (r *RedisIndex) Clear(ctx context.Context) (int, error) {
	cleared := 0
	for _, pattern := range []string{r.entryKey("*"), r.fileKey("*")} {
		iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
				return cleared, errors.Wrap(err, "failed to clear redis entry")
			}
			if pattern == r.entryKey("*") {
				cleared++
			}
		}
		if err := iter.Err(); err != nil {
			return cleared, errors.Wrap(err, "failed to scan redis entries")
		}
	}
	return cleared, nil
}

func (r *RedisIndex) Close() error {
	return r.client.Close()
}
