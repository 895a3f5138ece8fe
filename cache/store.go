// Package cache memoizes expensive remote work.
//
// A Store is a flat string-keyed map of JSON values persisted to a single
// file (plain JSON, a zipped JSON entry or BSON, chosen by extension) or to a
// Redis hash. File stores load lazily and rewrite the whole file on every
// mutation; they assume a single writer. Reports layers the
// {user}/{project}/{sha} key scheme for BetterCodeHub results on top.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Store is a persistent key/value map of JSON documents.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Open picks a backend from the location: redis:// and rediss:// URLs use a
// Redis hash, .zip and .bson files use those encodings, anything else is a
// plain JSON file.
func Open(ctx context.Context, location string) (Store, error) {
	if strings.HasPrefix(location, "redis://") || strings.HasPrefix(location, "rediss://") {
		return OpenRedis(ctx, location, DefaultRedisKey)
	}
	return NewFileStore(location), nil
}

// SetValue marshals v and stores it under key.
func SetValue(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

// GetValue decodes the value under key into out. It reports false when the
// key is absent.
func GetValue(ctx context.Context, s Store, key string, out any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("unmarshal %q: %w", key, err)
	}
	return true, nil
}

// Merge copies every entry of srcs into dst. Later sources win on
// conflicting keys. It returns the number of entries written.
func Merge(ctx context.Context, dst Store, srcs ...Store) (int, error) {
	if fs, ok := dst.(*FileStore); ok {
		return mergeIntoFile(ctx, fs, srcs)
	}
	written := 0
	for _, src := range srcs {
		keys, err := src.Keys(ctx)
		if err != nil {
			return written, err
		}
		for _, k := range keys {
			v, ok, err := src.Get(ctx, k)
			if err != nil {
				return written, err
			}
			if !ok {
				continue
			}
			if err := dst.Set(ctx, k, v); err != nil {
				return written, err
			}
			written++
		}
	}
	return written, nil
}

// mergeIntoFile batches the merge into a single file rewrite.
func mergeIntoFile(ctx context.Context, dst *FileStore, srcs []Store) (int, error) {
	data, err := dst.load()
	if err != nil {
		return 0, err
	}
	written := 0
	for _, src := range srcs {
		keys, err := src.Keys(ctx)
		if err != nil {
			return written, err
		}
		for _, k := range keys {
			v, ok, err := src.Get(ctx, k)
			if err != nil {
				return written, err
			}
			if ok {
				data[k] = v
				written++
			}
		}
	}
	return written, dst.save()
}

// FindStores lists the cache files in dir, that is the .json, .zip and .bson
// files whose name contains "cache".
func FindStores(dir string) ([]Store, error) {
	var stores []Store
	for _, pattern := range []string{"*cache*.json", "*cache*.zip", "*cache*.bson"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, m := range matches {
			stores = append(stores, NewFileStore(m))
		}
	}
	return stores, nil
}
