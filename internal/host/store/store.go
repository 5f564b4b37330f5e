// Package store persists backend records in a bbolt database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"
	bolt "go.etcd.io/bbolt"
)

const (
	filePerms   = os.FileMode(0o600)
	openTimeout = 5 * time.Second
)

// BoltStore keeps JSON-encoded records of type T in one bucket.
//
// The database is opened for each operation and closed afterwards, so a
// CLI process can inspect records while a library instance is running.
type BoltStore[T any] struct {
	path   string
	bucket []byte
}

// NewBoltStore returns a store backed by the database at path. The parent
// directory is created if needed; the database file is created on first write.
func NewBoltStore[T any](path, bucket string) (*BoltStore[T], error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required: %w", errdefs.ErrInvalidArgument)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &BoltStore[T]{path: path, bucket: []byte(bucket)}, nil
}

// Path returns the database file location.
func (s *BoltStore[T]) Path() string {
	return s.path
}

func (s *BoltStore[T]) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(s.path, filePerms, &bolt.Options{Timeout: openTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	return db, nil
}

func (s *BoltStore[T]) update(fn func(b *bolt.Bucket) error) (retErr error) {
	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer func() {
		retErr = errors.Join(retErr, db.Close())
	}()
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return fn(b)
	})
}

// view runs fn against the bucket. fn receives nil when the database or the
// bucket does not exist yet.
func (s *BoltStore[T]) view(fn func(b *bolt.Bucket) error) (retErr error) {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return fn(nil)
	}
	db, err := s.open(true)
	if err != nil {
		return err
	}
	defer func() {
		retErr = errors.Join(retErr, db.Close())
	}()
	return db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(s.bucket))
	})
}

// Put stores v under key, replacing any previous value.
func (s *BoltStore[T]) Put(key string, v T) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record %q: %w", key, err)
	}
	return s.update(func(b *bolt.Bucket) error {
		return b.Put([]byte(key), payload)
	})
}

// Get returns the value stored under key, or an errdefs.ErrNotFound error.
func (s *BoltStore[T]) Get(key string) (T, error) {
	var v T
	err := s.view(func(b *bolt.Bucket) error {
		if b == nil {
			return fmt.Errorf("record %q: %w", key, errdefs.ErrNotFound)
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return fmt.Errorf("record %q: %w", key, errdefs.ErrNotFound)
		}
		return json.Unmarshal(raw, &v)
	})
	return v, err
}

// Delete removes key. Deleting a missing key is not an error.
func (s *BoltStore[T]) Delete(key string) error {
	return s.update(func(b *bolt.Bucket) error {
		return b.Delete([]byte(key))
	})
}

// List returns every stored value in key order.
func (s *BoltStore[T]) List() ([]T, error) {
	var out []T
	err := s.view(func(b *bolt.Bucket) error {
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, raw []byte) error {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("decode record %q: %w", k, err)
			}
			out = append(out, v)
			return nil
		})
	})
	return out, err
}
