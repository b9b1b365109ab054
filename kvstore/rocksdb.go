// Package kvstore wraps an embedded RocksDB instance as the external
// key/value store used by the object map adapter (C3) and the attribute
// store's overflow path (C2). The core only ever reaches it through this
// small transactional put/delete/get/iterate surface, per spec.md's
// explicit framing of the omap/kv store as an external collaborator.
//
// Grounded directly on consumer/store-rocksdb/store_rocksdb.go's Store
// wrapper shape (bundled DB handle, options, and write batch, with no
// package-level globals) and arena_iterator.go's iterator usage.
package kvstore

import (
	"github.com/jgraettinger/gorocksdb"
	"github.com/pkg/errors"
)

// Store is a handle to an embedded RocksDB instance providing the
// transactional put/delete/get/iterate surface the core requires.
type Store struct {
	DB           *gorocksdb.DB
	Options      *gorocksdb.Options
	ReadOptions  *gorocksdb.ReadOptions
	WriteOptions *gorocksdb.WriteOptions

	dir string
}

// Open creates or opens a Store rooted at dir (typically
// <base>/current/omap).
func Open(dir string) (*Store, error) {
	var opts = gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)

	var db, err = gorocksdb.OpenDb(opts, dir)
	if err != nil {
		return nil, errors.Wrap(err, "open rocksdb")
	}

	return &Store{
		DB:           db,
		Options:      opts,
		ReadOptions:  gorocksdb.NewDefaultReadOptions(),
		WriteOptions: gorocksdb.NewDefaultWriteOptions(),
		dir:          dir,
	}, nil
}

// Close releases the Store's handles.
func (s *Store) Close() {
	s.ReadOptions.Destroy()
	s.WriteOptions.Destroy()
	s.DB.Close()
	s.Options.Destroy()
}

// Get returns the value of key, and whether it was present.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	var slice, err = s.DB.Get(s.ReadOptions, key)
	if err != nil {
		return nil, false, errors.Wrap(err, "rocksdb get")
	}
	defer slice.Free()

	if !slice.Exists() {
		return nil, false, nil
	}
	var out = make([]byte, slice.Size())
	copy(out, slice.Data())
	return out, true, nil
}

// Put writes key to value.
func (s *Store) Put(key, value []byte) error {
	if err := s.DB.Put(s.WriteOptions, key, value); err != nil {
		return errors.Wrap(err, "rocksdb put")
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error, matching
// RocksDB's tombstone semantics.
func (s *Store) Delete(key []byte) error {
	if err := s.DB.Delete(s.WriteOptions, key); err != nil {
		return errors.Wrap(err, "rocksdb delete")
	}
	return nil
}

// Batch applies a set of puts and deletes atomically.
type Batch struct {
	wb *gorocksdb.WriteBatch
}

// NewBatch returns an empty Batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{wb: gorocksdb.NewWriteBatch()}
}

// Put stages a put in the batch.
func (b *Batch) Put(key, value []byte) { b.wb.Put(key, value) }

// Delete stages a delete in the batch.
func (b *Batch) Delete(key []byte) { b.wb.Delete(key) }

// Commit atomically applies the batch and releases it.
func (s *Store) Commit(b *Batch) error {
	defer b.wb.Destroy()
	if err := s.DB.Write(s.WriteOptions, b.wb); err != nil {
		return errors.Wrap(err, "rocksdb write batch")
	}
	return nil
}

// Iterate invokes fn for every key with the given prefix, in ascending key
// order, until fn returns false or the prefix is exhausted.
func (s *Store) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	var it = s.DB.NewIterator(s.ReadOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var k, v = it.Key(), it.Value()
		var cont = fn(k.Data(), v.Data())
		k.Free()
		v.Free()
		if !cont {
			break
		}
	}
	return errors.Wrap(it.Err(), "rocksdb iterate")
}
