// Package omap implements the object map adapter (C3): a thin layer over
// the embedded key/value store (kvstore) keyed by collection and object
// identifier (keys carry no sequencer position), used both for per-object
// omap key/value pairs
// and as the overflow destination for attributes too large to live inline
// (C2's "prefer omap" path).
//
// Grounded on consumer/store-rocksdb/store_rocksdb.go's Store wrapper
// shape, adapted from a RocksDB-backed consumer.Store to a keyed adapter
// over kvstore.Store.
package omap

import (
	"bytes"
	"fmt"

	"github.com/gazette-labs/storekit/kvstore"
	"github.com/gazette-labs/storekit/oid"
)

const (
	keyPrefixOmap     = "omap:"
	keyPrefixHeader   = "hdr:"
	keyPrefixOverflow = "ovf:"
)

// Adapter is the object map adapter over a kvstore.Store.
type Adapter struct {
	kv *kvstore.Store
}

// New returns an Adapter over the given kv store.
func New(kv *kvstore.Store) *Adapter {
	return &Adapter{kv: kv}
}

func objectKey(prefix string, cid oid.CID, o oid.OID, rest string) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%s\x00%s", prefix, cid, o, rest))
}

// SetKeys writes a batch of key/value pairs into (cid, oid)'s omap.
func (a *Adapter) SetKeys(cid oid.CID, o oid.OID, kvs map[string][]byte) error {
	var b = a.kv.NewBatch()
	for k, v := range kvs {
		b.Put(objectKey(keyPrefixOmap, cid, o, k), v)
	}
	return a.kv.Commit(b)
}

// RmKeys removes the named keys from (cid, oid)'s omap. Removing an absent
// key is not an error.
func (a *Adapter) RmKeys(cid oid.CID, o oid.OID, keys []string) error {
	var b = a.kv.NewBatch()
	for _, k := range keys {
		b.Delete(objectKey(keyPrefixOmap, cid, o, k))
	}
	return a.kv.Commit(b)
}

// Get returns the value of a single omap key.
func (a *Adapter) Get(cid oid.CID, o oid.OID, key string) ([]byte, bool, error) {
	return a.kv.Get(objectKey(keyPrefixOmap, cid, o, key))
}

// Clear removes all omap keys and the header of (cid, oid).
func (a *Adapter) Clear(cid oid.CID, o oid.OID) error {
	var prefix = []byte(fmt.Sprintf("%s%s\x00%s\x00", keyPrefixOmap, cid, o))
	var toDelete [][]byte
	if err := a.kv.Iterate(prefix, func(k, _ []byte) bool {
		toDelete = append(toDelete, append([]byte(nil), k...))
		return true
	}); err != nil {
		return err
	}

	var b = a.kv.NewBatch()
	for _, k := range toDelete {
		b.Delete(k)
	}
	b.Delete(objectKey(keyPrefixHeader, cid, o, ""))
	return a.kv.Commit(b)
}

// SetHeader sets the omap header blob of (cid, oid).
func (a *Adapter) SetHeader(cid oid.CID, o oid.OID, header []byte) error {
	return a.kv.Put(objectKey(keyPrefixHeader, cid, o, ""), header)
}

// Header returns the omap header blob of (cid, oid).
func (a *Adapter) Header(cid oid.CID, o oid.OID) ([]byte, bool, error) {
	return a.kv.Get(objectKey(keyPrefixHeader, cid, o, ""))
}

// Iterate visits every omap key/value pair of (cid, oid) in ascending key
// order until fn returns false.
func (a *Adapter) Iterate(cid oid.CID, o oid.OID, fn func(key string, value []byte) bool) error {
	var prefix = objectKey(keyPrefixOmap, cid, o, "")
	return a.kv.Iterate(prefix, func(k, v []byte) bool {
		var rest = bytes.TrimPrefix(k, prefix)
		return fn(string(rest), v)
	})
}

// --- attrstore.Overflow implementation -----------------------------------
//
// Large or excess extended-attribute values spill here, keyed by
// (cid, oid, attribute name) rather than by omap key, so the two
// namespaces never collide.

// OverflowGet implements attrstore.Overflow.
func (a *Adapter) OverflowGet(cid oid.CID, o oid.OID, attr string) ([]byte, bool, error) {
	return a.kv.Get(objectKey(keyPrefixOverflow, cid, o, attr))
}

// OverflowPut implements attrstore.Overflow.
func (a *Adapter) OverflowPut(cid oid.CID, o oid.OID, attr string, value []byte) error {
	return a.kv.Put(objectKey(keyPrefixOverflow, cid, o, attr), value)
}

// OverflowDelete implements attrstore.Overflow.
func (a *Adapter) OverflowDelete(cid oid.CID, o oid.OID, attr string) error {
	return a.kv.Delete(objectKey(keyPrefixOverflow, cid, o, attr))
}
