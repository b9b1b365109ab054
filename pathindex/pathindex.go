// Package pathindex maps (CID, OID) pairs to stable filesystem paths under
// a collection directory (component C1 of the design). Directory layout is
// split by the OID's hash prefix to bound directory size, with long object
// names hashed into a disambiguated encoding recording the original name
// as a reserved extended attribute.
//
// Grounded on the teacher's broker/fragment/store_fs.go discipline of
// MkdirAll + temp-file + atomic link-into-place, generalized from
// fragment-relative-paths to collision-resolved object names.
package pathindex

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/gazette-labs/storekit/oid"
	"github.com/gazette-labs/storekit/xattr"
)

// LongNameAttr is the reserved extended attribute key under which the
// full, untruncated OID is stored for long-name encoded files, so that
// hash collisions can be resolved by direct comparison.
const LongNameAttr = "user.storekit.long-name"

// maxNameLen is the filesystem filename budget minus a small reserved tail
// for suffixes the interpreter or attribute store might append.
const maxNameLen = 255 - 16

// splitBits is the number of hash-prefix bits consumed per directory
// sharding level. Eight bits per level (one byte, two hex digits) keeps
// subdirectory fan-out at 256 while still bounding directory size.
const splitBits = 8

// Index resolves (CID, OID) to filesystem paths under base.
type Index struct {
	// Base is the root of the "current" working directory (<base>/current).
	Base string

	cache *pathCache
}

// New returns an Index rooted at base (typically <store base>/current).
func New(base string) *Index {
	return &Index{Base: base, cache: newPathCache()}
}

// CollectionDir returns the directory for a collection. It does not create
// the directory; that is CREATE_COLLECTION's job.
func (x *Index) CollectionDir(cid oid.CID) string {
	return filepath.Join(x.Base, sanitizeCID(cid))
}

// shardDir returns the sharded subdirectory of a collection directory for
// the given OID, without creating it.
func (x *Index) shardDir(cid oid.CID, o oid.OID) string {
	var prefix = o.HashPrefix()
	var shard = fmt.Sprintf("%02x", byte(prefix>>(32-splitBits)))
	return filepath.Join(x.CollectionDir(cid), shard)
}

// shortName returns the verbatim filename encoding for an OID, and whether
// it fits the short filename budget.
func shortName(o oid.OID) (string, bool) {
	var s = string(o)
	if len(s) <= maxNameLen {
		return s, true
	}
	return "", false
}

// longNameBase returns the <prefix>_<hex-hash>_ stem shared by all
// disambiguation indices of a long-name-encoded OID.
func longNameBase(o oid.OID) string {
	var s = string(o)
	var digest = sha1.Sum([]byte(s))
	var hexHash = hex.EncodeToString(digest[:])

	// Truncate the prefix to leave room for "_<40 hex>_<index>_long".
	var budget = maxNameLen - (1 + len(hexHash) + 1 + 8 + 1 + len("long"))
	if budget < 0 {
		budget = 0
	}
	if len(s) > budget {
		s = s[:budget]
	}
	return fmt.Sprintf("%s_%s", s, hexHash)
}

func longName(o oid.OID, index int) string {
	return fmt.Sprintf("%s_%d_long", longNameBase(o), index)
}

// Lookup resolves (cid, oid) to its current path. It never creates
// anything, and resolves hash collisions among long-name-encoded files by
// comparing the reserved LongNameAttr against the full OID.
func (x *Index) Lookup(cid oid.CID, o oid.OID) (path string, exists bool, err error) {
	if cached, ok := x.cache.get(cid, o); ok {
		if _, statErr := os.Lstat(cached); statErr == nil {
			return cached, true, nil
		}
		x.cache.evict(cid, o) // Stale: unlinked or moved outside our control.
	}

	var dir = x.shardDir(cid, o)

	if short, ok := shortName(o); ok {
		path = filepath.Join(dir, short)
		if st, statErr := os.Lstat(path); statErr == nil {
			x.cache.put(cid, o, path)
			return path, true, nil
		} else if !os.IsNotExist(statErr) {
			return "", false, errors.Wrap(statErr, "lookup stat")
		} else {
			_ = st
			return "", false, nil
		}
	}

	// Long-name encoded: scan disambiguation indices until we find one
	// whose stored long-name attribute matches, or run out.
	for index := 0; ; index++ {
		var candidate = filepath.Join(dir, longName(o, index))
		var attr, getErr = xattr.Get(candidate, LongNameAttr)
		if errors.Is(getErr, xattr.ErrNoData) {
			continue
		} else if os.IsNotExist(getErr) {
			return "", false, nil
		} else if getErr != nil {
			return "", false, errors.Wrap(getErr, "lookup long-name attr")
		}
		if string(attr) == string(o) {
			x.cache.put(cid, o, candidate)
			return candidate, true, nil
		}
	}
}

// Create reserves a path for (cid, oid) and ensures a real, possibly empty,
// file exists at it, writing the long-name attribute if the encoding is
// hashed. It does not truncate an existing file or write content; the
// interpreter's TOUCH/WRITE/CLONE primitives populate content once the
// path is known, and its replay guard needs a real inode to attach to
// before any of them run.
func (x *Index) Create(cid oid.CID, o oid.OID) (path string, err error) {
	var dir = x.shardDir(cid, o)
	if err = os.MkdirAll(dir, 0750); err != nil {
		return "", errors.Wrap(err, "create shard dir")
	}

	if short, ok := shortName(o); ok {
		var path = filepath.Join(dir, short)
		if _, statErr := os.Lstat(path); statErr != nil {
			if !os.IsNotExist(statErr) {
				return "", errors.Wrap(statErr, "create stat")
			}
			if f, createErr := os.OpenFile(path, os.O_CREATE|os.O_EXCL, 0640); createErr != nil {
				if !os.IsExist(createErr) {
					return "", errors.Wrap(createErr, "create placeholder")
				}
			} else {
				f.Close()
			}
		}
		x.cache.put(cid, o, path)
		return path, nil
	}

	for index := 0; ; index++ {
		var candidate = filepath.Join(dir, longName(o, index))
		if attr, getErr := xattr.Get(candidate, LongNameAttr); getErr == nil {
			if string(attr) == string(o) {
				x.cache.put(cid, o, candidate)
				return candidate, nil // Already reserved by a prior create.
			}
			continue // Collides with a different long OID; try next index.
		} else if !errors.Is(getErr, xattr.ErrNoData) && !os.IsNotExist(getErr) {
			return "", errors.Wrap(getErr, "create long-name probe")
		}
		// candidate is free (either missing or exists without our attr yet
		// because it was just created and not yet tagged).
		if _, statErr := os.Lstat(candidate); os.IsNotExist(statErr) {
			// Touch an empty placeholder so the long-name attribute has a
			// target; the interpreter will populate real content.
			if f, createErr := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL, 0640); createErr != nil {
				if os.IsExist(createErr) {
					continue // Lost a race; try the next index.
				}
				return "", errors.Wrap(createErr, "create long-name placeholder")
			} else {
				f.Close()
			}
		}
		if err = xattr.Set(candidate, LongNameAttr, []byte(o)); err != nil {
			return "", errors.Wrap(err, "set long-name attr")
		}
		x.cache.put(cid, o, candidate)
		return candidate, nil
	}
}

// Unlink removes the indexed path for (cid, oid). If the path doesn't
// exist it removes nothing and returns os.ErrNotExist; callers apply
// spec.md's "No such entry" tolerance themselves.
func (x *Index) Unlink(cid oid.CID, o oid.OID) error {
	var path, exists, err = x.Lookup(cid, o)
	if err != nil {
		return err
	}
	if !exists {
		return os.ErrNotExist
	}
	x.cache.evict(cid, o)
	return os.Remove(path)
}

// Item is one entry returned by ListPartial.
type Item struct {
	OID  oid.OID
	Path string
}

// Cursor restarts a ListPartial enumeration after the last-returned item.
type Cursor struct {
	ShardIndex int
	After      string
}

// ListPartial enumerates objects of cid in a stable order driven by the
// hash-prefix shard directories, honoring a [min, max] item budget and
// returning a restartable cursor. min is a soft floor (list continues
// until at least min items are collected or the collection is exhausted);
// max is a hard ceiling.
func (x *Index) ListPartial(cid oid.CID, start Cursor, min, max int) (items []Item, next Cursor, err error) {
	var dir = x.CollectionDir(cid)
	var shards []string

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, Cursor{}, nil
		}
		return nil, Cursor{}, errors.Wrap(readErr, "list collection dir")
	}
	for _, e := range entries {
		if e.IsDir() {
			shards = append(shards, e.Name())
		}
	}
	sort.Strings(shards)

	for si := start.ShardIndex; si < len(shards); si++ {
		var shardDir = filepath.Join(dir, shards[si])
		var names []string
		if walkErr := filepath.WalkDir(shardDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			names = append(names, p)
			return nil
		}); walkErr != nil {
			return nil, Cursor{}, errors.Wrap(walkErr, "walk shard")
		}
		sort.Strings(names)

		for _, p := range names {
			if si == start.ShardIndex && p <= start.After {
				continue
			}
			var o, nameErr = recoverOID(p)
			if nameErr != nil {
				continue // Skip files we can't decode (e.g. temp files).
			}
			items = append(items, Item{OID: o, Path: p})
			if len(items) >= max {
				return items, Cursor{ShardIndex: si, After: p}, nil
			}
		}

		// min is a soft floor: once satisfied, stop at this shard boundary
		// rather than continuing to walk shards a caller didn't ask for.
		// Unlike max it never truncates mid-shard, since there's no partial
		// item to cut off from a floor the way there is from a ceiling.
		if len(items) >= min && si+1 < len(shards) {
			return items, Cursor{ShardIndex: si + 1}, nil
		}
	}
	// Exhausted: a cursor past the last shard makes a restart return nothing.
	return items, Cursor{ShardIndex: len(shards)}, nil
}

// CollectionEmpty reports whether cid currently indexes zero objects.
//
// The original implementation this design was distilled from inverted this
// check (it returned whether the collection was non-empty while callers
// treated the result as "is empty"), corrupting DESTROY_COLLECTION's
// emptiness precondition. This adaptation restores the straightforward,
// non-inverted meaning: true means truly empty.
func (x *Index) CollectionEmpty(cid oid.CID) (bool, error) {
	var dir = x.CollectionDir(cid)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, errors.Wrap(err, "read collection dir")
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue // Stray non-shard file; ignore for emptiness purposes.
		}
		var shardDir = filepath.Join(dir, e.Name())
		var nonEmpty bool
		var walkErr = filepath.WalkDir(shardDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				nonEmpty = true
				return filepath.SkipAll
			}
			return nil
		})
		if walkErr != nil {
			return false, errors.Wrap(walkErr, "walk shard for emptiness check")
		}
		if nonEmpty {
			return false, nil
		}
	}
	return true, nil
}

// recoverOID reconstructs the OID named by an indexed path: the verbatim
// short name, or the full original name from the long-name attribute.
func recoverOID(path string) (oid.OID, error) {
	if attr, err := xattr.Get(path, LongNameAttr); err == nil {
		return oid.OID(attr), nil
	}
	return oid.OID(filepath.Base(path)), nil
}

// sanitizeCID maps a CID to a directory-name-safe string. CIDs are assumed
// to already be directory-safe opaque names per spec.md §3; this exists so
// a future non-safe CID source has a single place to harden.
func sanitizeCID(cid oid.CID) string {
	return string(cid)
}
