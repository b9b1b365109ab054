// Package attrstore implements the attribute store (C2): chunked extended
// attributes keyed by (inode, name), with transparent overflow to the
// external key/value store when the underlying filesystem is out of inline
// xattr room, or when the operator's "prefer omap" toggle routes large or
// numerous values there unconditionally.
//
// Grounded on the xattr wrapping discipline shared with pathindex, and on
// spec.md §4.2's chunk-suffix scheme, which mirrors the teacher's general
// practice (seen in broker/fragment's Rewriter configs) of encoding
// structured overflow into plain string suffixes rather than inventing a
// new wire format.
package attrstore

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/gazette-labs/storekit/oid"
	"github.com/gazette-labs/storekit/xattr"
)

// UserAttrPrefix namespaces user-set attributes so they never collide with
// the core's own reserved keys (replay guard, long-name).
const UserAttrPrefix = "user.storekit.attr."

// chunkSize is the maximum payload carried by a single underlying xattr
// value before it's split across name, name@1, name@2, ...
const chunkSize = 60 * 1024

// Overflow is the external key/value store surface attrstore spills large
// or excess values to. omap.Adapter implements this interface; it's
// declared here so attrstore doesn't import the concrete kv engine.
type Overflow interface {
	OverflowGet(cid oid.CID, o oid.OID, attr string) ([]byte, bool, error)
	OverflowPut(cid oid.CID, o oid.OID, attr string, value []byte) error
	OverflowDelete(cid oid.CID, o oid.OID, attr string) error
}

// Store is the attribute store for one mounted instance.
type Store struct {
	Overflow Overflow

	// PreferOmap routes new values exceeding SizeMax or CountMax to the
	// Overflow store unconditionally, rather than only on ENOSPC.
	PreferOmap bool
	SizeMax    int64
	CountMax   int
}

// New returns a Store. overflow may be nil if the caller never expects
// ENOSPC or PreferOmap spillover (e.g. in unit tests of the inline path).
func New(overflow Overflow, preferOmap bool, sizeMax int64, countMax int) *Store {
	return &Store{Overflow: overflow, PreferOmap: preferOmap, SizeMax: sizeMax, CountMax: countMax}
}

// escape doubles any literal "@" in a raw attribute name so the chunk
// suffix delimiter is unambiguous.
func escape(name string) string {
	return strings.ReplaceAll(name, "@", "@@")
}

func chunkName(escaped string, i int) string {
	if i == 0 {
		return UserAttrPrefix + escaped
	}
	return fmt.Sprintf("%s%s@%d", UserAttrPrefix, escaped, i)
}

// Set writes value as attribute name of path, chunking it across multiple
// underlying xattrs if it exceeds chunkSize, and transparently spilling to
// the Overflow store when the filesystem reports ENOSPC or when PreferOmap
// routing applies.
func (s *Store) Set(cid oid.CID, o oid.OID, path, name string, value []byte) error {
	if s.PreferOmap && s.Overflow != nil && (int64(len(value)) > s.SizeMax || s.overCount(path)) {
		return s.spill(cid, o, path, name, value)
	}

	var escaped = escape(name)
	var chunks = chunk(value, chunkSize)

	// Remove any stale chunk tail from a previous, longer value before
	// writing the new (possibly shorter) set.
	if err := s.removeInlineChunks(path, escaped); err != nil && !errors.Is(err, xattr.ErrNoData) {
		return err
	}

	for i, c := range chunks {
		if err := xattr.Set(path, chunkName(escaped, i), c); err != nil {
			if errors.Is(err, xattr.ErrNoSpace) && s.Overflow != nil {
				// Roll back any chunks already written before spilling,
				// so get() doesn't see a half-written inline value.
				_ = s.removeInlineChunks(path, escaped)
				return s.spill(cid, o, path, name, value)
			}
			return errors.Wrap(err, "set attribute chunk")
		}
	}
	if len(chunks) == 0 {
		// Zero-length value: still must exist as a single empty chunk.
		if err := xattr.Set(path, chunkName(escaped, 0), nil); err != nil {
			return errors.Wrap(err, "set empty attribute")
		}
	}
	return nil
}

func (s *Store) spill(cid oid.CID, o oid.OID, path, name string, value []byte) error {
	if err := s.Overflow.OverflowPut(cid, o, name, value); err != nil {
		return errors.Wrap(err, "spill attribute to overflow store")
	}
	// A marker chunk count of zero at the inline location signals "look in
	// overflow"; Get() checks for absence of chunk 0 and falls back.
	return nil
}

// Get reads attribute name of path, falling back to the Overflow store
// when the inline lookup reports ErrNoData.
func (s *Store) Get(cid oid.CID, o oid.OID, path, name string) ([]byte, error) {
	var escaped = escape(name)
	var value, err = s.readInlineChunks(path, escaped)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, xattr.ErrNoData) {
		return nil, err
	}
	if s.Overflow == nil {
		return nil, xattr.ErrNoData
	}
	var v, ok, ovfErr = s.Overflow.OverflowGet(cid, o, name)
	if ovfErr != nil {
		return nil, ovfErr
	}
	if !ok {
		return nil, xattr.ErrNoData
	}
	return v, nil
}

// Remove deletes attribute name from path and, opportunistically, from the
// Overflow store. Absence in either location is tolerated per spec.md's
// "No data" tolerance for attribute removals.
func (s *Store) Remove(cid oid.CID, o oid.OID, path, name string) error {
	var escaped = escape(name)
	var inlineErr = s.removeInlineChunks(path, escaped)
	if inlineErr != nil && !errors.Is(inlineErr, xattr.ErrNoData) {
		return inlineErr
	}
	if s.Overflow != nil {
		if err := s.Overflow.OverflowDelete(cid, o, name); err != nil {
			return err
		}
	}
	return nil
}

// List returns the user-visible attribute names set on path (inline only;
// the caller is expected to also know which names it spilled to Overflow,
// since the overflow store has no native directory listing by design).
func (s *Store) List(path string) ([]string, error) {
	var all, err = xattr.List(path)
	if err != nil {
		return nil, err
	}
	var seen = map[string]bool{}
	var names []string
	for _, n := range all {
		if !strings.HasPrefix(n, UserAttrPrefix) {
			continue
		}
		var rest = n[len(UserAttrPrefix):]
		var base = rest
		if i := strings.LastIndex(rest, "@"); i >= 0 && isChunkSuffix(rest[i:]) {
			// An escaped name holds "@" only in pairs, so the "@" is the
			// chunk delimiter only when it ends an odd-length run.
			var run = i + 1 - len(strings.TrimRight(rest[:i+1], "@"))
			if run%2 == 1 {
				base = rest[:i]
			}
		}
		var unescaped = strings.ReplaceAll(base, "@@", "@")
		if !seen[unescaped] {
			seen[unescaped] = true
			names = append(names, unescaped)
		}
	}
	return names, nil
}

func isChunkSuffix(s string) bool {
	if len(s) < 2 || s[0] != '@' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (s *Store) overCount(path string) bool {
	if s.CountMax <= 0 {
		return false
	}
	var names, err = s.List(path)
	if err != nil {
		return false
	}
	return len(names) >= s.CountMax
}

func (s *Store) readInlineChunks(path, escaped string) ([]byte, error) {
	var out []byte
	for i := 0; ; i++ {
		var chunk, err = xattr.Get(path, chunkName(escaped, i))
		if errors.Is(err, xattr.ErrNoData) {
			if i == 0 {
				return nil, xattr.ErrNoData
			}
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "read attribute chunk")
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (s *Store) removeInlineChunks(path, escaped string) error {
	var removedAny bool
	for i := 0; ; i++ {
		var err = xattr.Remove(path, chunkName(escaped, i))
		if errors.Is(err, xattr.ErrNoData) {
			break
		} else if err != nil {
			return errors.Wrap(err, "remove attribute chunk")
		}
		removedAny = true
	}
	if !removedAny {
		return xattr.ErrNoData
	}
	return nil
}

func chunk(value []byte, size int) [][]byte {
	if len(value) == 0 {
		return nil
	}
	var out [][]byte
	for len(value) > 0 {
		var n = size
		if n > len(value) {
			n = len(value)
		}
		out = append(out, value[:n])
		value = value[n:]
	}
	return out
}
