// Package oid defines the identifiers which name objects and collections
// in the store, and the sequencer position stamped on guarded mutations.
package oid

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// OID is an opaque, hashable, totally-ordered object name. Its zero value
// is not a valid identifier.
type OID string

// CID is an opaque, totally-ordered collection name, mapped one-to-one to
// a directory under the store's current working tree.
type CID string

// HashPrefix returns the 32-bit hash prefix of the OID used to drive
// directory splitting in the path index. It's stable for the lifetime of
// the OID and does not depend on the process or machine.
func (o OID) HashPrefix() uint32 {
	var sum = sha1.Sum([]byte(o))
	return binary.BigEndian.Uint32(sum[:4])
}

// Digest160 returns the full 160-bit SHA1 digest of the OID, used to build
// the long-name encoding for object names which don't fit the short
// filename budget.
func (o OID) Digest160() string {
	var sum = sha1.Sum([]byte(o))
	return hex.EncodeToString(sum[:])
}

// String renders the OID for logging. It is not used as an on-disk name.
func (o OID) String() string { return string(o) }

// String renders the CID for logging.
func (c CID) String() string { return string(c) }

// SP is a sequencer position: the triple (op_seq, trans_num, op_index).
// SP is totally ordered lexicographically on its three fields and is the
// unit stamped on every guarded inode or collection directory.
type SP struct {
	OpSeq    int64
	TransNum int32
	OpIndex  int32
}

// Less reports whether sp sorts strictly before other.
func (sp SP) Less(other SP) bool {
	if sp.OpSeq != other.OpSeq {
		return sp.OpSeq < other.OpSeq
	}
	if sp.TransNum != other.TransNum {
		return sp.TransNum < other.TransNum
	}
	return sp.OpIndex < other.OpIndex
}

// Equal reports whether sp and other name the same position.
func (sp SP) Equal(other SP) bool { return sp == other }

// Zero is the smallest possible SP, sorting before any real position.
var Zero = SP{}

// String renders the SP for logging. The replay guard stores SPs in its
// own binary encoding, not in this form.
func (sp SP) String() string {
	return fmt.Sprintf("%d.%d.%d", sp.OpSeq, sp.TransNum, sp.OpIndex)
}
