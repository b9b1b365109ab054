package txn

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/gazette-labs/storekit/xattr"
)

// ErrOutOfRange signals a clone-range whose source extent ran short of the
// requested length — spec.md §7's "Range" error class.
var ErrOutOfRange = errors.New("txn: clone range out of bounds")

// ErrRefuseLegacyOpcode is returned, wrapped in a FatalError, when the
// interpreter meets COLL_MOVE outside mount-time replay: the opcode
// survives only so old journal records still decode and replay. The
// submission path does not check for COLL_MOVE, so such a record has
// already been journaled when this error is raised.
var ErrRefuseLegacyOpcode = errors.New("txn: COLL_MOVE may not be freshly journaled")

func isNotExist(err error) bool {
	return os.IsNotExist(errors.Cause(err))
}

func isExist(err error) bool {
	return os.IsExist(errors.Cause(err))
}

func isNoData(err error) bool {
	return errors.Is(errors.Cause(err), xattr.ErrNoData)
}

func isNoSpace(err error) bool {
	return errors.Is(errors.Cause(err), xattr.ErrNoSpace)
}

func isNotEmpty(err error) bool {
	// os.Remove/Rmdir on a non-empty directory surfaces ENOTEMPTY, which
	// the standard library doesn't expose a predicate for.
	return strings.Contains(errors.Cause(err).Error(), "directory not empty")
}

func isOutOfRange(err error) bool {
	return errors.Is(errors.Cause(err), ErrOutOfRange)
}

// tolerate classifies err per spec.md §4.4's error policy for opcode,
// returning true when the interpreter should absorb it and continue rather
// than treat the transaction as fatally failed.
func tolerate(err error, op Opcode, replaying, snapshotCommits bool) bool {
	if err == nil {
		return true
	}
	if isNotExist(err) && op != CLONE && op != CLONE_RANGE {
		return true
	}
	if isNoData(err) && (op == RMATTR || op == RMATTRS) {
		return true
	}
	if replaying && !snapshotCommits {
		switch op {
		case CREATE_COLLECTION, COLL_ADD, COLL_MOVE:
			if isExist(err) {
				return true
			}
		}
		if isOutOfRange(err) {
			return true
		}
	}
	return false
}

// fatal reports whether err belongs to spec.md §7's always-fatal classes
// (No space, unexpected Not empty) regardless of tolerance rules above.
func fatal(err error) bool {
	return isNoSpace(err) || isNotEmpty(err)
}
