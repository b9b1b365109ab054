// Command storekit operates a single mounted store instance: mkfs to
// initialize a base directory, serve to run the apply/commit pipeline as a
// long-lived process, and one-shot control commands (sync, snapshot, fsck)
// that mount, act, and cleanly umount.
//
// Grounded on cmd/gazette/main.go's flags.Parser/AddCommand shape, adapted
// from a distributed broker/allocator process to a single-instance store
// with no RPC surface: every subcommand here mounts the store directly
// rather than dialing a running server.
package main

import (
	"github.com/jessevdk/go-flags"

	"github.com/gazette-labs/storekit/core"
	mbp "github.com/gazette-labs/storekit/mainboilerplate"
)

const iniFilename = "storekit.ini"

// Config is the top-level configuration object of the storekit process.
var Config = new(struct {
	core.StoreConfig
})

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("mkfs", "Initialize a new store base directory", `
mkfs initializes the on-disk layout of a fresh store at --base-dir: the
identity lock and version stamp. The current/ working directory is created
by the first mount. mkfs is a no-op (beyond validating identity) against an
already-initialized base directory.
`, &cmdMkfs{})

	_, _ = parser.AddCommand("mkjournal", "Provision the local journal file ahead of first serve", `
mkjournal creates --base-dir's journal.log if absent. It's optional: the
first serve/sync/snapshot/fsck invocation against a mkfs'd base directory
provisions the journal itself via the same lazy-create path. Useful for
operators who want journal placement to happen as a distinct, auditable
step from mkfs.
`, &cmdMkjournal{})

	_, _ = parser.AddCommand("serve", "Mount and serve a store until signaled to exit", `
serve mounts the store at --base-dir, replaying its journal to recover the
last consistent state, then runs the apply worker pool and commit
coordinator until signaled to exit (SIGTERM/SIGINT), at which point it
drains outstanding work, performs a final sync, and releases its identity
lock.
`, &cmdServe{})

	_, _ = parser.AddCommand("sync", "Mount, run one commit cycle, and umount", `
sync mounts the store, forces exactly one synchronous commit cycle, and
cleanly umounts. Useful for scripted offline maintenance against a store
that is not otherwise running.
`, &cmdSync{})

	_, _ = parser.AddCommand("snapshot", "Mount, take a named clustersnap, and umount", `
snapshot mounts the store, materializes an operator-named clustersnap_<name>
copy of the current working directory, and umounts. Unlike the commit
coordinator's internal snap_<N> snapshots, a clustersnap is never garbage
collected.
`, &cmdSnapshot{})

	_, _ = parser.AddCommand("fsck", "Mount (replaying the journal) and report store health", `
fsck mounts the store — which exercises the full recovery sequence,
including journal replay — lists its collections, and umounts, reporting
success or the first error encountered. It performs no repair beyond what
the ordinary mount-time recovery sequence already does.
`, &cmdFsck{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
