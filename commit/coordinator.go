// Package commit implements the commit coordinator (component C8): a
// periodic cycle that freezes the applied sequence, durably stamps it,
// runs the filesystem's preferred durability step, advances the journal's
// trimmable watermark, and garbage-collects old snapshots.
//
// Grounded on broker/fragment/persister.go's ticker-driven periodic
// persist loop (Serve/Finish shape) and spool.go's commit/rollback
// sequence-advancement discipline, adapted from fragment persistence to
// whole-store commit.
package commit

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gazette-labs/storekit/core"
	"github.com/gazette-labs/storekit/journal"
	"github.com/gazette-labs/storekit/metrics"
	"github.com/gazette-labs/storekit/mount"
	"github.com/gazette-labs/storekit/throttle"
)

// Mode selects the journal durability mode a Coordinator operates under,
// per spec.md §4.7.
type Mode int

const (
	// Writeahead blocks the submit path on a durable journal write before
	// enqueueing for apply; survival after a crash relies entirely on
	// replay.
	Writeahead Mode = iota
	// Parallel lets the journal write and apply race, requiring snapshot
	// semantics so a crash can roll back to the last consistent snapshot.
	Parallel
	// Trailing applies under a lock before journaling, trusting the
	// filesystem's own atomicity.
	Trailing
)

// ParseMode maps the CLI/config string spelling to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "writeahead":
		return Writeahead, nil
	case "parallel":
		return Parallel, nil
	case "trailing":
		return Trailing, nil
	default:
		return 0, errors.Errorf("commit: unknown journal mode %q", s)
	}
}

// AppliedSeq reports the sequence number the apply pool has most recently
// fully applied, so the coordinator can capture committing_seq without
// reaching into sequencer internals directly.
type AppliedSeq func() int64

// ErrWatchdogExpired is returned (and is fatal) when a commit cycle's
// durability step doesn't complete within its configured timeout, per
// spec.md §4.7 step 3 / §7's "Deadline exceeded" error class.
var ErrWatchdogExpired = errors.New("commit: watchdog expired")

// Coordinator runs spec.md §4.7's 7-step commit cycle on a fixed interval
// bounded by [MinSync, MaxSync].
type Coordinator struct {
	Ctx      *core.Context
	Base     string
	Mounted  *mount.Mounted
	Mode     Mode
	AppliedSeq AppliedSeq

	MinSync        time.Duration
	MaxSync        time.Duration
	CommitTimeout  time.Duration

	// KillAt, when positive, decrements on each commit-cycle checkpoint and
	// os.Exit(1)s the process when it reaches zero, used by crash/replay
	// tests per spec.md §4.7's failure injection.
	KillAt int64

	// Throttle, if set, has its admission bound enlarged for the duration
	// of each cycle per spec.md §4.9, so the coordinator's own submissions
	// never deadlock against a throttle it would otherwise have to wait on.
	Throttle *throttle.Throttle

	epoch int64 // sync_epoch, incremented each cycle per step 1.

	mu           sync.Mutex
	committedSeq int64

	stop chan struct{}
	wg   sync.WaitGroup

	// Metrics collects commit-duration observations. Nil is safe; commit
	// proceeds unobserved.
	Metrics *metrics.Collectors
}

// New returns a Coordinator over mounted, starting from its recovered
// committed seq.
func New(ctx *core.Context, base string, mounted *mount.Mounted, mode Mode, applied AppliedSeq) *Coordinator {
	var c = &Coordinator{
		Ctx:           ctx,
		Base:          base,
		Mounted:       mounted,
		Mode:          mode,
		AppliedSeq:    applied,
		MinSync:       time.Second,
		MaxSync:       5 * time.Second,
		CommitTimeout: 30 * time.Second,
		committedSeq:  mounted.CommittedSeq,
		stop:          make(chan struct{}),
	}
	return c
}

// CommittedSeq returns the most recently committed sequence number.
func (c *Coordinator) CommittedSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committedSeq
}

// Start launches the periodic commit loop.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop signals the commit loop to exit after its current cycle and waits
// for it to finish, running one final synchronous cycle first so that
// umount leaves the store fully committed, per spec.md §5's drain
// discipline.
func (c *Coordinator) Stop() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	var interval = c.MinSync
	var timerC, stopTimer = c.Ctx.Clock.NewTimer(interval)
	defer stopTimer()

	for {
		select {
		case <-c.stop:
			if err := c.Cycle(); err != nil {
				c.Ctx.Log.WithError(err).Error("final commit cycle failed during umount")
			}
			return
		case <-timerC:
			if err := c.Cycle(); err != nil {
				c.Ctx.Log.WithError(err).Fatal("commit cycle failed")
			}
			timerC, stopTimer = c.Ctx.Clock.NewTimer(c.nextInterval())
		}
	}
}

// nextInterval reports the delay before the next commit attempt, clamped
// to [MinSync, MaxSync]. A future extension could shrink this under
// write pressure; for now it's simply MaxSync, with MinSync available for
// a forced early Cycle call (e.g. STARTSYNC's nudge).
func (c *Coordinator) nextInterval() time.Duration {
	if c.MaxSync < c.MinSync {
		return c.MinSync
	}
	return c.MaxSync
}

// Nudge wakes the coordinator to run a cycle sooner than its next
// scheduled tick, wired to the interpreter's STARTSYNC opcode.
func (c *Coordinator) Nudge() {
	go func() {
		if err := c.Cycle(); err != nil {
			c.Ctx.Log.WithError(err).Error("nudged commit cycle failed")
		}
	}()
}

// Cycle runs one iteration of spec.md §4.7's 7-step commit cycle.
func (c *Coordinator) Cycle() error {
	if c.Throttle != nil {
		c.Throttle.BeginCommit()
		defer c.Throttle.EndCommit()
	}

	// Step 1: advance sync_epoch, invalidating any deferred flush tied to
	// the prior epoch.
	atomic.AddInt64(&c.epoch, 1)
	c.checkpoint("epoch")

	// Step 2: capture committing_seq.
	var committingSeq = c.AppliedSeq()
	c.checkpoint("capture")

	// Step 3: arm the watchdog.
	var started = c.Ctx.Clock.Now()
	var done = make(chan error, 1)
	go func() { done <- c.runDurabilitySteps(committingSeq) }()

	var timerC, stopTimer = c.Ctx.Clock.NewTimer(c.CommitTimeout)
	defer stopTimer()

	select {
	case err := <-done:
		if c.Metrics != nil {
			c.Metrics.ObserveCommitDuration(c.Ctx.Clock.Now().Sub(started).Seconds())
		}
		return err
	case <-timerC:
		c.Ctx.Log.WithFields(log.Fields{"committing_seq": committingSeq}).Fatal("commit watchdog expired")
		return ErrWatchdogExpired
	}
}

func (c *Coordinator) runDurabilitySteps(committingSeq int64) error {
	var current = filepath.Join(c.Base, "current")

	// Step 4: persist committing_seq.
	if err := writeCommitOpSeq(current, committingSeq); err != nil {
		return errors.Wrap(err, "persist committing_seq")
	}
	c.checkpoint("persist")

	// Step 5: durability step, in preference order.
	if err := c.durabilityStep(current, committingSeq); err != nil {
		return err
	}
	c.checkpoint("durability")

	// Step 6: advance committed_seq and let the journal trim.
	c.mu.Lock()
	c.committedSeq = committingSeq
	c.mu.Unlock()

	if err := c.Mounted.Journal.TrimBefore(committingSeq); err != nil {
		return errors.Wrap(err, "trim journal")
	}
	c.checkpoint("trim")

	// Step 7: garbage-collect old snapshots.
	if err := mount.GCSnapshots(c.Base); err != nil {
		return errors.Wrap(err, "gc snapshots")
	}
	c.checkpoint("gc")

	return nil
}

func (c *Coordinator) durabilityStep(current string, seq int64) error {
	switch {
	case c.Mounted.Capabilities.Snapshot || c.Mounted.Capabilities.CloneRange:
		return mount.CreateSnapshot(c.Base, seq, c.Mounted.Capabilities)
	case c.Mounted.Capabilities.WholeFSSync:
		return mount.SyncFS(current)
	default:
		var f, err = os.Open(filepath.Join(current, "commit_op_seq"))
		if err != nil {
			return errors.Wrap(err, "open commit_op_seq for fsync-only durability step")
		}
		defer f.Close()
		return errors.Wrap(f.Sync(), "fsync commit_op_seq")
	}
}

func writeCommitOpSeq(current string, seq int64) error {
	var path = filepath.Join(current, "commit_op_seq")
	var f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err = f.WriteString(strconv.FormatInt(seq, 10) + "\n"); err != nil {
		return err
	}
	return f.Sync()
}

// checkpoint decrements KillAt (if armed) and exits the process when it
// reaches exactly zero, implementing spec.md §4.7's failure-injection
// counter. name identifies the checkpoint in the exit log line.
func (c *Coordinator) checkpoint(name string) {
	if c.KillAt <= 0 {
		return
	}
	if atomic.AddInt64(&c.KillAt, -1) == 0 {
		c.Ctx.Log.WithField("checkpoint", name).Error("kill-at counter reached zero, exiting")
		os.Exit(1)
	}
}

// ShipToRemote uploads the sealed journal segment file at localPath to r
// under name, on a background goroutine. It never blocks or gates
// committed_seq advancement. Cycle does not call it: trimmed segments are
// shipped only by callers that invoke it explicitly.
func (c *Coordinator) ShipToRemote(r *journal.Remote, localPath, name string) {
	go func() {
		if err := r.ShipSegment(context.Background(), localPath, name); err != nil {
			c.Ctx.Log.WithError(err).Warn("segment remote ship failed")
		}
	}()
}
