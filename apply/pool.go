// Package apply implements the apply worker pool (component C7): a fixed
// width of workers draining sequencer references in parallel, each holding
// its target Sequencer's apply mutex for the duration of one op so that
// within-stream order is preserved even though workers run concurrently
// across streams, per spec.md §4.6.
//
// Grounded on the teacher's consumer shard apply-loop shape (one goroutine
// per shard pulling its own work) generalized to a shared worker pool
// pulling from many sequencer FIFOs, and on asyncutil.Promise for the
// on-readable completions dispatched off the hot apply path.
package apply

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gazette-labs/storekit/asyncutil"
	"github.com/gazette-labs/storekit/metrics"
	"github.com/gazette-labs/storekit/sequencer"
	"github.com/gazette-labs/storekit/throttle"
	"github.com/gazette-labs/storekit/txn"
)

// Pool drains a sequencer.Registry's streams across a fixed number of
// worker goroutines.
type Pool struct {
	Registry    *sequencer.Registry
	Interpreter *txn.Interpreter
	Log         *log.Logger
	Width       int

	// Metrics observes per-op apply latency. Nil is safe; observations are
	// simply skipped.
	Metrics *metrics.Collectors

	// Watermark, if set, is advanced past each op's seq once apply finishes
	// (regardless of outcome), so the commit coordinator's AppliedSeq hook
	// can read back the highest seq safe to include in a commit cycle.
	Watermark *sequencer.Watermark

	// Throttle, if set, has each entry's reserved admission released once
	// apply finishes (regardless of outcome), so C10 bounds queued-but-
	// unapplied backlog rather than just in-flight journal submission,
	// per spec.md §4.9.
	Throttle *throttle.Throttle

	// PollInterval bounds how long an idle worker sleeps before rescanning
	// the registry for newly enqueued streams. Real submissions normally
	// wake workers faster via wake, but the poll is the portable fallback.
	PollInterval time.Duration

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	finisher *finisher
}

// New returns a Pool of the given width over registry, applying ops through
// interp. Start must be called to begin draining.
func New(registry *sequencer.Registry, interp *txn.Interpreter, logger *log.Logger, width int) *Pool {
	if width <= 0 {
		width = 1
	}
	return &Pool{
		Registry:     registry,
		Interpreter:  interp,
		Log:          logger,
		Width:        width,
		PollInterval: 10 * time.Millisecond,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		finisher:     newFinisher(),
	}
}

// Wake nudges idle workers to rescan the registry immediately, called by
// the submit path right after a new Entry is enqueued.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Start launches Width worker goroutines and the dedicated finisher
// goroutine, per spec.md §4.6's "completers are dispatched on a separate
// finisher thread to prevent callback bodies from blocking apply."
func (p *Pool) Start() {
	p.finisher.start()
	for i := 0; i < p.Width; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop signals workers to exit once their current op completes and waits
// for them to drain, per spec.md §5's umount discipline.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
	p.finisher.stopAll()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	var ticker = time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	for {
		if p.drainOnce() {
			continue // Immediately look for more work; don't sleep.
		}
		select {
		case <-p.stop:
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// drainOnce dequeues and applies at most one op from some non-empty stream,
// returning whether it found work to do.
func (p *Pool) drainOnce() bool {
	for _, name := range p.Registry.Names() {
		var s = p.Registry.Get(name)
		var e, ok = s.Dequeue()
		if !ok {
			continue
		}

		var started = time.Now()
		var applyErr = p.Interpreter.Apply(e.Txn, e.OpSeq, e.TransNum, false)
		if p.Metrics != nil {
			p.Metrics.ObserveApplyDuration(time.Since(started).Seconds())
		}
		s.Release()

		if fatalErr, ok := applyErr.(*txn.FatalError); ok {
			// txn.FatalError is a structural failure (ENOSPC, unexpected
			// ENOTEMPTY, or any class the interpreter refuses to tolerate)
			// the interpreter's own doc comment requires the caller to
			// abort on, not fold into a per-op completion: continuing would
			// leave this transaction partially applied, violating the
			// no-partial-op crash-consistency property replay depends on.
			var logger = p.Log
			if logger == nil {
				logger = log.StandardLogger()
			}
			logger.WithFields(log.Fields{
				"stream": name, "op_seq": e.OpSeq, "op": fatalErr.Op,
				"sp": fatalErr.SP, "txn": e.Txn, "err": fatalErr,
			}).Fatal("apply hit a fatal error, aborting")
		}

		var completion = sequencer.Completion{Status: sequencer.StatusOK}
		if applyErr != nil {
			completion = sequencer.Completion{Status: sequencer.StatusError, Err: applyErr}
			if p.Log != nil {
				p.Log.WithFields(log.Fields{"stream": name, "op_seq": e.OpSeq, "err": applyErr}).Error("apply failed")
			}
		}
		if p.Watermark != nil {
			p.Watermark.Complete(e.OpSeq)
		}
		if p.Throttle != nil {
			p.Throttle.Release(1, e.NBytes)
		}
		if e.OnApplied != nil {
			p.finisher.dispatch(e.OnApplied, completion)
		}
		return true
	}
	return false
}

// finisher forwards completion notifications off the apply goroutines so a
// slow or blocking callback body never stalls apply throughput.
type finisher struct {
	jobs chan func()
	stop chan struct{}
	wg   sync.WaitGroup
}

func newFinisher() *finisher {
	return &finisher{jobs: make(chan func(), 256), stop: make(chan struct{})}
}

func (f *finisher) start() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case job := <-f.jobs:
				job()
			case <-f.stop:
				f.drain()
				return
			}
		}
	}()
}

func (f *finisher) drain() {
	for {
		select {
		case job := <-f.jobs:
			job()
		default:
			return
		}
	}
}

func (f *finisher) dispatch(p *asyncutil.Promise[sequencer.Completion], c sequencer.Completion) {
	f.jobs <- func() { p.Resolve(c) }
}

func (f *finisher) stopAll() {
	close(f.stop)
	f.wg.Wait()
}
