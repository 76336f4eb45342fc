// Package push owns resilient fragment delivery: a bounded FIFO of
// pending fragments, a bounded pool of concurrent upload workers, ordered
// commit, retry with capped exponential backoff, and a trailing network
// metrics window.
//
// All queue, pending-commit, and metrics state is owned by a single
// goroutine (the upload domain, [Pusher.Run]). Workers perform only the
// blocking network transfer; every bookkeeping mutation flows through the
// domain loop as a message. Although up to MaxConcurrent transfers run in
// parallel, fragments commit (count as delivered or dropped, release
// their queue slot) strictly in sequence order: a transfer finishing
// ahead of its turn waits in the pending-commit set until its predecessor
// resolves.
package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fragship/fragship/internal/domain"
	"github.com/fragship/fragship/internal/journal"
	"github.com/fragship/fragship/internal/ports"
	"github.com/fragship/fragship/pkg/log"
)

// Default pusher limits.
const (
	// DefaultMaxBuffered bounds the pending fragment queue: roughly three
	// minutes of buffering at a two-second fragment duration.
	DefaultMaxBuffered = 90

	// DefaultMaxConcurrent bounds in-flight upload attempts.
	DefaultMaxConcurrent = 3

	// DefaultMaxRetries is the attempt ceiling before a fragment is
	// permanently dropped.
	DefaultMaxRetries = 30
)

// Config holds pusher limits and retry policy.
type Config struct {
	// MaxBuffered is the pending queue capacity.
	MaxBuffered int

	// MaxConcurrent is the upload worker pool size.
	MaxConcurrent int

	// MaxRetries is the per-fragment attempt ceiling.
	MaxRetries int

	// BackoffInitial and BackoffMax shape the retry delay curve.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// WindowSpan is the trailing span for network metrics.
	WindowSpan time.Duration
}

// DefaultConfig returns a Config with default limits.
func DefaultConfig() Config {
	return Config{
		MaxBuffered:    DefaultMaxBuffered,
		MaxConcurrent:  DefaultMaxConcurrent,
		MaxRetries:     DefaultMaxRetries,
		BackoffInitial: DefaultBackoffInitial,
		BackoffMax:     DefaultBackoffMax,
		WindowSpan:     DefaultWindowSpan,
	}
}

// EventEmitter is called as fragments resolve. Calls come from the upload
// domain goroutine and must not block.
type EventEmitter interface {
	OnFragmentDelivered(seq uint64, bytes int, attempts int, elapsed time.Duration)
	OnFragmentDropped(seq uint64, reason error)
}

// Stats is a point-in-time snapshot of pusher state.
type Stats struct {
	// Queued counts fragments holding queue slots (pending, in flight,
	// or awaiting commit).
	Queued int

	// InFlight counts transfers currently on the network.
	InFlight int

	// Delivered and Dropped count resolved fragments.
	Delivered uint64
	Dropped   uint64

	// NextCommit is the sequence number the pusher will resolve next.
	NextCommit uint64

	// Throughput is delivered bytes per second over the metrics window.
	Throughput float64

	// ErrorRate is the failed fraction of attempts over the metrics window.
	ErrorRate float64
}

type pushReq struct {
	frag  domain.Fragment
	reply chan error
}

type attemptResult struct {
	seq     uint64
	err     error
	bytes   int
	elapsed time.Duration
}

// Pusher is the concurrent order-preserving uploader. Create with New,
// run the domain loop with Run, feed fragments with Push.
type Pusher struct {
	cfg     Config
	client  ports.IngestClient
	journal *journal.Journal
	logger  ports.Logger
	emitter EventEmitter
	back    *backoff

	targetMu sync.RWMutex
	target   ports.IngestTarget

	pushCh  chan pushReq
	result  chan attemptResult
	retryCh chan uint64
	statsCh chan chan Stats
	closeCh chan struct{}
	closeMu sync.Once
	done    chan struct{}

	finalMu    sync.Mutex
	finalStats Stats
}

// New creates a pusher. client performs the actual transfers; emitter may
// be nil.
func New(cfg Config, client ports.IngestClient, target ports.IngestTarget, jrnl *journal.Journal, logger ports.Logger, emitter EventEmitter) *Pusher {
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = DefaultMaxBuffered
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Pusher{
		cfg:     cfg,
		client:  client,
		journal: jrnl,
		logger:  logger,
		emitter: emitter,
		back:    newBackoff(cfg.BackoffInitial, cfg.BackoffMax),
		target:  target,
		pushCh:  make(chan pushReq),
		result:  make(chan attemptResult, cfg.MaxConcurrent),
		retryCh: make(chan uint64, cfg.MaxBuffered),
		statsCh: make(chan chan Stats),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetTarget replaces the ingest target. Safe to call mid-session; the
// next attempt picks it up, which is how a stream key supplied after
// start takes effect.
func (p *Pusher) SetTarget(t ports.IngestTarget) {
	p.targetMu.Lock()
	p.target = t
	p.targetMu.Unlock()
}

// Target returns the current ingest target.
func (p *Pusher) Target() ports.IngestTarget {
	p.targetMu.RLock()
	defer p.targetMu.RUnlock()
	return p.target
}

// Push enqueues a fragment for delivery. The fragment's sequence number
// must be exactly one greater than the previously pushed one (starting at
// 0); anything else is a protocol violation. Push never blocks on network
// I/O: at capacity the oldest not-yet-dispatched fragment is evicted and
// the gap is journaled.
func (p *Pusher) Push(frag domain.Fragment) error {
	req := pushReq{frag: frag, reply: make(chan error, 1)}
	select {
	case p.pushCh <- req:
		return <-req.reply
	case <-p.done:
		return domain.ErrSessionClosed
	}
}

// Close stops intake and begins the drain: in-flight transfers finish
// their current attempt, everything still waiting is dropped with a
// journaled gap, then Run returns. Safe to call more than once.
func (p *Pusher) Close() {
	p.closeMu.Do(func() { close(p.closeCh) })
}

// Done is closed when the domain loop has fully drained.
func (p *Pusher) Done() <-chan struct{} {
	return p.done
}

// Stats returns a snapshot of pusher state.
func (p *Pusher) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case p.statsCh <- reply:
		return <-reply
	case <-p.done:
		p.finalMu.Lock()
		defer p.finalMu.Unlock()
		return p.finalStats
	}
}

// loopState is the state owned exclusively by the upload domain goroutine.
type loopState struct {
	tasks      map[uint64]*domain.UploadTask
	evicted    map[uint64]bool
	nextPush   uint64
	nextCommit uint64
	inFlight   int
	delivered  uint64
	dropped    uint64
	closing    bool
	win        *window
}

// Run executes the upload domain loop until Close() has been called and
// every queued fragment has resolved, or the context is canceled and the
// drain completes. It must be called exactly once.
func (p *Pusher) Run(ctx context.Context) error {
	st := &loopState{
		tasks:   make(map[uint64]*domain.UploadTask),
		evicted: make(map[uint64]bool),
		win:     newWindow(p.cfg.WindowSpan, nil),
	}

	defer func() {
		p.finalMu.Lock()
		p.finalStats = p.snapshot(st)
		p.finalMu.Unlock()
		close(p.done)
	}()

	// Both channels fire once; nil them afterwards so the drain loop
	// does not spin on an always-ready case.
	closeCh := p.closeCh
	ctxDone := ctx.Done()
	var runErr error

	for {
		if st.closing && len(st.tasks) == 0 {
			return runErr
		}

		select {
		case req := <-p.pushCh:
			req.reply <- p.handlePush(ctx, st, req.frag)

		case res := <-p.result:
			p.handleResult(ctx, st, res)

		case <-p.retryCh:
			p.dispatch(ctx, st)

		case reply := <-p.statsCh:
			reply <- p.snapshot(st)

		case <-closeCh:
			closeCh = nil
			p.beginDrain(st)

		case <-ctxDone:
			// Workers see the canceled context and report back promptly;
			// keep draining until they do.
			ctxDone = nil
			runErr = ctx.Err()
			p.beginDrain(st)
		}
	}
}

// handlePush enforces sequence monotonicity and queue capacity, then
// admits the fragment and tries to dispatch.
func (p *Pusher) handlePush(ctx context.Context, st *loopState, frag domain.Fragment) error {
	if st.closing {
		return domain.ErrSessionClosed
	}

	if frag.SequenceNumber != st.nextPush {
		p.journal.Append(journal.SeverityError,
			fmt.Sprintf("fragment sequence gap: got %d, want %d", frag.SequenceNumber, st.nextPush))
		return fmt.Errorf("%w: got %d, want %d", domain.ErrSequenceGap, frag.SequenceNumber, st.nextPush)
	}
	st.nextPush++

	if len(st.tasks) >= p.cfg.MaxBuffered {
		p.evictOldest(st, frag.SequenceNumber)
	}

	if st.evicted[frag.SequenceNumber] {
		// The incoming fragment itself was the eviction victim (every
		// queued fragment already dispatched). Sequence progression
		// continues past it.
		p.resolveSkipped(st)
		return nil
	}

	st.tasks[frag.SequenceNumber] = &domain.UploadTask{
		Fragment: frag,
		State:    domain.TaskPending,
	}
	p.dispatch(ctx, st)
	return nil
}

// evictOldest drops the oldest not-yet-dispatched fragment to make room,
// journaling the continuity break. When every queued fragment has been
// dispatched, the incoming fragment is rejected instead.
func (p *Pusher) evictOldest(st *loopState, incoming uint64) {
	victim := incoming
	for seq := st.nextCommit; seq < st.nextPush; seq++ {
		t, ok := st.tasks[seq]
		if ok && t.State == domain.TaskPending && t.Attempts == 0 {
			victim = seq
			break
		}
	}

	p.journal.Append(journal.SeverityGap,
		fmt.Sprintf("fragment %d evicted: buffer full", victim))
	p.logger.Warn("fragment evicted",
		ports.Uint64("seq", victim),
		ports.Int("queued", len(st.tasks)),
	)

	if victim != incoming {
		delete(st.tasks, victim)
	}
	st.evicted[victim] = true
	st.dropped++
	if p.emitter != nil {
		p.emitter.OnFragmentDropped(victim, domain.ErrBufferFull)
	}
	p.resolveSkipped(st)
}

// dispatch starts transfers for eligible pending tasks while worker slots
// remain. Tasks are picked in sequence order; a task in backoff is not
// eligible until its deadline passes.
func (p *Pusher) dispatch(ctx context.Context, st *loopState) {
	if st.closing {
		return
	}
	now := time.Now()
	for st.inFlight < p.cfg.MaxConcurrent {
		task := p.nextEligible(st, now)
		if task == nil {
			return
		}
		task.State = domain.TaskInFlight
		task.Attempts++
		st.inFlight++
		go p.transfer(ctx, task.Fragment)
	}
}

// nextEligible returns the lowest-sequence pending task whose backoff
// deadline has passed, or nil.
func (p *Pusher) nextEligible(st *loopState, now time.Time) *domain.UploadTask {
	for seq := st.nextCommit; seq < st.nextPush; seq++ {
		t, ok := st.tasks[seq]
		if !ok || t.State != domain.TaskPending {
			continue
		}
		if t.NextEligible.After(now) {
			continue
		}
		return t
	}
	return nil
}

// transfer runs on a worker goroutine: it performs exactly one upload
// attempt and reports the outcome to the domain loop. A missing stream
// key fails fast without touching the network.
func (p *Pusher) transfer(ctx context.Context, frag domain.Fragment) {
	target := p.Target()

	start := time.Now()
	var err error
	if target.StreamKey == ports.StreamKeyUnset {
		err = domain.ErrMissingStreamKey
	} else {
		err = p.client.Upload(ctx, frag, target)
	}
	elapsed := time.Since(start)

	bytes := 0
	if err == nil {
		bytes = frag.Size()
	}

	select {
	case p.result <- attemptResult{seq: frag.SequenceNumber, err: err, bytes: bytes, elapsed: elapsed}:
	case <-p.done:
	}
}

// handleResult applies one attempt outcome: record the network sample,
// then either hand the task to the pending-commit set, schedule a retry,
// or mark it for permanent drop after the attempt ceiling.
func (p *Pusher) handleResult(ctx context.Context, st *loopState, res attemptResult) {
	st.inFlight--
	st.win.Add(domain.NetworkSample{
		At:      time.Now(),
		Bytes:   res.bytes,
		Elapsed: res.elapsed,
		OK:      res.err == nil,
	})

	task, ok := st.tasks[res.seq]
	if !ok {
		p.dispatch(ctx, st)
		return
	}

	if res.err == nil {
		task.State = domain.TaskCommitting
		task.Delivered = true
		p.resolveCommits(st, res.elapsed)
		p.dispatch(ctx, st)
		return
	}

	task.LastFailure = res.err
	configBlocked := domain.Classify(res.err) == domain.ClassConfiguration
	if configBlocked {
		p.journal.Append(journal.SeverityWarn,
			fmt.Sprintf("fragment %d blocked by configuration: %v", res.seq, res.err))
		p.logger.Warn("upload blocked by configuration",
			ports.Uint64("seq", res.seq),
			ports.Err(res.err),
		)
		// Fixable from outside at any moment (a stream key written to the
		// config file mid-session); the attempt does not consume a retry
		// slot, so the fragment survives until the fix or the drain.
		task.Attempts--
	} else {
		p.journal.Append(journal.SeverityWarn,
			fmt.Sprintf("fragment %d attempt %d failed: %v", res.seq, task.Attempts, res.err))
		p.logger.Warn("upload attempt failed",
			ports.Uint64("seq", res.seq),
			ports.Int("attempt", task.Attempts),
			ports.Err(res.err),
		)
	}

	if (!configBlocked && task.Attempts >= p.cfg.MaxRetries) || st.closing {
		task.State = domain.TaskCommitting
		task.Delivered = false
		p.resolveCommits(st, res.elapsed)
		p.dispatch(ctx, st)
		return
	}

	retryAttempt := task.Attempts
	if configBlocked {
		// Same cadence as a first transient failure.
		retryAttempt = 1
	}
	delay := p.back.Delay(retryAttempt)
	task.State = domain.TaskPending
	task.NextEligible = time.Now().Add(delay)
	seq := res.seq
	time.AfterFunc(delay, func() {
		select {
		case p.retryCh <- seq:
		case <-p.done:
		}
	})
	p.dispatch(ctx, st)
}

// resolveCommits releases every task at the head of the sequence that has
// finished its transfer, in strict order. Evicted sequence numbers are
// skipped. Delivery and permanent drops both resolve here, which is what
// keeps commit order independent of transfer completion order.
func (p *Pusher) resolveCommits(st *loopState, elapsed time.Duration) {
	for {
		if st.evicted[st.nextCommit] {
			delete(st.evicted, st.nextCommit)
			st.nextCommit++
			continue
		}
		task, ok := st.tasks[st.nextCommit]
		if !ok || task.State != domain.TaskCommitting {
			return
		}

		seq := st.nextCommit
		delete(st.tasks, seq)
		st.nextCommit++

		if task.Delivered {
			task.State = domain.TaskCommitted
			st.delivered++
			p.logger.Info("fragment delivered",
				ports.Uint64("seq", seq),
				ports.Int("bytes", task.Fragment.Size()),
				ports.Int("attempts", task.Attempts),
			)
			if p.emitter != nil {
				p.emitter.OnFragmentDelivered(seq, task.Fragment.Size(), task.Attempts, elapsed)
			}
		} else {
			task.State = domain.TaskDropped
			st.dropped++
			p.journal.Append(journal.SeverityGap,
				fmt.Sprintf("fragment %d dropped after %d attempts: %v", seq, task.Attempts, task.LastFailure))
			p.logger.Error("fragment dropped",
				ports.Uint64("seq", seq),
				ports.Int("attempts", task.Attempts),
				ports.Err(task.LastFailure),
			)
			if p.emitter != nil {
				p.emitter.OnFragmentDropped(seq, task.LastFailure)
			}
		}
	}
}

// resolveSkipped advances the commit cursor past evicted sequence numbers
// when no completed task is waiting behind them.
func (p *Pusher) resolveSkipped(st *loopState) {
	p.resolveCommits(st, 0)
}

// beginDrain stops intake and drops every task not currently on the
// network. In-flight transfers finish their current attempt and resolve
// through the normal commit path.
func (p *Pusher) beginDrain(st *loopState) {
	if st.closing {
		return
	}
	st.closing = true

	var pending int
	for _, task := range st.tasks {
		if task.State == domain.TaskPending {
			task.State = domain.TaskCommitting
			task.Delivered = false
			task.LastFailure = domain.ErrSessionClosed
			pending++
		}
	}
	if pending > 0 {
		p.journal.Append(journal.SeverityInfo,
			fmt.Sprintf("drain started: %d undelivered fragments will be dropped", pending))
	}
	p.resolveCommits(st, 0)
}

// snapshot builds a Stats view of the loop state.
func (p *Pusher) snapshot(st *loopState) Stats {
	return Stats{
		Queued:     len(st.tasks),
		InFlight:   st.inFlight,
		Delivered:  st.delivered,
		Dropped:    st.dropped,
		NextCommit: st.nextCommit,
		Throughput: st.win.Throughput(),
		ErrorRate:  st.win.ErrorRate(),
	}
}
