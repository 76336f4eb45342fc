// Package session orchestrates a broadcast: it wires the capture sample
// stream through the interceptor into the pusher, owns the lifecycle
// state machine, and guarantees a stopped session terminates in bounded
// time regardless of network state.
//
// Two single-writer execution domains structure the pipeline. The
// pipeline domain (the goroutine delivering capture samples) serializes
// every overlay and interceptor state transition. The upload domain (the
// pusher's Run loop) serializes all queue, pending-commit, and metrics
// mutations. The only structure with many-writer access is the journal,
// which synchronizes internally.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/fragship/fragship/internal/config"
	"github.com/fragship/fragship/internal/domain"
	"github.com/fragship/fragship/internal/intercept"
	"github.com/fragship/fragship/internal/journal"
	"github.com/fragship/fragship/internal/overlay"
	"github.com/fragship/fragship/internal/ports"
	"github.com/fragship/fragship/internal/push"
	"github.com/fragship/fragship/pkg/log"
)

// EventHandler receives broadcast events. Calls are synchronous; handlers
// must not block.
type EventHandler interface {
	OnStateChange(previous, current State, reason string)
	OnFragmentDelivered(seq uint64, bytes int, attempts int, elapsed time.Duration)
	OnFragmentDropped(seq uint64, reason error)
}

// emitterWrapper adapts an optional EventHandler to the lifecycle and
// pusher emitter interfaces.
type emitterWrapper struct {
	handler EventHandler
}

func (e *emitterWrapper) OnStateChange(previous, current State, reason string) {
	if e.handler != nil {
		e.handler.OnStateChange(previous, current, reason)
	}
}

func (e *emitterWrapper) OnFragmentDelivered(seq uint64, bytes int, attempts int, elapsed time.Duration) {
	if e.handler != nil {
		e.handler.OnFragmentDelivered(seq, bytes, attempts, elapsed)
	}
}

func (e *emitterWrapper) OnFragmentDropped(seq uint64, reason error) {
	if e.handler != nil {
		e.handler.OnFragmentDropped(seq, reason)
	}
}

// Broadcaster runs one HDR broadcast session end to end. Create with New,
// then Start/Stop. A Broadcaster can run multiple sessions sequentially
// but never concurrently.
type Broadcaster struct {
	cfg       config.Config
	source    ports.SampleSource
	bitmaps   ports.BitmapSource
	client    ports.IngestClient
	jrnl      *journal.Journal
	logger    ports.Logger
	lifecycle *Lifecycle
	emitter   emitterWrapper

	bundler     *overlay.Bundler
	interceptor *intercept.Interceptor
	pusher      *push.Pusher

	mu        sync.Mutex
	runCancel context.CancelFunc
	srcCancel context.CancelFunc
	pipeErr   error
}

// New creates a broadcaster. bitmaps and handler may be nil; logger nil
// means silent operation.
func New(cfg config.Config, source ports.SampleSource, bitmaps ports.BitmapSource, client ports.IngestClient, logger ports.Logger, handler EventHandler) (*Broadcaster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("%w: sample source is required", domain.ErrInvalidConfig)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: ingest client is required", domain.ErrInvalidConfig)
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	b := &Broadcaster{
		cfg:     cfg,
		source:  source,
		bitmaps: bitmaps,
		client:  client,
		jrnl:    journal.NewWithCapacity(cfg.JournalCapacity),
		logger:  logger,
		bundler: overlay.NewBundler(cfg.OverlayGridWidth),
		emitter: emitterWrapper{handler: handler},
	}
	b.lifecycle = NewLifecycle(logger, &b.emitter)
	return b, nil
}

// Journal returns the diagnostic journal for export.
func (b *Broadcaster) Journal() *journal.Journal {
	return b.jrnl
}

// Status returns the current lifecycle state.
func (b *Broadcaster) Status() State {
	return b.lifecycle.State()
}

// Stats returns upload pipeline statistics, or a zero value when no
// session has started.
func (b *Broadcaster) Stats() push.Stats {
	b.mu.Lock()
	p := b.pusher
	b.mu.Unlock()
	if p == nil {
		return push.Stats{}
	}
	return p.Stats()
}

// SetStreamKey installs a stream key mid-session. The next upload attempt
// uses it, turning configuration-error retries into real transfers.
func (b *Broadcaster) SetStreamKey(key string) {
	b.mu.Lock()
	p := b.pusher
	b.mu.Unlock()
	if p == nil {
		return
	}
	t := p.Target()
	t.StreamKey = key
	p.SetTarget(t)
	b.jrnl.Append(journal.SeverityInfo, "stream key updated")
}

// ComposeOverlay applies the current overlay bitmap onto a captured video
// frame and returns the grid-snapped dirty region. The capture adapter
// must call this from the same goroutine that delivers samples; overlay
// and segmentation state share the pipeline domain.
func (b *Broadcaster) ComposeOverlay(frame *image.RGBA) (image.Rectangle, error) {
	if b.bitmaps == nil {
		return image.Rectangle{}, nil
	}
	bitmap, ok := b.bitmaps.Next()
	if !ok {
		return image.Rectangle{}, nil
	}
	region, err := b.bundler.Apply(frame, bitmap)
	if err != nil {
		b.jrnl.Append(journal.SeverityError, fmt.Sprintf("overlay compositing failed: %v", err))
		return image.Rectangle{}, err
	}
	return region, nil
}

// Start begins streaming in the background and returns once the pipeline
// is running. The provided context bounds the whole session.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := b.lifecycle.TransitionTo(StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, runCancel := context.WithCancel(ctx)
	srcCtx, srcCancel := context.WithCancel(runCtx)
	b.runCancel = runCancel
	b.srcCancel = srcCancel
	b.pipeErr = nil
	b.lifecycle.SetCancel(runCancel)

	target := ports.IngestTarget{
		Profile:   b.cfg.Profile,
		URL:       b.cfg.IngestURL,
		StreamKey: b.cfg.StreamKey,
		SessionID: b.cfg.SessionID,
	}
	b.pusher = push.New(push.Config{
		MaxBuffered:    b.cfg.MaxBufferedFragments,
		MaxConcurrent:  b.cfg.MaxConcurrentUploads,
		MaxRetries:     b.cfg.MaxUploadRetries,
		BackoffInitial: b.cfg.BackoffInitial,
		BackoffMax:     b.cfg.BackoffMax,
	}, b.client, target, b.jrnl, b.logger, &b.emitter)

	b.interceptor = intercept.New(intercept.Config{
		TargetDuration: b.cfg.FragmentDuration,
		MinDuration:    b.cfg.MinFragmentDuration,
	}, b.pusher.Push, b.jrnl, b.logger)

	b.bundler.Reset()

	if err := b.interceptor.Start(b.source.Init()); err != nil {
		runCancel()
		_ = b.lifecycle.TransitionTo(StateCrashed, "interceptor start failed")
		return err
	}

	pusher := b.pusher
	interceptor := b.interceptor

	// Upload domain.
	b.lifecycle.AddWorker()
	go func() {
		defer b.lifecycle.WorkerDone()
		if err := pusher.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("upload domain error", ports.Err(err))
		}
	}()

	// Pipeline domain.
	b.lifecycle.AddWorker()
	go func() {
		defer b.lifecycle.WorkerDone()

		if err := b.lifecycle.TransitionTo(StateRunning, "pipeline started"); err != nil {
			b.logger.Error("failed to transition to running", ports.Err(err))
		}

		// Capture sources deliver timestamps relative to their own start.
		// Rebase them onto the fixed session baseline so every fragment's
		// start offset is a positive duration from the session epoch,
		// stable across a session spanning a year boundary.
		base := time.Since(domain.SessionEpoch())
		err := b.source.Run(srcCtx, func(s domain.Sample) error {
			s.PTS += base
			return interceptor.Ingest(s)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			b.setPipeErr(err)
			b.logger.Error("sample source stopped", ports.Err(err))
		}

		// Flush the partial fragment through the minimum-duration check,
		// then stop intake and drain.
		if err := interceptor.Finalize(); err != nil && !errors.Is(err, domain.ErrNotRunning) {
			b.setPipeErr(err)
			b.logger.Error("finalize failed", ports.Err(err))
		}
		pusher.Close()
		<-pusher.Done()

		// A source that ends on its own (replay, capture teardown) closes
		// the session without an explicit Stop().
		if b.lifecycle.State() == StateRunning {
			_ = b.lifecycle.TransitionTo(StateStopping, "source exhausted")
			final := StateStopped
			reason := "session complete"
			if pipeErr := b.getPipeErr(); pipeErr != nil && domain.Classify(pipeErr) == domain.ClassProtocol {
				final = StateCrashed
				reason = "protocol violation: " + pipeErr.Error()
			}
			_ = b.lifecycle.TransitionTo(final, reason)
		}
	}()

	return nil
}

// Stop gracefully shuts the session down: the capture stream ends, the
// trailing fragment flushes, in-flight transfers finish their current
// attempt, and everything still queued is dropped with a journaled gap.
// Waits up to ShutdownTimeout before forcing the network layer down.
func (b *Broadcaster) Stop() error {
	b.mu.Lock()

	if !b.lifecycle.CanStop() {
		b.mu.Unlock()
		return domain.ErrNotRunning
	}
	if err := b.lifecycle.TransitionTo(StateStopping, "Stop() called"); err != nil {
		b.mu.Unlock()
		return err
	}

	srcCancel := b.srcCancel
	runCancel := b.runCancel
	b.mu.Unlock()

	if srcCancel != nil {
		srcCancel()
	}

	err := b.lifecycle.WaitWithTimeout(ShutdownTimeout)
	if errors.Is(err, domain.ErrShutdownTimeout) {
		// Force the network layer down; workers return promptly with a
		// canceled context and the drain completes.
		if runCancel != nil {
			runCancel()
		}
		err = b.lifecycle.WaitWithTimeout(5 * time.Second)
	}

	if runCancel != nil {
		runCancel()
	}

	final := StateStopped
	reason := "session stopped"
	if pipeErr := b.getPipeErr(); pipeErr != nil && domain.Classify(pipeErr) == domain.ClassProtocol {
		final = StateCrashed
		reason = "protocol violation: " + pipeErr.Error()
	}
	_ = b.lifecycle.TransitionTo(final, reason)
	return err
}

// Wait blocks until the session reaches Stopped or Crashed, polling the
// lifecycle. Useful for replay sources that end on their own.
func (b *Broadcaster) Wait(ctx context.Context) State {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		state := b.lifecycle.State()
		if state == StateStopped || state == StateCrashed {
			return state
		}
		select {
		case <-ctx.Done():
			return b.lifecycle.State()
		case <-ticker.C:
		}
	}
}

func (b *Broadcaster) setPipeErr(err error) {
	b.mu.Lock()
	if b.pipeErr == nil {
		b.pipeErr = err
	}
	b.mu.Unlock()
}

func (b *Broadcaster) getPipeErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pipeErr
}
