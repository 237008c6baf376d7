// Package scheduler is the publishing engine: a polling loop that claims due
// posts, dispatches them to their platform, and drives the per-post state
// machine with retry/backoff and crash recovery.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tootplan/internal/entity"
	"tootplan/internal/repo/persistent"
	"tootplan/pkg/logger"
)

const (
	// DefaultPollInterval is how often the engine looks for due posts.
	DefaultPollInterval = 30 * time.Second

	// maxRetries caps publish attempts: the initial attempt plus three
	// retries, after which a post is failed permanently.
	maxRetries = 3
)

// backoffDelay returns the wait before the n-th retry: 2^n minutes (2, 4, 8).
// No jitter; the workload is low-volume personal scheduling, not a high-QPS
// system.
func backoffDelay(retryCount int) time.Duration {
	return time.Duration(1<<retryCount) * time.Minute
}

// Engine owns the background publishing lifecycle. It is explicitly
// constructed with its dependencies so tests can run isolated instances.
type Engine struct {
	posts      persistent.PostRepository
	accounts   persistent.AccountRepository
	dispatcher *Dispatcher
	logger     *logger.Logger
	interval   time.Duration
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Engine)

func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(
	posts persistent.PostRepository,
	accounts persistent.AccountRepository,
	dispatcher *Dispatcher,
	log *logger.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		posts:      posts,
		accounts:   accounts,
		dispatcher: dispatcher,
		logger:     log,
		interval:   DefaultPollInterval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	// time.NewTicker panics on a non-positive interval, so a misconfigured
	// SCHEDULER_INTERVAL_SECONDS falls back to the default.
	if e.interval <= 0 {
		e.interval = DefaultPollInterval
	}
	return e
}

// Start recovers posts stranded in "publishing" by a previous crash, then
// begins polling. Calling Start twice is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		e.logger.Warn("Scheduler already started")
		return nil
	}

	if err := e.recoverStuckPosts(); err != nil {
		return fmt.Errorf("crash recovery failed: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done

	go e.loop(ctx, done)

	e.logger.Info("Scheduler started (interval: %s)", e.interval)
	return nil
}

// Stop cancels the polling loop and waits for any in-flight cycle to finish
// its current post.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.logger.Info("Scheduler stopped")
}

// recoverStuckPosts resets every "publishing" post back to "scheduled". The
// prior attempt's outcome is unknown (the process died mid-dispatch), so the
// safe default is to treat it as not yet attempted. retry_count and
// scheduled_at are left untouched.
func (e *Engine) recoverStuckPosts() error {
	stuck, err := e.posts.ListByStatus(entity.StatusPublishing)
	if err != nil {
		return err
	}

	for _, post := range stuck {
		post.Status = entity.StatusScheduled
		if err := e.posts.Save(post); err != nil {
			return err
		}
		e.logger.Info("Reset stuck post %s from 'publishing' back to 'scheduled'", post.ID)
	}
	if len(stuck) > 0 {
		e.logger.Info("Reset %d stuck post(s)", len(stuck))
	}
	return nil
}

// loop is the only consumer of the ticker, so cycles never overlap: a tick
// that fires while a cycle is still running is dropped, not queued.
func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RunCycle(ctx); err != nil {
				// Repository faults mean the engine can no longer uphold its
				// delivery guarantee; surface them loudly and keep polling.
				e.logger.Error("Poll cycle failed: %v", err)
			}
		}
	}
}

// RunCycle performs one poll: select due posts and process each in order,
// sequentially. Returns an error only for repository faults; per-post publish
// failures are handled by the state machine.
func (e *Engine) RunCycle(ctx context.Context) error {
	due, err := e.posts.SelectDue(e.now())
	if err != nil {
		return fmt.Errorf("selecting due posts: %w", err)
	}

	if len(due) == 0 {
		e.logger.Debug("No due posts found")
		return nil
	}

	e.logger.Info("Processing %d due post(s)", len(due))
	for _, post := range due {
		if err := e.ProcessPost(ctx, post); err != nil {
			return err
		}
		// Finish the current post, then honor shutdown.
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// ProcessPost drives one post through claim -> dispatch -> resolve. The claim
// is persisted before any network call so a crash mid-dispatch leaves the row
// in "publishing" for recovery to find. The immediate-publish and manual-retry
// paths reuse this method so every publish follows the same transitions.
func (e *Engine) ProcessPost(ctx context.Context, post *entity.Post) error {
	post.Status = entity.StatusPublishing
	if err := e.posts.Save(post); err != nil {
		return fmt.Errorf("claiming post %s: %w", post.ID, err)
	}

	account, err := e.accounts.GetByID(post.AccountID)
	if err != nil {
		e.logger.Error("Account %s for post %s not found, marking as failed", post.AccountID, post.ID)
		post.Status = entity.StatusFailed
		post.LastError = fmt.Sprintf("Account %s not found", post.AccountID)
		return e.posts.Save(post)
	}

	// Once claimed, the attempt runs to completion. Cancellation of the
	// caller (loop shutdown, a disconnected HTTP client) must not abort the
	// network call: that would burn a retry, or duplicate a send the remote
	// already accepted. The adapters' own HTTP timeout bounds the wait;
	// shutdown is honored between posts.
	outcome := e.dispatcher.Dispatch(context.WithoutCancel(ctx), post, account)
	return e.resolve(post, account, outcome)
}

// resolve applies the state machine's success/retry/fail transition and
// persists it.
func (e *Engine) resolve(post *entity.Post, account *entity.Account, outcome Outcome) error {
	if outcome.Success {
		now := e.now()
		post.Status = entity.StatusPublished
		post.PublishedAt = &now
		post.LastError = ""
		post.PublishedURL = outcome.PublishedURL
		if err := e.posts.Save(post); err != nil {
			return fmt.Errorf("saving published post %s: %w", post.ID, err)
		}
		e.logger.Info("Post %s published to %s account %s", post.ID, account.Platform, account.ID)
		return nil
	}

	if post.RetryCount < maxRetries {
		post.RetryCount++
		delay := backoffDelay(post.RetryCount)
		post.ScheduledAt = e.now().Add(delay)
		post.LastError = outcome.Error
		post.Status = entity.StatusScheduled
		if err := e.posts.Save(post); err != nil {
			return fmt.Errorf("saving retry for post %s: %w", post.ID, err)
		}
		e.logger.Warn("Post %s failed (attempt %d), retrying in %s: %s", post.ID, post.RetryCount, delay, outcome.Error)
		return nil
	}

	post.Status = entity.StatusFailed
	post.LastError = outcome.Error
	if err := e.posts.Save(post); err != nil {
		return fmt.Errorf("saving failed post %s: %w", post.ID, err)
	}
	e.logger.Error("Post %s failed permanently after %d attempts: %s", post.ID, post.RetryCount, outcome.Error)
	return nil
}
