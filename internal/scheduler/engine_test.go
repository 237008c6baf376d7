package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"tootplan/internal/entity"
	"tootplan/internal/platform"
	"tootplan/pkg/logger"

	"github.com/stretchr/testify/assert"
)

// ---------------------------------------------------------------------------
// In-memory fakes. The engine's cycle reads back what it writes, so a
// stateful fake is needed rather than a call-recording mock.
// ---------------------------------------------------------------------------

type fakePostRepo struct {
	mu    sync.Mutex
	posts map[string]*entity.Post
}

func newFakePostRepo(posts ...*entity.Post) *fakePostRepo {
	r := &fakePostRepo{posts: make(map[string]*entity.Post)}
	for _, p := range posts {
		cp := *p
		r.posts[p.ID] = &cp
	}
	return r
}

func (r *fakePostRepo) Create(post *entity.Post) error {
	return r.Save(post)
}

func (r *fakePostRepo) GetByID(id string) (*entity.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, errors.New("post not found")
	}
	cp := *p
	return &cp, nil
}

func (r *fakePostRepo) GetByIDForUser(id, userID string) (*entity.Post, error) {
	return r.GetByID(id)
}

func (r *fakePostRepo) ListByUser(userID string, status entity.PostStatus, limit, offset int) ([]*entity.Post, error) {
	return nil, nil
}

func (r *fakePostRepo) SelectDue(now time.Time) ([]*entity.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*entity.Post
	for _, p := range r.posts {
		if p.Status == entity.StatusScheduled && !p.ScheduledAt.After(now) {
			cp := *p
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].ID < due[j].ID
	})
	return due, nil
}

func (r *fakePostRepo) ListByStatus(status entity.PostStatus) ([]*entity.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.Post
	for _, p := range r.posts {
		if p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakePostRepo) Save(post *entity.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *post
	r.posts[post.ID] = &cp
	return nil
}

func (r *fakePostRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.posts, id)
	return nil
}

func (r *fakePostRepo) get(t *testing.T, id string) *entity.Post {
	t.Helper()
	p, err := r.GetByID(id)
	if err != nil {
		t.Fatalf("post %s not found", id)
	}
	return p
}

type fakeAccountRepo struct {
	accounts map[string]*entity.Account
}

func newFakeAccountRepo(accounts ...*entity.Account) *fakeAccountRepo {
	r := &fakeAccountRepo{accounts: make(map[string]*entity.Account)}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

func (r *fakeAccountRepo) Create(account *entity.Account) error { return nil }

func (r *fakeAccountRepo) GetByID(id string) (*entity.Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, errors.New("account not found")
	}
	return a, nil
}

func (r *fakeAccountRepo) GetByIDForUser(id, userID string) (*entity.Account, error) {
	return r.GetByID(id)
}

func (r *fakeAccountRepo) GetByPlatformIdentity(userID, platform, accountID string) (*entity.Account, error) {
	return nil, errors.New("not found")
}

func (r *fakeAccountRepo) ListByUser(userID string) ([]*entity.Account, error) { return nil, nil }

func (r *fakeAccountRepo) ListByIDsForUser(ids []string, userID string) ([]*entity.Account, error) {
	return nil, nil
}

func (r *fakeAccountRepo) Save(account *entity.Account) error { return nil }

func (r *fakeAccountRepo) Delete(id string) error { return nil }

type fakeAdapter struct {
	name      string
	publishFn func(content string) (string, error)
	calls     int
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Publish(ctx context.Context, target platform.Target, credential, content string) (string, error) {
	a.calls++
	return a.publishFn(content)
}

func (a *fakeAdapter) VerifyCredential(ctx context.Context, target platform.Target, credential string) (*platform.AccountInfo, error) {
	return &platform.AccountInfo{}, nil
}

type plainDecryptor struct{}

func (plainDecryptor) Decrypt(stored string) (string, error) { return stored, nil }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testAccount() *entity.Account {
	return &entity.Account{
		ID:                   "acct-1",
		UserID:               "user-1",
		Platform:             entity.PlatformMastodon,
		AccountID:            "alice@social.example",
		InstanceURL:          "https://social.example",
		EncryptedCredentials: "token",
		IsActive:             true,
	}
}

func scheduledPost(id string, at time.Time) *entity.Post {
	return &entity.Post{
		ID:          id,
		UserID:      "user-1",
		AccountID:   "acct-1",
		Platform:    entity.PlatformMastodon,
		Content:     "hello fediverse",
		ScheduledAt: at,
		Status:      entity.StatusScheduled,
	}
}

func newTestEngine(posts *fakePostRepo, accounts *fakeAccountRepo, adapter platform.Adapter) *Engine {
	registry := platform.NewRegistry()
	if adapter != nil {
		registry.Register(adapter)
	}
	dispatcher := NewDispatcher(registry, plainDecryptor{})
	return NewEngine(posts, accounts, dispatcher, logger.New(), WithClock(func() time.Time { return testTime }))
}

// ---------------------------------------------------------------------------
// Due-work selection
// ---------------------------------------------------------------------------

func TestSelectDue_Idempotent(t *testing.T) {
	posts := newFakePostRepo(
		scheduledPost("post-1", testTime.Add(-time.Minute)),
		scheduledPost("post-2", testTime.Add(-2*time.Minute)),
		scheduledPost("post-3", testTime.Add(time.Hour)),
	)

	first, err := posts.SelectDue(testTime)
	assert.NoError(t, err)
	second, err := posts.SelectDue(testTime)
	assert.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
	// Earliest due first
	assert.Equal(t, "post-2", first[0].ID)
	assert.Equal(t, "post-1", first[1].ID)
}

// ---------------------------------------------------------------------------
// Poll cycle
// ---------------------------------------------------------------------------

func TestRunCycle_ImmediateSuccess(t *testing.T) {
	posts := newFakePostRepo(scheduledPost("post-1", testTime.Add(-time.Second)))
	accounts := newFakeAccountRepo(testAccount())
	adapter := &fakeAdapter{
		name:      entity.PlatformMastodon,
		publishFn: func(string) (string, error) { return "https://example/1", nil },
	}
	engine := newTestEngine(posts, accounts, adapter)

	err := engine.RunCycle(context.Background())
	assert.NoError(t, err)

	got := posts.get(t, "post-1")
	assert.Equal(t, entity.StatusPublished, got.Status)
	assert.NotNil(t, got.PublishedAt)
	assert.Equal(t, testTime, *got.PublishedAt)
	assert.Equal(t, "https://example/1", got.PublishedURL)
	assert.Equal(t, 0, got.RetryCount)
	assert.Empty(t, got.LastError)
}

func TestRunCycle_EveryDuePostLeavesScheduled(t *testing.T) {
	posts := newFakePostRepo(
		scheduledPost("post-1", testTime.Add(-3*time.Minute)),
		scheduledPost("post-2", testTime.Add(-2*time.Minute)),
		scheduledPost("post-3", testTime.Add(-1*time.Minute)),
	)
	accounts := newFakeAccountRepo(testAccount())

	// post-2 fails, the others succeed
	adapter := &fakeAdapter{name: entity.PlatformMastodon}
	adapter.publishFn = func(content string) (string, error) {
		if adapter.calls == 2 {
			return "", platform.NewError(platform.KindUnreachableHost, "connection refused")
		}
		return "https://example/ok", nil
	}
	engine := newTestEngine(posts, accounts, adapter)

	err := engine.RunCycle(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, entity.StatusPublished, posts.get(t, "post-1").Status)
	assert.Equal(t, entity.StatusPublished, posts.get(t, "post-3").Status)

	// The failed post went back to scheduled with one retry consumed
	failed := posts.get(t, "post-2")
	assert.Equal(t, entity.StatusScheduled, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)

	// Each due post was dispatched exactly once this cycle
	assert.Equal(t, 3, adapter.calls)
}

func TestRunCycle_NothingDue(t *testing.T) {
	posts := newFakePostRepo(scheduledPost("post-1", testTime.Add(time.Hour)))
	accounts := newFakeAccountRepo(testAccount())
	adapter := &fakeAdapter{
		name:      entity.PlatformMastodon,
		publishFn: func(string) (string, error) { return "https://example/1", nil },
	}
	engine := newTestEngine(posts, accounts, adapter)

	err := engine.RunCycle(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, 0, adapter.calls)
	assert.Equal(t, entity.StatusScheduled, posts.get(t, "post-1").Status)
}

func TestRunCycle_DispatchOrder(t *testing.T) {
	posts := newFakePostRepo(
		scheduledPost("b-post", testTime.Add(-time.Minute)),
		scheduledPost("a-post", testTime.Add(-time.Minute)),
		scheduledPost("c-post", testTime.Add(-time.Hour)),
	)
	accounts := newFakeAccountRepo(testAccount())

	var order []string
	adapter := &fakeAdapter{name: entity.PlatformMastodon}
	adapter.publishFn = func(content string) (string, error) {
		return "https://example/ok", nil
	}
	engine := newTestEngine(posts, accounts, adapter)

	// Record claim order via the repo: wrap ProcessPost manually
	due, err := posts.SelectDue(testTime)
	assert.NoError(t, err)
	for _, p := range due {
		order = append(order, p.ID)
		assert.NoError(t, engine.ProcessPost(context.Background(), p))
	}

	// Earliest first, ties broken by id
	assert.Equal(t, []string{"c-post", "a-post", "b-post"}, order)
}

// ---------------------------------------------------------------------------
// Retry / backoff / terminal failure
// ---------------------------------------------------------------------------

func TestProcessPost_BackoffMonotonicity(t *testing.T) {
	for _, tc := range []struct {
		retryCount int
		wantDelay  time.Duration
	}{
		{0, 2 * time.Minute},
		{1, 4 * time.Minute},
		{2, 8 * time.Minute},
	} {
		post := scheduledPost("post-1", testTime.Add(-time.Second))
		post.RetryCount = tc.retryCount

		posts := newFakePostRepo(post)
		accounts := newFakeAccountRepo(testAccount())
		adapter := &fakeAdapter{
			name: entity.PlatformMastodon,
			publishFn: func(string) (string, error) {
				return "", platform.NewError(platform.KindUnreachableHost, "connection refused")
			},
		}
		engine := newTestEngine(posts, accounts, adapter)

		assert.NoError(t, engine.RunCycle(context.Background()))

		got := posts.get(t, "post-1")
		assert.Equal(t, entity.StatusScheduled, got.Status)
		assert.Equal(t, tc.retryCount+1, got.RetryCount)
		assert.Equal(t, testTime.Add(tc.wantDelay), got.ScheduledAt)
		assert.Equal(t, "connection refused", got.LastError)
	}
}

func TestProcessPost_TerminalFailure(t *testing.T) {
	post := scheduledPost("post-1", testTime.Add(-time.Second))
	post.RetryCount = 3

	posts := newFakePostRepo(post)
	accounts := newFakeAccountRepo(testAccount())
	adapter := &fakeAdapter{
		name: entity.PlatformMastodon,
		publishFn: func(string) (string, error) {
			return "", platform.NewError(platform.KindUnauthorized, "token expired")
		},
	}
	engine := newTestEngine(posts, accounts, adapter)

	assert.NoError(t, engine.RunCycle(context.Background()))

	got := posts.get(t, "post-1")
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Equal(t, "token expired", got.LastError)
	assert.Nil(t, got.PublishedAt)
}

func TestProcessPost_TwoFailuresThenSuccess(t *testing.T) {
	posts := newFakePostRepo(scheduledPost("post-1", testTime.Add(-time.Second)))
	accounts := newFakeAccountRepo(testAccount())

	adapter := &fakeAdapter{name: entity.PlatformMastodon}
	adapter.publishFn = func(string) (string, error) {
		if adapter.calls <= 2 {
			return "", platform.NewError(platform.KindUnreachableHost, "connection refused")
		}
		return "https://example/1", nil
	}
	engine := newTestEngine(posts, accounts, adapter)

	// Each attempt makes the post due again in the future; re-run the cycle
	// with the clock pushed past the backoff.
	for attempt := 0; attempt < 3; attempt++ {
		p := posts.get(t, "post-1")
		p.ScheduledAt = testTime.Add(-time.Second)
		assert.NoError(t, posts.Save(p))
		assert.NoError(t, engine.RunCycle(context.Background()))
	}

	got := posts.get(t, "post-1")
	assert.Equal(t, entity.StatusPublished, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Empty(t, got.LastError)
}

func TestProcessPost_PermanentFailure(t *testing.T) {
	posts := newFakePostRepo(scheduledPost("post-1", testTime.Add(-time.Second)))
	accounts := newFakeAccountRepo(testAccount())

	adapter := &fakeAdapter{
		name: entity.PlatformMastodon,
		publishFn: func(string) (string, error) {
			return "", platform.NewError(platform.KindRemoteRejected, "content rejected")
		},
	}
	engine := newTestEngine(posts, accounts, adapter)

	// 4 attempts total: initial + 3 retries
	for attempt := 0; attempt < 4; attempt++ {
		p := posts.get(t, "post-1")
		p.ScheduledAt = testTime.Add(-time.Second)
		assert.NoError(t, posts.Save(p))
		assert.NoError(t, engine.RunCycle(context.Background()))
	}

	got := posts.get(t, "post-1")
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Equal(t, "content rejected", got.LastError)
	assert.Equal(t, 4, adapter.calls)
}

func TestProcessPost_UnsupportedPlatform(t *testing.T) {
	account := testAccount()
	account.Platform = "unknown"
	posts := newFakePostRepo(scheduledPost("post-1", testTime.Add(-time.Second)))
	accounts := newFakeAccountRepo(account)

	// No adapter registered at all
	engine := newTestEngine(posts, accounts, nil)

	assert.NoError(t, engine.RunCycle(context.Background()))

	got := posts.get(t, "post-1")
	// Same retry policy as any other failure
	assert.Equal(t, entity.StatusScheduled, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Contains(t, got.LastError, "Unsupported platform: unknown")
}

func TestProcessPost_AccountMissing(t *testing.T) {
	posts := newFakePostRepo(scheduledPost("post-1", testTime.Add(-time.Second)))
	accounts := newFakeAccountRepo() // empty
	adapter := &fakeAdapter{
		name:      entity.PlatformMastodon,
		publishFn: func(string) (string, error) { return "https://example/1", nil },
	}
	engine := newTestEngine(posts, accounts, adapter)

	assert.NoError(t, engine.RunCycle(context.Background()))

	got := posts.get(t, "post-1")
	assert.Equal(t, entity.StatusFailed, got.Status)
	assert.Contains(t, got.LastError, "not found")
	assert.Equal(t, 0, adapter.calls)
}

// ---------------------------------------------------------------------------
// Crash recovery
// ---------------------------------------------------------------------------

func TestStart_RecoversStuckPosts(t *testing.T) {
	stuck := scheduledPost("post-1", testTime.Add(-time.Hour))
	stuck.Status = entity.StatusPublishing
	stuck.RetryCount = 2

	published := scheduledPost("post-2", testTime.Add(-time.Hour))
	published.Status = entity.StatusPublished

	posts := newFakePostRepo(stuck, published)
	accounts := newFakeAccountRepo(testAccount())
	adapter := &fakeAdapter{
		name:      entity.PlatformMastodon,
		publishFn: func(string) (string, error) { return "https://example/1", nil },
	}
	engine := newTestEngine(posts, accounts, adapter)
	engine.interval = time.Hour // keep the loop quiet during the test

	assert.NoError(t, engine.Start())
	defer engine.Stop()

	got := posts.get(t, "post-1")
	assert.Equal(t, entity.StatusScheduled, got.Status)
	// Recovery does not consume a retry or reschedule
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, stuck.ScheduledAt, got.ScheduledAt)

	// Terminal posts are untouched
	assert.Equal(t, entity.StatusPublished, posts.get(t, "post-2").Status)
}

func TestStartStop_Lifecycle(t *testing.T) {
	posts := newFakePostRepo(scheduledPost("post-1", testTime.Add(-time.Second)))
	accounts := newFakeAccountRepo(testAccount())
	adapter := &fakeAdapter{
		name:      entity.PlatformMastodon,
		publishFn: func(string) (string, error) { return "https://example/1", nil },
	}
	engine := newTestEngine(posts, accounts, adapter)
	engine.interval = 10 * time.Millisecond

	assert.NoError(t, engine.Start())
	// Start is idempotent
	assert.NoError(t, engine.Start())

	assert.Eventually(t, func() bool {
		p, err := posts.GetByID("post-1")
		return err == nil && p.Status == entity.StatusPublished
	}, time.Second, 5*time.Millisecond)

	engine.Stop()
	// Stop after Stop is a no-op
	engine.Stop()
}

// blockingAdapter holds its Publish call open until released, standing in for
// a slow remote during shutdown.
type blockingAdapter struct {
	started chan struct{}
	release chan struct{}
}

func (a *blockingAdapter) Name() string { return entity.PlatformMastodon }

func (a *blockingAdapter) Publish(ctx context.Context, target platform.Target, credential, content string) (string, error) {
	close(a.started)
	select {
	case <-ctx.Done():
		return "", platform.NewError(platform.KindUnreachableHost, "request canceled: %v", ctx.Err())
	case <-a.release:
		return "https://example/1", nil
	}
}

func (a *blockingAdapter) VerifyCredential(ctx context.Context, target platform.Target, credential string) (*platform.AccountInfo, error) {
	return &platform.AccountInfo{}, nil
}

func TestStop_WaitsForInFlightPublish(t *testing.T) {
	posts := newFakePostRepo(scheduledPost("post-1", testTime.Add(-time.Second)))
	accounts := newFakeAccountRepo(testAccount())
	adapter := &blockingAdapter{started: make(chan struct{}), release: make(chan struct{})}

	registry := platform.NewRegistry()
	registry.Register(adapter)
	engine := NewEngine(posts, accounts, NewDispatcher(registry, plainDecryptor{}), logger.New(),
		WithClock(func() time.Time { return testTime }),
		WithInterval(10*time.Millisecond),
	)

	assert.NoError(t, engine.Start())
	<-adapter.started

	stopped := make(chan struct{})
	go func() {
		engine.Stop()
		close(stopped)
	}()

	// Stop blocks while the publish is still on the wire
	select {
	case <-stopped:
		t.Fatal("Stop returned with a publish still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(adapter.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the publish finished")
	}

	// The in-flight post completed instead of being aborted into a retry
	got := posts.get(t, "post-1")
	assert.Equal(t, entity.StatusPublished, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Empty(t, got.LastError)
}

func TestNewEngine_ClampsNonPositiveInterval(t *testing.T) {
	posts := newFakePostRepo()
	accounts := newFakeAccountRepo()
	dispatcher := NewDispatcher(platform.NewRegistry(), plainDecryptor{})

	engine := NewEngine(posts, accounts, dispatcher, logger.New(), WithInterval(0))
	assert.Equal(t, DefaultPollInterval, engine.interval)

	engine = NewEngine(posts, accounts, dispatcher, logger.New(), WithInterval(-time.Second))
	assert.Equal(t, DefaultPollInterval, engine.interval)
}
