package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pysugar/chat-relay/internal/db"
	"github.com/pysugar/chat-relay/internal/db/dbtest"
	"github.com/pysugar/chat-relay/internal/db/models"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeResource struct {
	mu       sync.Mutex
	restored []Snapshot
	snapshot Snapshot
	closed   int
	closeErr error
	restErr  error
}

func (r *fakeResource) Navigate(string, time.Duration) error    { return nil }
func (r *fakeResource) WaitVisible(string, time.Duration) error { return nil }
func (r *fakeResource) WaitHidden(string, time.Duration) error  { return nil }
func (r *fakeResource) Fill(string, string) error               { return nil }
func (r *fakeResource) Press(string, string) error              { return nil }
func (r *fakeResource) LastText(string) (string, error)         { return "", nil }
func (r *fakeResource) Screenshot() ([]byte, error)             { return nil, nil }
func (r *fakeResource) Snapshot() (Snapshot, error)             { return r.snapshot, nil }

func (r *fakeResource) Restore(s Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restored = append(r.restored, s)
	return r.restErr
}

func (r *fakeResource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return r.closeErr
}

type fakeLauncher struct {
	launches atomic.Int32
	delay    time.Duration
	newRes   func() *fakeResource
}

func (l *fakeLauncher) Launch(ctx context.Context, accountID string) (Resource, error) {
	l.launches.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.newRes != nil {
		return l.newRes(), nil
	}
	return &fakeResource{}, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPool(t *testing.T, l Launcher) (*Pool, *db.SessionStore) {
	t.Helper()
	store := db.NewSessionStore(dbtest.Open(t))
	p := NewPool(l, store, PoolOptions{Now: func() time.Time { return fixedNow }})
	return p, store
}

func TestAcquire_ReusesResource(t *testing.T) {
	l := &fakeLauncher{}
	p, _ := newTestPool(t, l)
	ctx := context.Background()

	a, err := p.Acquire(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	b, err := p.Acquire(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if a != b {
		t.Fatal("expected the same resource on second acquire")
	}
	if got := l.launches.Load(); got != 1 {
		t.Fatalf("launches = %d, want 1", got)
	}
}

func TestAcquire_ConcurrentCallsShareLaunch(t *testing.T) {
	l := &fakeLauncher{delay: 50 * time.Millisecond}
	p, _ := newTestPool(t, l)

	const n = 8
	var wg sync.WaitGroup
	results := make([]Resource, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Acquire(context.Background(), "acc-1")
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	if got := l.launches.Load(); got != 1 {
		t.Fatalf("launches = %d, want 1", got)
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different resource", i)
		}
	}
	if p.Len() != 1 {
		t.Fatalf("pool size = %d, want 1", p.Len())
	}
}

func TestAcquire_InjectsValidSession(t *testing.T) {
	res := &fakeResource{}
	p, store := newTestPool(t, &fakeLauncher{newRes: func() *fakeResource { return res }})
	ctx := context.Background()

	cookies := []models.Cookie{{Name: "sid", Value: "abc", Domain: ".chat.openai.com", Path: "/", Expires: -1, Secure: true}}
	storage := map[string]string{"theme": "dark"}
	if err := store.SaveSession(ctx, "acc-1", cookies, storage, fixedNow.Add(time.Hour)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	if _, err := p.Acquire(ctx, "acc-1"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if len(res.restored) != 1 {
		t.Fatalf("restore calls = %d, want 1", len(res.restored))
	}
	want := Snapshot{Cookies: cookies, LocalStorage: storage}
	if diff := cmp.Diff(want, res.restored[0]); diff != "" {
		t.Fatalf("restored snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestAcquire_SkipsExpiredSession(t *testing.T) {
	res := &fakeResource{}
	p, store := newTestPool(t, &fakeLauncher{newRes: func() *fakeResource { return res }})
	ctx := context.Background()

	if err := store.SaveSession(ctx, "acc-1", []models.Cookie{{Name: "sid"}}, nil, fixedNow.Add(-time.Minute)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if _, err := p.Acquire(ctx, "acc-1"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if len(res.restored) != 0 {
		t.Fatalf("expired session must not be injected, got %d restores", len(res.restored))
	}
}

func TestAcquire_RestoreFailureKeepsResource(t *testing.T) {
	res := &fakeResource{restErr: errors.New("context closed")}
	p, store := newTestPool(t, &fakeLauncher{newRes: func() *fakeResource { return res }})
	ctx := context.Background()

	if err := store.SaveSession(ctx, "acc-1", nil, nil, fixedNow.Add(time.Hour)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	got, err := p.Acquire(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if got != res || !p.Has("acc-1") {
		t.Fatal("resource should be pooled even when restore fails")
	}
}

func TestPersist_SavesSnapshotWithTTL(t *testing.T) {
	res := &fakeResource{snapshot: Snapshot{
		Cookies:      []models.Cookie{{Name: "token", Value: "v1", Domain: "claude.ai", Path: "/", Expires: 1.9e9, HTTPOnly: true, SameSite: "Lax"}},
		LocalStorage: map[string]string{"k": "v"},
	}}
	p, store := newTestPool(t, &fakeLauncher{newRes: func() *fakeResource { return res }})
	ctx := context.Background()

	if err := p.Persist(ctx, "acc-1"); !errors.Is(err, ErrNotPooled) {
		t.Fatalf("Persist without resource = %v, want ErrNotPooled", err)
	}

	if _, err := p.Acquire(ctx, "acc-1"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := p.Persist(ctx, "acc-1"); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	saved, err := store.LoadSession(ctx, "acc-1")
	if err != nil || saved == nil {
		t.Fatalf("LoadSession = %v, %v", saved, err)
	}
	if !saved.ExpiresAt.Equal(fixedNow.Add(DefaultSessionTTL)) {
		t.Fatalf("ExpiresAt = %v, want %v", saved.ExpiresAt, fixedNow.Add(DefaultSessionTTL))
	}
	cookies, err := saved.DecodeCookies()
	if err != nil {
		t.Fatalf("DecodeCookies failed: %v", err)
	}
	if diff := cmp.Diff(res.snapshot.Cookies, cookies); diff != "" {
		t.Fatalf("cookies mismatch (-want +got):\n%s", diff)
	}
}

func TestClose_IsIdempotent(t *testing.T) {
	res := &fakeResource{}
	p, _ := newTestPool(t, &fakeLauncher{newRes: func() *fakeResource { return res }})

	if _, err := p.Acquire(context.Background(), "acc-1"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	p.Close("acc-1")
	p.Close("acc-1")
	p.Close("never-acquired")

	if res.closed != 1 {
		t.Fatalf("close calls = %d, want 1", res.closed)
	}
	if p.Has("acc-1") {
		t.Fatal("closed account still pooled")
	}
}

func TestCloseAll_ContinuesPastFailures(t *testing.T) {
	var made []*fakeResource
	var mu sync.Mutex
	l := &fakeLauncher{newRes: func() *fakeResource {
		mu.Lock()
		defer mu.Unlock()
		r := &fakeResource{}
		if len(made) == 0 {
			r.closeErr = errors.New("already gone")
		}
		made = append(made, r)
		return r
	}}
	p, _ := newTestPool(t, l)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := p.Acquire(context.Background(), id); err != nil {
			t.Fatalf("Acquire(%s) failed: %v", id, err)
		}
	}

	p.CloseAll()

	if p.Len() != 0 {
		t.Fatalf("pool size after CloseAll = %d", p.Len())
	}
	for i, r := range made {
		if r.closed != 1 {
			t.Fatalf("resource %d closed %d times", i, r.closed)
		}
	}
}

func TestLease_IsExclusivePerAccount(t *testing.T) {
	p, _ := newTestPool(t, &fakeLauncher{})
	ctx := context.Background()

	release, err := p.Lease(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}

	// Other accounts are unaffected.
	other, err := p.Lease(ctx, "acc-2")
	if err != nil {
		t.Fatalf("Lease on other account failed: %v", err)
	}
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := p.Lease(waitCtx, "acc-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second lease = %v, want deadline exceeded", err)
	}

	release()
	release()

	again, err := p.Lease(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Lease after release failed: %v", err)
	}
	again()
}

func leaseCount(p *Pool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leases)
}

func TestLease_EntriesAreDroppedWhenIdle(t *testing.T) {
	p, _ := newTestPool(t, &fakeLauncher{})
	ctx := context.Background()

	for _, id := range []string{"acc-1", "acc-2", "acc-3"} {
		release, err := p.Lease(ctx, id)
		if err != nil {
			t.Fatalf("Lease(%s) failed: %v", id, err)
		}
		release()
	}
	if n := leaseCount(p); n != 0 {
		t.Fatalf("%d lease entries left after release, want 0", n)
	}

	// A waiter that gives up does not leave its entry behind either.
	release, err := p.Lease(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := p.Lease(waitCtx, "acc-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second lease = %v, want deadline exceeded", err)
	}
	if n := leaseCount(p); n != 1 {
		t.Fatalf("%d lease entries while held, want 1", n)
	}
	release()
	if n := leaseCount(p); n != 0 {
		t.Fatalf("%d lease entries after release, want 0", n)
	}
}

func TestInvalidate_WaitsForLeaseHolder(t *testing.T) {
	res := &fakeResource{}
	p, _ := newTestPool(t, &fakeLauncher{newRes: func() *fakeResource { return res }})
	ctx := context.Background()

	release, err := p.Lease(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	if _, err := p.Acquire(ctx, "acc-1"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Invalidate(ctx, "acc-1") }()

	select {
	case err := <-done:
		t.Fatalf("Invalidate returned %v while the lease was held", err)
	case <-time.After(30 * time.Millisecond):
	}
	res.mu.Lock()
	closed := res.closed
	res.mu.Unlock()
	if closed != 0 {
		t.Fatalf("resource closed %d times while the job still held it", closed)
	}

	release()
	if err := <-done; err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if res.closed != 1 {
		t.Fatalf("resource closed %d times, want 1", res.closed)
	}
	if p.Has("acc-1") {
		t.Fatal("invalidated resource is still pooled")
	}
	if n := leaseCount(p); n != 0 {
		t.Fatalf("%d lease entries left, want 0", n)
	}
}

func TestInvalidate_GivesUpWithContext(t *testing.T) {
	res := &fakeResource{}
	p, _ := newTestPool(t, &fakeLauncher{newRes: func() *fakeResource { return res }})
	ctx := context.Background()

	release, err := p.Lease(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	defer release()
	if _, err := p.Acquire(ctx, "acc-1"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := p.Invalidate(waitCtx, "acc-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Invalidate = %v, want deadline exceeded", err)
	}
	if !p.Has("acc-1") || res.closed != 0 {
		t.Fatal("resource must stay open when Invalidate gives up")
	}
}
