package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pysugar/chat-relay/internal/db/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultSessionTTL is how long a persisted session stays valid after a save.
const DefaultSessionTTL = 28 * 24 * time.Hour

// ErrNotPooled is returned when an operation targets an account that has no
// live resource.
var ErrNotPooled = errors.New("no pooled browser for account")

// PoolOptions configures a Pool.
type PoolOptions struct {
	SessionTTL time.Duration
	Logger     *zap.Logger
	Now        func() time.Time
}

// Pool keeps at most one live Resource per account. Concurrent Acquire calls
// for the same account share a single launch.
type Pool struct {
	launcher Launcher
	store    SessionStore
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	launches singleflight.Group

	mu        sync.Mutex
	resources map[string]Resource
	leases    map[string]*lease
}

// lease is the exclusive slot of one account. refs counts holders and
// waiters; the entry is dropped when it reaches zero.
type lease struct {
	slot chan struct{}
	refs int
}

func NewPool(launcher Launcher, store SessionStore, opts PoolOptions) *Pool {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pool{
		launcher:  launcher,
		store:     store,
		ttl:       opts.SessionTTL,
		logger:    opts.Logger.Named("pool"),
		now:       opts.Now,
		resources: make(map[string]Resource),
		leases:    make(map[string]*lease),
	}
}

// Acquire returns the live resource for accountID, creating it when absent.
// A newly created resource has the persisted session injected when one exists
// and has not expired.
func (p *Pool) Acquire(ctx context.Context, accountID string) (Resource, error) {
	if res, ok := p.lookup(accountID); ok {
		p.logger.Debug("reusing browser", zap.String("account_id", accountID))
		return res, nil
	}

	v, err, _ := p.launches.Do(accountID, func() (interface{}, error) {
		if res, ok := p.lookup(accountID); ok {
			return res, nil
		}
		res, err := p.create(ctx, accountID)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.resources[accountID] = res
		p.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Resource), nil
}

func (p *Pool) create(ctx context.Context, accountID string) (Resource, error) {
	session, err := p.store.LoadSession(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	res, err := p.launcher.Launch(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	log := p.logger.With(zap.String("account_id", accountID))
	if session == nil || !session.Usable(p.now()) {
		log.Warn("no valid session found, browser starts logged out")
		return res, nil
	}

	if err := restoreSession(res, session); err != nil {
		log.Error("failed to restore session", zap.Error(err))
		return res, nil
	}
	log.Info("session restored", zap.Time("expires_at", session.ExpiresAt))
	return res, nil
}

func restoreSession(res Resource, session *models.BrowserSession) error {
	cookies, err := session.DecodeCookies()
	if err != nil {
		return fmt.Errorf("decode cookies: %w", err)
	}
	storage, err := session.DecodeLocalStorage()
	if err != nil {
		return fmt.Errorf("decode local storage: %w", err)
	}
	return res.Restore(Snapshot{Cookies: cookies, LocalStorage: storage})
}

// Persist captures the live login state of accountID and saves it with a
// fresh expiry.
func (p *Pool) Persist(ctx context.Context, accountID string) error {
	res, ok := p.lookup(accountID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPooled, accountID)
	}
	snap, err := res.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to capture session: %w", err)
	}
	expiresAt := p.now().Add(p.ttl)
	if err := p.store.SaveSession(ctx, accountID, snap.Cookies, snap.LocalStorage, expiresAt); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	p.logger.Info("session saved",
		zap.String("account_id", accountID),
		zap.Int("cookies", len(snap.Cookies)),
		zap.Time("expires_at", expiresAt))
	return nil
}

// Close tears down and forgets the resource for accountID. Closing an account
// without a resource is a no-op. Close does not wait for the lease; callers
// that do not hold it use Invalidate.
func (p *Pool) Close(accountID string) {
	p.mu.Lock()
	res, ok := p.resources[accountID]
	delete(p.resources, accountID)
	p.mu.Unlock()
	if !ok {
		return
	}
	if err := res.Close(); err != nil {
		p.logger.Warn("failed to close browser", zap.String("account_id", accountID), zap.Error(err))
		return
	}
	p.logger.Info("browser closed", zap.String("account_id", accountID))
}

// CloseAll tears down every live resource. Individual failures are logged and
// do not stop the sweep.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.resources))
	for id := range p.resources {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Close(id)
	}
}

// Lease grants exclusive use of the account's resource until the returned
// release func is called. It blocks while another holder has the lease.
func (p *Pool) Lease(ctx context.Context, accountID string) (func(), error) {
	p.mu.Lock()
	l, ok := p.leases[accountID]
	if !ok {
		l = &lease{slot: make(chan struct{}, 1)}
		p.leases[accountID] = l
	}
	l.refs++
	p.mu.Unlock()

	select {
	case l.slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.slot
				p.unref(accountID, l)
			})
		}, nil
	case <-ctx.Done():
		p.unref(accountID, l)
		return nil, ctx.Err()
	}
}

func (p *Pool) unref(accountID string, l *lease) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l.refs--
	if l.refs == 0 && p.leases[accountID] == l {
		delete(p.leases, accountID)
	}
}

// Invalidate waits for any job holding the account's lease to finish, then
// closes its resource. Jobs queued behind it launch a fresh browser.
func (p *Pool) Invalidate(ctx context.Context, accountID string) error {
	release, err := p.Lease(ctx, accountID)
	if err != nil {
		return err
	}
	defer release()
	p.Close(accountID)
	return nil
}

// Has reports whether a live resource exists for accountID.
func (p *Pool) Has(accountID string) bool {
	_, ok := p.lookup(accountID)
	return ok
}

// Len returns the number of live resources.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resources)
}

func (p *Pool) lookup(accountID string) (Resource, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.resources[accountID]
	return res, ok
}
