// Package dispatch runs queued chat jobs against provider web interfaces.
//
// A fixed number of slots pull messages from the queue. Each job moves
// queued → processing → completed|failed and is never retried.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/chat-relay/internal/browser"
	"github.com/pysugar/chat-relay/internal/db"
	"github.com/pysugar/chat-relay/internal/db/models"
	"github.com/pysugar/chat-relay/internal/diagnostics"
	"github.com/pysugar/chat-relay/internal/logging"
	"github.com/pysugar/chat-relay/internal/providers"
	"github.com/pysugar/chat-relay/internal/queue"
	"github.com/pysugar/chat-relay/internal/usage"
	"github.com/pysugar/chat-relay/internal/util"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Source yields queued job messages. Next blocks until a message is available
// or ctx ends.
type Source interface {
	Next(ctx context.Context) (queue.Message, error)
}

// ResourcePool is the subset of browser.Pool the dispatcher drives.
type ResourcePool interface {
	Acquire(ctx context.Context, accountID string) (browser.Resource, error)
	Persist(ctx context.Context, accountID string) error
	Lease(ctx context.Context, accountID string) (func(), error)
	Close(accountID string)
	CloseAll()
}

// UsageRecorder appends the per-job audit row.
type UsageRecorder interface {
	Record(ctx context.Context, e usage.Entry) error
}

// QuotaRecorder counts completed work against the account's budget.
type QuotaRecorder interface {
	RecordUsage(ctx context.Context, accountID, provider string, units int64) (models.Quota, error)
}

// Quota units.
const (
	UnitRequests = "requests"
	UnitTokens   = "tokens"
)

// Config wires a Dispatcher.
type Config struct {
	DB          *gorm.DB
	Source      Source
	Pool        ResourcePool
	Adapters    *providers.Registry
	Usage       UsageRecorder
	Quotas      QuotaRecorder
	Screenshots *diagnostics.ScreenshotSink

	Concurrency   int     // worker slots, default 2
	JobsPerSecond float64 // start rate across all slots, default 10
	QuotaUnit     string  // UnitRequests (default) or UnitTokens

	Logger *zap.Logger
	Now    func() time.Time
}

type Dispatcher struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

func New(cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.JobsPerSecond <= 0 {
		cfg.JobsPerSecond = 10
	}
	if cfg.QuotaUnit == "" {
		cfg.QuotaUnit = UnitRequests
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	burst := int(cfg.JobsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Dispatcher{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.JobsPerSecond), burst),
		logger:  cfg.Logger.Named("dispatch"),
		now:     cfg.Now,
	}
}

// Run pulls and processes jobs until ctx ends. In-flight jobs are allowed to
// finish; then every pooled browser is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		zap.Int("concurrency", d.cfg.Concurrency),
		zap.Float64("jobs_per_second", d.cfg.JobsPerSecond))

	var g errgroup.Group
	for i := 0; i < d.cfg.Concurrency; i++ {
		slot := i
		g.Go(func() error {
			d.slot(ctx, slot)
			return nil
		})
	}
	err := g.Wait()

	d.logger.Info("draining complete, closing browsers")
	d.cfg.Pool.CloseAll()
	return err
}

func (d *Dispatcher) slot(ctx context.Context, n int) {
	log := d.logger.With(zap.Int("slot", n))
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		msg, err := d.cfg.Source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrMalformed) {
				log.Error("dropping malformed job", zap.Error(err))
				continue
			}
			log.Warn("error fetching job", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		// Shutdown does not cut a running job short; adapter windows bound it.
		if err := d.Process(context.WithoutCancel(ctx), msg); err != nil {
			log.Debug("job failed", zap.String("request_id", msg.RequestID), zap.Error(err))
		}
	}
}

// Process runs one job to a terminal state and returns the job's failure, if
// any. Bookkeeping errors are logged, not returned.
func (d *Dispatcher) Process(ctx context.Context, msg queue.Message) error {
	ctx = logging.WithRequestID(ctx, msg.RequestID)
	log := logging.FromContext(ctx, d.logger).With(
		zap.String("account_id", msg.AccountID),
		zap.String("provider", msg.Provider))
	start := d.now()

	log.Info("processing chat request", zap.Int("prompt_len", len(msg.Prompt)))
	claimed, err := db.MarkProcessing(ctx, d.cfg.DB, msg.RequestID, start)
	if err != nil {
		return d.fail(ctx, log, msg, nil, start, fmt.Errorf("failed to claim request: %w", err))
	}
	if !claimed {
		log.Warn("request is not queued, skipping")
		return nil
	}

	release, err := d.cfg.Pool.Lease(ctx, msg.AccountID)
	if err != nil {
		return d.fail(ctx, log, msg, nil, start, fmt.Errorf("%w: lease: %v", ErrResourceAcquisition, err))
	}
	defer release()

	adapter, err := d.adapterFor(msg.Provider)
	if err != nil {
		return d.fail(ctx, log, msg, nil, start, err)
	}

	res, err := d.cfg.Pool.Acquire(ctx, msg.AccountID)
	if err != nil {
		return d.fail(ctx, log, msg, nil, start, fmt.Errorf("%w: %v", ErrResourceAcquisition, err))
	}

	result, err := adapter.Run(ctx, res, msg.Prompt)
	if err != nil {
		return d.fail(ctx, log, msg, res, start, err)
	}

	d.complete(ctx, log, msg, result, start)
	return nil
}

func (d *Dispatcher) adapterFor(provider string) (providers.Adapter, error) {
	k, err := providers.ParseKind(provider)
	if err != nil {
		return nil, err
	}
	return d.cfg.Adapters.Get(k)
}

func (d *Dispatcher) complete(ctx context.Context, log *zap.Logger, msg queue.Message, result providers.Result, start time.Time) {
	finished := d.now()
	latency := finished.Sub(start).Milliseconds()

	if err := d.cfg.Pool.Persist(ctx, msg.AccountID); err != nil {
		log.Warn("failed to persist session", zap.Error(err))
	}

	units := int64(1)
	if d.cfg.QuotaUnit == UnitTokens {
		units = result.Tokens
	}
	if d.cfg.Quotas != nil {
		if _, err := d.cfg.Quotas.RecordUsage(ctx, msg.AccountID, msg.Provider, units); err != nil {
			log.Error("failed to record quota usage", zap.Error(err))
		}
	}

	if d.cfg.Usage != nil {
		if err := d.cfg.Usage.Record(ctx, usage.Entry{
			AccountID: msg.AccountID,
			Provider:  msg.Provider,
			RequestID: msg.RequestID,
			Tokens:    result.Tokens,
			LatencyMs: latency,
		}); err != nil {
			log.Error("failed to record usage", zap.Error(err))
		}
	}

	if err := db.TouchAccount(ctx, d.cfg.DB, msg.AccountID, finished); err != nil {
		log.Error("failed to update account last used", zap.Error(err))
	}

	if err := db.MarkCompleted(ctx, d.cfg.DB, msg.RequestID, db.Completion{
		Provider:  msg.Provider,
		Response:  result.Text,
		Tokens:    int(result.Tokens),
		LatencyMs: latency,
	}, finished); err != nil {
		log.Error("failed to mark completed", zap.Error(err))
	}

	log.Info("chat request completed",
		zap.Int64("tokens", result.Tokens),
		zap.Int64("latency_ms", latency))
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, msg queue.Message, res browser.Resource, start time.Time, jobErr error) error {
	latency := d.now().Sub(start).Milliseconds()
	class := Classify(jobErr)
	log.Error("chat request failed",
		zap.String("failure", class),
		zap.Int64("latency_ms", latency),
		zap.Error(jobErr))

	if res != nil {
		d.cfg.Screenshots.Capture(ctx, res, msg.AccountID, "error-"+msg.RequestID)
	}

	if d.cfg.Usage != nil {
		if err := d.cfg.Usage.Record(ctx, usage.Entry{
			AccountID: msg.AccountID,
			Provider:  msg.Provider,
			RequestID: msg.RequestID,
			LatencyMs: latency,
			Err:       jobErr,
		}); err != nil {
			log.Error("failed to record usage", zap.Error(err))
		}
	}

	if err := db.MarkFailed(ctx, d.cfg.DB, msg.RequestID, util.ErrorMessage(jobErr), latency, d.now()); err != nil {
		log.Error("failed to mark failed", zap.Error(err))
	}

	if class == FailureAuthLost {
		changed, err := db.SetAccountStatus(ctx, d.cfg.DB, msg.AccountID, models.AccountExpired)
		if err != nil {
			log.Error("failed to mark account expired", zap.Error(err))
		} else if changed {
			log.Warn("account session expired, account disabled until re-login")
		}
		d.cfg.Pool.Close(msg.AccountID)
	}
	return jobErr
}
