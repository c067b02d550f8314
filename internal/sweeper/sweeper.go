// Package sweeper walks the catalog, fetching and reconciling one item at a time.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/casewatch/internal/clock"
	"github.com/rewired-gh/casewatch/internal/logger"
	"github.com/rewired-gh/casewatch/internal/market"
	"github.com/rewired-gh/casewatch/internal/models"
	"github.com/rewired-gh/casewatch/internal/storage"
)

// MaxConcurrentFetches is the only supported fetch concurrency. Parallel requests
// multiply the effective request rate against the upstream's per-client limit.
const MaxConcurrentFetches = 1

type Fetcher interface {
	FetchPrice(ctx context.Context, item string) (models.Observation, market.Attempt, error)
}

type Store interface {
	RecordObservation(ctx context.Context, obs models.Observation) (*decimal.Decimal, error)
	RecordSweep(ctx context.Context, sum models.SweepSummary) error
}

type Publisher interface {
	Publish(ev models.Event)
}

type Config struct {
	ItemDelay            time.Duration // pacing floor after every item
	ItemJitter           time.Duration // random extra pacing in [0, ItemJitter)
	BatchSize            int           // successful items between short cooldowns, 0 disables
	BatchCooldown        time.Duration
	MaxRequests          int // requests between long cooldowns, 0 disables
	LongCooldown         time.Duration
	Pause                time.Duration // rest between sweeps
	MaxConcurrentFetches int
}

func DefaultConfig() Config {
	return Config{
		ItemDelay:            1500 * time.Millisecond,
		ItemJitter:           1500 * time.Millisecond,
		BatchSize:            20,
		BatchCooldown:        30 * time.Second,
		MaxRequests:          0,
		LongCooldown:         5 * time.Minute,
		MaxConcurrentFetches: MaxConcurrentFetches,
	}
}

// State is the per-sweep bookkeeping. It is threaded through each step by value.
type State struct {
	Updated       int
	Skipped       int
	Requests      int // since the last long cooldown
	TotalRequests int
	batchMark     int // Updated count at the last short cooldown
}

type Sweeper struct {
	items   []string
	fetcher Fetcher
	store   Store
	pub     Publisher
	config  Config
	clock   clock.Clock
	jitter  func(n time.Duration) time.Duration
}

func New(items []string, f Fetcher, s Store, p Publisher, config Config, clk clock.Clock) (*Sweeper, error) {
	if len(items) == 0 {
		return nil, errors.New("no items to sweep")
	}
	if config.MaxConcurrentFetches != MaxConcurrentFetches {
		return nil, fmt.Errorf("max concurrent fetches must be %d, got %d", MaxConcurrentFetches, config.MaxConcurrentFetches)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Sweeper{
		items:   items,
		fetcher: f,
		store:   s,
		pub:     p,
		config:  config,
		clock:   clk,
		jitter: func(n time.Duration) time.Duration {
			if n <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(n)))
		},
	}, nil
}

// Run sweeps the catalog until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		if _, err := s.RunSweep(ctx); err != nil {
			return err
		}
		if s.config.Pause > 0 {
			logger.Debug("Resting %v before next sweep", s.config.Pause)
			if err := s.clock.Sleep(ctx, s.config.Pause); err != nil {
				return err
			}
		}
	}
}

// RunSweep processes every catalog item once, in order. Per-item failures are
// logged and counted; only cancellation of ctx stops the sweep early.
func (s *Sweeper) RunSweep(ctx context.Context) (models.SweepSummary, error) {
	sum := models.SweepSummary{ID: uuid.NewString(), StartedAt: s.clock.Now()}
	logger.Info("Starting sweep %s over %d items", sum.ID, len(s.items))

	var st State
	var err error
	for _, item := range s.items {
		if st, err = s.cooldown(ctx, st); err != nil {
			return sum, err
		}
		if st, err = s.process(ctx, item, st); err != nil {
			return sum, err
		}
		if err = s.clock.Sleep(ctx, s.config.ItemDelay+s.jitter(s.config.ItemJitter)); err != nil {
			return sum, err
		}
	}

	sum.CompletedAt = s.clock.Now()
	sum.Updated = st.Updated
	sum.Skipped = st.Skipped
	sum.Requests = st.TotalRequests

	if err := s.store.RecordSweep(ctx, sum); err != nil {
		logger.Warn("Failed to record sweep %s: %v", sum.ID, err)
	}
	s.pub.Publish(models.SweepComplete(sum))
	logger.Info("Sweep %s completed in %v: %d updated, %d skipped, %d requests",
		sum.ID, sum.CompletedAt.Sub(sum.StartedAt), sum.Updated, sum.Skipped, sum.Requests)
	return sum, nil
}

// cooldown pauses before the next item when a batch or request boundary was crossed.
func (s *Sweeper) cooldown(ctx context.Context, st State) (State, error) {
	if s.config.BatchSize > 0 && st.Updated > 0 && st.Updated%s.config.BatchSize == 0 && st.Updated != st.batchMark {
		st.batchMark = st.Updated
		logger.Info("Taking a %v break after %d items", s.config.BatchCooldown, st.Updated)
		if err := s.clock.Sleep(ctx, s.config.BatchCooldown); err != nil {
			return st, err
		}
	}
	if s.config.MaxRequests > 0 && st.Requests >= s.config.MaxRequests {
		logger.Info("Reached %d requests, cooling down for %v", st.Requests, s.config.LongCooldown)
		if err := s.clock.Sleep(ctx, s.config.LongCooldown); err != nil {
			return st, err
		}
		st.Requests = 0
	}
	return st, nil
}

// process gives item exactly one disposition: updated or skipped.
func (s *Sweeper) process(ctx context.Context, item string, st State) (State, error) {
	obs, att, err := s.fetcher.FetchPrice(ctx, item)
	st.Requests += att.Requests
	st.TotalRequests += att.Requests
	if err != nil {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		st.Skipped++
		logger.Warn("Skipping %s: %v", item, err)
		return st, nil
	}

	previous, err := s.store.RecordObservation(ctx, obs)
	if err != nil {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		st.Skipped++
		logger.Error("Failed to record %s, update abandoned: %v", item, err)
		return st, nil
	}

	st.Updated++
	change := storage.PercentChange(previous, obs.Price)
	s.pub.Publish(models.ItemUpdated(obs, change))
	if change != nil {
		logger.Info("Fetched: %s - $%s (%s%%)", item, obs.Price.StringFixed(2), change.StringFixed(2))
	} else {
		logger.Info("Fetched: %s - $%s", item, obs.Price.StringFixed(2))
	}
	return st, nil
}
