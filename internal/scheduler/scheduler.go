package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/paywall/pkg/ledger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrInvalidRatePair reports a malformed BASE:QUOTE entry.
var ErrInvalidRatePair = errors.New("invalid rate pair")

// RatePair is one exchange rate to keep warm.
type RatePair struct {
	Base  ledger.Currency
	Quote ledger.Currency
}

func (pair RatePair) String() string {
	return pair.Base.Code + ":" + pair.Quote.Code
}

// ParseRatePairs reads comma-separated BASE:QUOTE entries such as "XRP:USD,XRP:EUR".
// The base must be quotable by the price source.
func ParseRatePairs(raw string) ([]RatePair, error) {
	pairs := []RatePair{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		baseCode, quoteCode, found := strings.Cut(entry, ":")
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRatePair, entry)
		}
		base, ok := ledger.LookupCurrency(baseCode)
		if !ok || !base.Quotable() {
			return nil, fmt.Errorf("%w: unknown base in %q", ErrInvalidRatePair, entry)
		}
		quote, ok := ledger.LookupCurrency(quoteCode)
		if !ok {
			return nil, fmt.Errorf("%w: unknown quote in %q", ErrInvalidRatePair, entry)
		}
		pairs = append(pairs, RatePair{Base: base, Quote: quote})
	}
	return pairs, nil
}

// PriceWarmer fetches and caches a price.
type PriceWarmer interface {
	GetPrice(ctx context.Context, base ledger.Currency, quote ledger.Currency) (float64, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(scheduler *Scheduler) {
		if logger != nil {
			scheduler.logger = logger
		}
	}
}

// Scheduler refreshes exchange rates on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	warmer PriceWarmer
	pairs  []RatePair
	logger *zap.Logger
	ctx    context.Context
}

// New creates a Scheduler. Cron specs carry a seconds field.
func New(ctx context.Context, warmer PriceWarmer, pairs []RatePair, options ...Option) (*Scheduler, error) {
	if warmer == nil {
		return nil, fmt.Errorf("%w: price warmer is nil", ledger.ErrInvalidConfig)
	}
	scheduler := &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		warmer: warmer,
		pairs:  pairs,
		logger: zap.NewNop(),
		ctx:    ctx,
	}
	for _, option := range options {
		if option != nil {
			option(scheduler)
		}
	}
	return scheduler, nil
}

// Register adds the rate warming job.
func (scheduler *Scheduler) Register(spec string) error {
	if _, err := scheduler.cron.AddFunc(spec, scheduler.WarmNow); err != nil {
		return fmt.Errorf("register rate refresh: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (scheduler *Scheduler) Start() {
	scheduler.cron.Start()
	scheduler.logger.Info("scheduler started", zap.Int("pairs", len(scheduler.pairs)))
}

// Stop stops the scheduler and waits for a running job.
func (scheduler *Scheduler) Stop() {
	<-scheduler.cron.Stop().Done()
	scheduler.logger.Info("scheduler stopped")
}

// WarmNow fetches every configured pair once. Failures are logged.
func (scheduler *Scheduler) WarmNow() {
	for _, pair := range scheduler.pairs {
		if scheduler.ctx.Err() != nil {
			return
		}
		price, err := scheduler.warmer.GetPrice(scheduler.ctx, pair.Base, pair.Quote)
		if err != nil {
			scheduler.logger.Warn("rate refresh failed", zap.String("pair", pair.String()), zap.Error(err))
			continue
		}
		scheduler.logger.Debug("rate refreshed", zap.String("pair", pair.String()), zap.Float64("price", price))
	}
}
