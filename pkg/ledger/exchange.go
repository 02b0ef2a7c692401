package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// PriceSource fetches how many units of quote one unit of base is worth.
type PriceSource interface {
	FetchPrice(ctx context.Context, base Currency, quote Currency) (float64, error)
}

// ExchangeOption configures an Exchange instance.
type ExchangeOption func(*Exchange)

// WithClock overrides the clock used for cache expiry.
func WithClock(clock clockwork.Clock) ExchangeOption {
	return func(exchange *Exchange) {
		if clock != nil {
			exchange.clock = clock
		}
	}
}

// WithLogger wires a zap logger for conversion failures.
func WithLogger(logger *zap.Logger) ExchangeOption {
	return func(exchange *Exchange) {
		if logger != nil {
			exchange.logger = logger
		}
	}
}

// WithTTL overrides how long a fetched price stays fresh.
func WithTTL(ttl time.Duration) ExchangeOption {
	return func(exchange *Exchange) {
		if ttl > 0 {
			exchange.ttl = ttl
		}
	}
}

type currencyPair struct {
	base  string
	quote string
}

type cachedPrice struct {
	price     float64
	fetchedAt time.Time
}

// Exchange caches prices from a PriceSource.
type Exchange struct {
	source PriceSource
	clock  clockwork.Clock
	ttl    time.Duration
	logger *zap.Logger

	mutex  sync.Mutex
	prices map[currencyPair]cachedPrice
	group  singleflight.Group
}

// NewExchange constructs an exchange backed by source.
func NewExchange(source PriceSource, options ...ExchangeOption) (*Exchange, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: price source is required", ErrInvalidConfig)
	}
	exchange := &Exchange{
		source: source,
		clock:  clockwork.NewRealClock(),
		ttl:    defaultRateTTL,
		logger: zap.NewNop(),
		prices: make(map[currencyPair]cachedPrice),
	}
	for _, option := range options {
		option(exchange)
	}
	return exchange, nil
}

// GetPrice returns the price of one unit of base in quote, inverting the pair
// when only the opposite direction can be quoted.
func (exchange *Exchange) GetPrice(ctx context.Context, base Currency, quote Currency) (float64, error) {
	inverse := false
	if !base.Quotable() {
		if !quote.Quotable() || base.CoinGeckoQuote == "" {
			return 0, fmt.Errorf("%w: base %s", ErrCurrencyNotQuotable, base.Code)
		}
		base, quote = quote, base
		inverse = !inverse
	}
	if quote.CoinGeckoQuote == "" {
		if !quote.Quotable() || base.CoinGeckoQuote == "" {
			return 0, fmt.Errorf("%w: quote %s", ErrCurrencyNotQuotable, quote.Code)
		}
		base, quote = quote, base
		inverse = !inverse
	}

	pair := currencyPair{base: base.Code, quote: quote.Code}
	exchange.mutex.Lock()
	if _, cached := exchange.prices[pair]; !cached && quote.Quotable() && base.CoinGeckoQuote != "" {
		inversePair := currencyPair{base: quote.Code, quote: base.Code}
		if _, cachedInverse := exchange.prices[inversePair]; cachedInverse {
			base, quote = quote, base
			pair = inversePair
			inverse = !inverse
		}
	}
	entry, cached := exchange.prices[pair]
	exchange.mutex.Unlock()

	price := entry.price
	if !cached || exchange.clock.Since(entry.fetchedAt) > exchange.ttl {
		fetched, err := exchange.fetch(ctx, pair, base, quote)
		if err != nil {
			return 0, err
		}
		price = fetched
	}
	if price == 0 {
		return 0, fmt.Errorf("%w: %s/%s", ErrPriceUnavailable, base.Code, quote.Code)
	}
	if inverse {
		return 1 / price, nil
	}
	return price, nil
}

func (exchange *Exchange) fetch(ctx context.Context, pair currencyPair, base Currency, quote Currency) (float64, error) {
	result, err, _ := exchange.group.Do(pair.base+"/"+pair.quote, func() (interface{}, error) {
		price, fetchErr := exchange.source.FetchPrice(ctx, base, quote)
		if fetchErr != nil {
			return 0.0, fmt.Errorf("%w: %s/%s: %v", ErrPriceUnavailable, base.Code, quote.Code, fetchErr)
		}
		exchange.mutex.Lock()
		exchange.prices[pair] = cachedPrice{price: price, fetchedAt: exchange.clock.Now()}
		exchange.mutex.Unlock()
		return price, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(float64), nil
}

// Convert expresses amount in target wherever a price is available. Assets
// with no known currency or no price keep their original quantity.
func (exchange *Exchange) Convert(ctx context.Context, amount Amount, target Currency) *ReferenceAmount {
	converted := NewReferenceAmount()
	if amount == nil {
		return converted
	}
	holdings := amount.holdings()
	if exchange == nil {
		converted.state = holdings.clone()
		return converted
	}
	tiers := []struct {
		quantities map[string]Quantity
		verified   bool
	}{
		{quantities: holdings.unverified, verified: false},
		{quantities: holdings.verified, verified: true},
	}
	for _, tier := range tiers {
		for _, assetCode := range sortedAssets(tier.quantities) {
			quantity := tier.quantities[assetCode]
			convertedCode, convertedQuantity := exchange.convertQuantity(ctx, quantity, assetCode, target)
			if err := converted.DepositReference(convertedQuantity, convertedCode, tier.verified); err != nil {
				exchange.logger.Error("convert deposit failed",
					zap.String("asset", convertedCode),
					zap.Error(err))
			}
		}
	}
	return converted
}

func (exchange *Exchange) convertQuantity(ctx context.Context, quantity Quantity, assetCode string, target Currency) (string, Quantity) {
	base, known := CurrencyFromInterledgerCode(assetCode)
	if !known {
		exchange.logger.Info("asset not convertible", zap.String("asset", assetCode))
		return assetCode, quantity
	}
	price, err := exchange.GetPrice(ctx, base, target)
	if err != nil {
		exchange.logger.Warn("price lookup failed",
			zap.String("asset", assetCode),
			zap.String("target", target.Code),
			zap.Error(err))
		return assetCode, quantity
	}
	value := decimal.NewFromFloat(price).Mul(quantity.Decimal())
	convertedQuantity, err := quantityFromDecimal(value)
	if err != nil {
		exchange.logger.Warn("converted amount overflow",
			zap.String("asset", assetCode),
			zap.Error(err))
		return assetCode, quantity
	}
	return target.Code, convertedQuantity
}

// InCurrency converts the amount into target using exchange.
func (amount *RealAmount) InCurrency(ctx context.Context, exchange *Exchange, target Currency) *ReferenceAmount {
	return exchange.Convert(ctx, amount, target)
}

// InCurrency converts the amount into target using exchange.
func (amount *ReferenceAmount) InCurrency(ctx context.Context, exchange *Exchange, target Currency) *ReferenceAmount {
	return exchange.Convert(ctx, amount, target)
}
