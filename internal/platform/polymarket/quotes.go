package polymarket

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polydesk/internal/domain"
)

// emptyBookPrice is reported for a side with no asks and no Gamma price.
const emptyBookPrice = 0.5

// QuoteSource implements domain.QuoteSource. Prices come from the CLOB best
// ask per token, then Gamma's outcomePrices, then emptyBookPrice. Results
// are cached when a cache is configured.
type QuoteSource struct {
	gamma  *GammaClient
	clob   *ClobClient
	cache  domain.QuoteCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewQuoteSource wires the two clients. cache may be nil.
func NewQuoteSource(gamma *GammaClient, clob *ClobClient, cache domain.QuoteCache, ttl time.Duration, logger *slog.Logger) *QuoteSource {
	return &QuoteSource{
		gamma:  gamma,
		clob:   clob,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "polymarket_quotes")),
	}
}

// Quotes returns the two-sided price for a condition id.
func (q *QuoteSource) Quotes(ctx context.Context, marketID string) (domain.Quote, error) {
	if q.cache != nil {
		if cached, err := q.cache.GetQuote(ctx, marketID); err == nil {
			return cached, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			q.logger.DebugContext(ctx, "quote cache read failed", slog.String("market_id", marketID), slog.String("error", err.Error()))
		}
	}

	market, err := q.gamma.MarketByCondition(ctx, marketID)
	if err != nil {
		return domain.Quote{}, err
	}
	yesTok, noTok := market.YesNoTokens()
	gammaYes, gammaNo := market.GammaPrices()

	var quote domain.Quote
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		quote.Yes = q.sidePrice(gctx, yesTok, gammaYes)
		return nil
	})
	g.Go(func() error {
		quote.No = q.sidePrice(gctx, noTok, gammaNo)
		return nil
	})
	_ = g.Wait()

	if q.cache != nil && q.ttl > 0 {
		if err := q.cache.SetQuote(ctx, marketID, quote, q.ttl); err != nil {
			q.logger.DebugContext(ctx, "quote cache write failed", slog.String("market_id", marketID), slog.String("error", err.Error()))
		}
	}
	return quote, nil
}

func (q *QuoteSource) sidePrice(ctx context.Context, tokenID string, gammaPrice float64) float64 {
	if tokenID != "" && q.clob != nil {
		book, err := q.clob.GetBook(ctx, tokenID)
		if err == nil {
			if ask := book.BestAsk(); ask > 0 {
				return ask
			}
		} else {
			q.logger.DebugContext(ctx, "book fetch failed", slog.String("token_id", tokenID), slog.String("error", err.Error()))
		}
	}
	if gammaPrice > 0 {
		return gammaPrice
	}
	return emptyBookPrice
}

// Detail returns the market question for a condition id.
func (q *QuoteSource) Detail(ctx context.Context, marketID string) (domain.MarketDetail, error) {
	market, err := q.gamma.MarketByCondition(ctx, marketID)
	if err != nil {
		return domain.MarketDetail{}, err
	}
	return domain.MarketDetail{
		MarketID: marketID,
		Question: market.Question,
		Slug:     market.Slug,
	}, nil
}

// Compile-time interface check.
var _ domain.QuoteSource = (*QuoteSource)(nil)
