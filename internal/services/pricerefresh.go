package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/daniele-boerio/calcolatore-spese-BE/internal/core"
	"github.com/daniele-boerio/calcolatore-spese-BE/internal/log"
)

// ErrQuoteUnavailable is returned by a QuoteFetcher when the feed has
// no price for the requested security.
var ErrQuoteUnavailable = errors.New("quote unavailable")

// QuoteFetcher returns the last known market price for a security,
// looked up by ticker with ISIN fallback.
type QuoteFetcher interface {
	Quote(ctx context.Context, ticker, isin string) (decimal.Decimal, error)
}

// PriceReport describes one price refresh batch.
type PriceReport struct {
	Total   int
	Updated int
	Failed  int
}

// PriceRefresher refreshes the last known price of every tracked
// investment. Unlike the ledger engines, failures here are isolated
// per item: a security the feed cannot price is logged and skipped and
// the batch always runs to completion.
type PriceRefresher struct {
	store       InvestmentStore
	feed        QuoteFetcher
	itemTimeout time.Duration
	parallelism int
}

func NewPriceRefresher(store InvestmentStore, feed QuoteFetcher, itemTimeout time.Duration, parallelism int) *PriceRefresher {
	if itemTimeout <= 0 {
		itemTimeout = 10 * time.Second
	}
	if parallelism < 1 {
		parallelism = 1
	}
	return &PriceRefresher{
		store:       store,
		feed:        feed,
		itemTimeout: itemTimeout,
		parallelism: parallelism,
	}
}

// Run fetches a fresh quote for every investment and records it with
// the given as-of date.
func (p *PriceRefresher) Run(ctx context.Context, asOf core.Date) (PriceReport, error) {
	investments, err := p.store.Investments(ctx)
	if err != nil {
		return PriceReport{}, err
	}

	report := PriceReport{Total: len(investments)}
	slog.InfoContext(ctx, "Refreshing investment prices",
		log.FieldTotal, report.Total,
		log.FieldAsOf, asOf.String())

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)

	for _, inv := range investments {
		inv := inv
		g.Go(func() error {
			ok := p.refreshOne(gctx, inv, asOf)
			mu.Lock()
			if ok {
				report.Updated++
			} else {
				report.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	// Item funcs never return errors, the batch must not abort.
	_ = g.Wait()

	slog.InfoContext(ctx, "Price refresh complete",
		log.FieldTotal, report.Total,
		log.FieldUpdated, report.Updated,
		log.FieldFailed, report.Failed)

	return report, nil
}

func (p *PriceRefresher) refreshOne(ctx context.Context, inv core.Investment, asOf core.Date) bool {
	qctx, cancel := context.WithTimeout(ctx, p.itemTimeout)
	defer cancel()

	price, err := p.feed.Quote(qctx, inv.Ticker, inv.ISIN)
	if err != nil {
		slog.WarnContext(ctx, "Skipping investment, quote lookup failed",
			log.FieldInvestmentID, inv.ID,
			log.FieldISIN, inv.ISIN,
			log.FieldTicker, inv.Ticker,
			log.FieldError, err)
		return false
	}

	if err := p.store.SetInvestmentPrice(ctx, inv.ID, price, asOf); err != nil {
		slog.ErrorContext(ctx, "Failed to store refreshed price",
			log.FieldInvestmentID, inv.ID,
			log.FieldISIN, inv.ISIN,
			log.FieldError, err)
		return false
	}

	slog.InfoContext(ctx, "Investment price refreshed",
		log.FieldInvestmentID, inv.ID,
		log.FieldISIN, inv.ISIN,
		log.FieldAmount, price.String())
	return true
}
