// Package scheduler runs the chasing worker's polling loop:
// context.Context cancellation between ticks, errgroup-bounded
// concurrency within one.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gigpilot/sync-core/internal/chase"
	"github.com/gigpilot/sync-core/internal/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const overdueFetchLimit = 100

// Scheduler polls for overdue invoices on a fixed interval and runs
// each one through the chase executor. Processing defaults to serial
// within a tick; MaxConcurrency bounds (not eliminates) per-tick
// parallelism when raised.
type Scheduler struct {
	Pool           store.Querier
	Executor       *chase.Executor
	PollInterval   time.Duration
	MaxConcurrency int
}

func New(pool store.Querier, executor *chase.Executor, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second
	}
	return &Scheduler{Pool: pool, Executor: executor, PollInterval: pollInterval, MaxConcurrency: 1}
}

// Run polls until ctx is cancelled, logging and continuing past
// per-tick errors so a transient DB hiccup doesn't kill the worker.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Ctx(ctx).Info().Dur("poll_interval", s.PollInterval).Msg("chase scheduler started")

	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		if count, err := s.pollAndProcess(ctx); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("error in scheduler tick")
		} else if count > 0 {
			log.Ctx(ctx).Info().Int("count", count).Msg("processed overdue invoices")
		}

		select {
		case <-ctx.Done():
			log.Ctx(ctx).Info().Msg("chase scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) pollAndProcess(ctx context.Context) (int, error) {
	invoices, err := store.FetchOverdueInvoices(ctx, s.Pool, overdueFetchLimit)
	if err != nil {
		return 0, err
	}
	if len(invoices) == 0 {
		return 0, nil
	}
	log.Ctx(ctx).Info().Int("count", len(invoices)).Msg("found overdue invoices to process")

	limit := s.MaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var processed atomic.Int64
	for _, inv := range invoices {
		inv := inv
		g.Go(func() error {
			if err := s.Executor.ProcessInvoice(gctx, inv); err != nil {
				log.Ctx(ctx).Error().Err(err).Str("invoice_number", inv.InvoiceNumber).Msg("failed to process invoice")
				return nil
			}
			processed.Add(1)
			log.Ctx(ctx).Info().Str("invoice_number", inv.InvoiceNumber).Msg("successfully processed invoice")
			return nil
		})
	}
	_ = g.Wait()
	return int(processed.Load()), nil
}
