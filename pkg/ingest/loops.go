package ingest

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// listen consumes a live log subscription until ctx is cancelled.
// A dropped subscription is re-established after ResubscribeDelay and the
// gap since the last seen block is fetched with FilterLogs.
func (c *Controller) listen(ctx context.Context, r *runner, sub ethereum.Subscription, logs chan ethtypes.Log) {
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case l := <-logs:
			c.processLog(ctx, r, sourceLive, l)

		case err := <-sub.Err():
			r.logger.Warn("live log subscription dropped", zap.Error(err))
			sub.Unsubscribe()
			sub = c.resubscribe(ctx, r, logs)
			if sub == nil {
				return
			}
		}
	}
}

// resubscribe retries the live subscription until it succeeds or ctx ends,
// then fills the gap since the last seen block. Returns nil when ctx ends.
func (c *Controller) resubscribe(ctx context.Context, r *runner, logs chan ethtypes.Log) ethereum.Subscription {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ResubscribeDelay):
		}

		sub, err := r.provider.SubscribeFilterLogs(ctx, r.filter, logs)
		if err != nil {
			r.logger.Warn("failed to re-establish live log subscription", zap.Error(err))
			continue
		}
		c.metrics.ResubscribesTotal.Inc()
		r.logger.Info("live log subscription re-established")

		c.fillGap(ctx, r)
		return sub
	}
}

// fillGap fetches logs emitted between the last seen block and the current head
func (c *Controller) fillGap(ctx context.Context, r *runner) {
	last := r.lastBlock.Load()
	if last == 0 {
		return
	}

	head, err := r.provider.BlockNumber(ctx)
	if err != nil {
		r.logger.Warn("gap fill skipped", zap.Error(err))
		return
	}
	// The last seen block may hold logs not yet delivered; duplicates are discarded on save.
	if head < last {
		return
	}

	logs, err := r.provider.FilterLogs(ctx, r.rangeQuery(last, head))
	if err != nil {
		r.logger.Warn("gap fill failed",
			zap.Uint64("from", last),
			zap.Uint64("to", head),
			zap.Error(err))
		return
	}
	for _, l := range logs {
		c.processLog(ctx, r, sourceGap, l)
	}
	r.advanceLastBlock(head)
}

// poll queries new logs every PollInterval until ctx is cancelled
func (c *Controller) poll(ctx context.Context, r *runner) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx, r)
		}
	}
}

// pollOnce processes logs in (lastBlock, head]. The window only advances on success.
func (c *Controller) pollOnce(ctx context.Context, r *runner) {
	head, err := r.provider.BlockNumber(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.metrics.PollErrorsTotal.Inc()
			r.logger.Error("poll failed to get block number", zap.Error(err))
		}
		return
	}

	last := r.lastBlock.Load()
	if head <= last {
		c.metrics.PollCyclesTotal.Inc()
		return
	}

	logs, err := r.provider.FilterLogs(ctx, r.rangeQuery(last+1, head))
	if err != nil {
		if ctx.Err() == nil {
			c.metrics.PollErrorsTotal.Inc()
			r.logger.Error("poll failed to fetch logs",
				zap.Uint64("from", last+1),
				zap.Uint64("to", head),
				zap.Error(err))
		}
		return
	}

	for _, l := range logs {
		c.processLog(ctx, r, sourcePoll, l)
	}
	r.lastBlock.Store(head)
	c.metrics.PollCyclesTotal.Inc()
}

// backfill processes historical logs in [max(fromBlock, head-BackfillBlocks), head].
// Failures are logged only.
func (c *Controller) backfill(ctx context.Context, r *runner, fromBlock uint64) {
	head, err := r.provider.BlockNumber(ctx)
	if err != nil {
		r.logger.Error("backfill failed to get block number", zap.Error(err))
		return
	}

	from := saturatingSub(head, c.cfg.BackfillBlocks)
	if fromBlock > from {
		from = fromBlock
	}
	if from > head {
		r.logger.Info("backfill skipped, start block is ahead of head",
			zap.Uint64("from", from),
			zap.Uint64("head", head))
		return
	}

	logs, err := r.provider.FilterLogs(ctx, r.rangeQuery(from, head))
	if err != nil {
		r.logger.Error("backfill failed",
			zap.Uint64("from", from),
			zap.Uint64("to", head),
			zap.Error(err))
		return
	}
	c.metrics.BackfillLogsTotal.Add(float64(len(logs)))

	for _, l := range logs {
		c.processLog(ctx, r, sourceBackfill, l)
	}

	r.logger.Info("backfill complete",
		zap.Uint64("from", from),
		zap.Uint64("to", head),
		zap.Int("logs", len(logs)))
}
