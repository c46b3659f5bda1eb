package ingest

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/pkg/storage"
	"github.com/0xmhha/event-collector/pkg/types"
)

// source tells where a log came from
type source string

const (
	sourceLive     source = "live"
	sourceGap      source = "gap"
	sourcePoll     source = "poll"
	sourceBackfill source = "backfill"
)

// rawLog is the single log shape every delivery path is normalised into
type rawLog struct {
	BlockNumber *uint64
	TxHash      string
	LogIndex    uint
	Topics      []common.Hash
	Data        []byte
	Removed     bool
}

// normalize converts a delivered payload into a rawLog.
// Live deliveries arrive by value from the subscription channel; historical
// queries return slice elements that may be passed by pointer.
// Block number and tx hash are left empty when the node did not report them.
func normalize(payload any) (rawLog, bool) {
	var l *ethtypes.Log
	switch v := payload.(type) {
	case ethtypes.Log:
		l = &v
	case *ethtypes.Log:
		l = v
	default:
		return rawLog{}, false
	}
	if l == nil {
		return rawLog{}, false
	}

	raw := rawLog{
		LogIndex: l.Index,
		Topics:   l.Topics,
		Data:     l.Data,
		Removed:  l.Removed,
	}
	// Pending logs carry neither a block hash nor a block number
	if l.BlockNumber != 0 || l.BlockHash != (common.Hash{}) {
		n := l.BlockNumber
		raw.BlockNumber = &n
	}
	if l.TxHash != (common.Hash{}) {
		raw.TxHash = l.TxHash.Hex()
	}
	return raw, true
}

// processLog decodes, persists and publishes one log. Errors are logged only.
func (c *Controller) processLog(ctx context.Context, r *runner, src source, payload any) {
	r.procMu.Lock()
	defer r.procMu.Unlock()

	raw, ok := normalize(payload)
	if !ok {
		c.metrics.EventsTotal.WithLabelValues(outcomeDropped).Inc()
		r.logger.Error("unsupported log payload", zap.String("source", string(src)))
		return
	}

	if raw.BlockNumber == nil || raw.TxHash == "" {
		c.metrics.EventsTotal.WithLabelValues(outcomeDropped).Inc()
		r.logger.Error("log without block number or transaction hash dropped",
			zap.String("source", string(src)),
			zap.Bool("hasBlock", raw.BlockNumber != nil),
			zap.String("tx", raw.TxHash))
		return
	}

	if raw.Removed {
		c.metrics.EventsTotal.WithLabelValues(outcomeRemoved).Inc()
		r.logger.Debug("removed log ignored",
			zap.Uint64("block", *raw.BlockNumber),
			zap.String("tx", raw.TxHash))
		return
	}

	if src == sourceLive {
		r.advanceLastBlock(*raw.BlockNumber)
	}

	data, err := r.binding.DecodeOrRaw(r.sub.EventName, raw.Topics, raw.Data)
	if err != nil {
		c.metrics.DecodeFailuresTotal.Inc()
		r.logger.Warn("storing undecoded log",
			zap.Uint64("block", *raw.BlockNumber),
			zap.String("tx", raw.TxHash),
			zap.Error(errors.Join(ErrDecode, err)))
	}

	if !c.isRegistered(r) {
		c.metrics.EventsTotal.WithLabelValues(outcomeUnregistered).Inc()
		return
	}

	saved, err := c.store.SaveEvent(ctx, &types.CollectedEvent{
		SubscriptionID:  r.sub.ID,
		ChainID:         r.sub.ChainID,
		ContractAddress: r.sub.ContractAddress,
		EventName:       r.sub.EventName,
		BlockNumber:     *raw.BlockNumber,
		TransactionHash: raw.TxHash,
		LogIndex:        raw.LogIndex,
		Data:            data,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			c.metrics.EventsTotal.WithLabelValues(outcomeDuplicate).Inc()
			return
		}
		c.metrics.EventsTotal.WithLabelValues(outcomeStoreFailed).Inc()
		r.logger.Error("failed to save event",
			zap.Uint64("block", *raw.BlockNumber),
			zap.String("tx", raw.TxHash),
			zap.Error(err))
		return
	}
	c.metrics.EventsTotal.WithLabelValues(outcomePersisted).Inc()

	if c.pub != nil && !c.pub.Publish(saved) {
		r.logger.Warn("event not broadcast, bus unavailable",
			zap.Uint64("event", saved.ID))
	}
}
