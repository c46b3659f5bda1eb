package ingest

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/pkg/binding"
	"github.com/0xmhha/event-collector/pkg/provider"
	"github.com/0xmhha/event-collector/pkg/types"
)

// Mode is the delivery mode of a running subscription
type Mode int

const (
	ModeStarting Mode = iota
	ModeListening
	ModePolling
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case ModeStarting:
		return "starting"
	case ModeListening:
		return "listening"
	case ModePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// RunnerInfo describes a running subscription
type RunnerInfo struct {
	SubscriptionID uint64    `json:"subscriptionId"`
	ChainID        uint64    `json:"chainId"`
	EventName      string    `json:"eventName"`
	Mode           string    `json:"mode"`
	LastBlock      uint64    `json:"lastBlock"`
	StartedAt      time.Time `json:"startedAt"`
}

// runner is the runtime state of one running subscription.
// ctx and cancel are set before the runner is published and never change.
// mu is held by Start for the whole launch, so teardown cancels first and
// then waits for the launch to finish.
type runner struct {
	mu     sync.Mutex
	mode   atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	sub      *types.Subscription
	binding  *binding.Binding
	filter   ethereum.FilterQuery
	provider provider.Provider
	logger   *zap.Logger

	// procMu keeps processing serial across the loop goroutine and backfill
	procMu sync.Mutex

	// lastBlock is the last processed block when polling, the last seen block when listening
	lastBlock atomic.Uint64

	startedAt time.Time
}

func newRunner(parent context.Context, sub *types.Subscription, logger *zap.Logger) *runner {
	ctx, cancel := context.WithCancel(parent)
	return &runner{
		ctx:       ctx,
		cancel:    cancel,
		sub:       sub,
		startedAt: time.Now(),
		logger: logger.With(
			zap.Uint64("subscription", sub.ID),
			zap.Uint64("chain", sub.ChainID),
			zap.String("event", sub.EventName)),
	}
}

func (r *runner) getMode() Mode {
	return Mode(r.mode.Load())
}

func (r *runner) setMode(m Mode) {
	r.mode.Store(int32(m))
}

// teardown cancels the runner loop and waits for it to exit
func (r *runner) teardown() {
	r.cancel()

	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}

// info snapshots the runner
func (r *runner) info() RunnerInfo {
	return RunnerInfo{
		SubscriptionID: r.sub.ID,
		ChainID:        r.sub.ChainID,
		EventName:      r.sub.EventName,
		Mode:           r.getMode().String(),
		LastBlock:      r.lastBlock.Load(),
		StartedAt:      r.startedAt,
	}
}

// rangeQuery returns the runner filter bounded to [from, to]
func (r *runner) rangeQuery(from, to uint64) ethereum.FilterQuery {
	q := r.filter
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(to)
	return q
}

// advanceLastBlock raises lastBlock to n
func (r *runner) advanceLastBlock(n uint64) {
	for {
		cur := r.lastBlock.Load()
		if n <= cur || r.lastBlock.CompareAndSwap(cur, n) {
			return
		}
	}
}

// saturatingSub returns a-b floored at zero
func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
