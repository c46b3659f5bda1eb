package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/pkg/binding"
	"github.com/0xmhha/event-collector/pkg/provider"
	"github.com/0xmhha/event-collector/pkg/storage"
)

// Controller runs one ingestion task per started subscription.
// Each task either listens to a live log subscription or polls the chain.
type Controller struct {
	cfg     *Config
	chains  ChainRegistry
	subs    SubscriptionRegistry
	store   EventStore
	pub     Publisher
	pool    *provider.Pool
	metrics *Metrics
	logger  *zap.Logger

	bindings *binding.Cache
	runners  sync.Map // uint64 -> *runner

	// mu guards closing against goroutine launches
	mu      sync.RWMutex
	closing bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options holds controller dependencies
type Options struct {
	Config        *Config
	Chains        ChainRegistry
	Subscriptions SubscriptionRegistry
	Store         EventStore
	Publisher     Publisher

	// Pool is closed on Shutdown when set
	Pool    *provider.Pool
	Metrics *Metrics
	Logger  *zap.Logger
}

// NewController creates a controller
func NewController(opts Options) *Controller {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.SetDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil, "")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		cfg:      cfg,
		chains:   opts.Chains,
		subs:     opts.Subscriptions,
		store:    opts.Store,
		pub:      opts.Publisher,
		pool:     opts.Pool,
		metrics:  metrics,
		logger:   logger.Named("ingest"),
		bindings: binding.NewCache(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins ingestion for a subscription. It returns once the task is
// listening or polling and the optional backfill has run.
func (c *Controller) Start(ctx context.Context, subscriptionID uint64) error {
	if c.isClosing() {
		return NewSubscriptionError(subscriptionID, ErrShuttingDown, nil)
	}

	sub, err := c.subs.FindOne(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NewSubscriptionError(subscriptionID, ErrNotFound, nil)
		}
		return fmt.Errorf("failed to load subscription %d: %w", subscriptionID, err)
	}
	if sub == nil {
		return NewSubscriptionError(subscriptionID, ErrNotFound, nil)
	}
	if !sub.IsActive {
		return NewSubscriptionError(subscriptionID, ErrInactive, nil)
	}

	r := newRunner(c.ctx, sub, c.logger)
	r.mu.Lock()
	if _, loaded := c.runners.LoadOrStore(sub.ID, r); loaded {
		r.mu.Unlock()
		r.cancel()
		return NewSubscriptionError(subscriptionID, ErrAlreadyRunning, nil)
	}

	if err := c.launch(ctx, r); err != nil {
		r.done = nil
		r.mu.Unlock()
		r.cancel()
		c.runners.CompareAndDelete(sub.ID, r)
		return err
	}
	r.mu.Unlock()

	if sub.FromBlock != nil {
		c.backfill(r.ctx, r, *sub.FromBlock)
	}
	return nil
}

// launch resolves the provider and binding, then starts the listener or poller.
// Caller must hold r.mu and cancels r on error.
func (c *Controller) launch(ctx context.Context, r *runner) error {
	sub := r.sub

	prov, err := c.resolveProvider(ctx, sub.ChainID)
	if err != nil {
		return NewSubscriptionError(sub.ID, ErrChainNotFound, err)
	}
	r.provider = prov

	b, err := c.bindings.GetOrCreate(sub.ChainID, sub.ContractAddress, sub.ABI, sub.EventName)
	if err != nil {
		if errors.Is(err, ErrFilter) {
			return NewSubscriptionError(sub.ID, ErrFilter, err)
		}
		return NewSubscriptionError(sub.ID, ErrABI, err)
	}
	r.binding = b

	filter, err := b.BuildEventFilter(sub.EventName)
	if err != nil {
		return NewSubscriptionError(sub.ID, ErrFilter, err)
	}
	r.filter = filter

	loop, release, err := c.establish(r.ctx, r)
	if err != nil {
		return NewSubscriptionError(sub.ID, ErrRPC, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closing {
		if release != nil {
			release()
		}
		return NewSubscriptionError(sub.ID, ErrShuttingDown, nil)
	}

	r.done = make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(r.done)
		defer c.metrics.RunningSubscriptions.WithLabelValues(r.getMode().String()).Dec()
		loop()
	}()
	c.metrics.RunningSubscriptions.WithLabelValues(r.getMode().String()).Inc()

	r.logger.Info("subscription started",
		zap.String("mode", r.getMode().String()),
		zap.String("contract", sub.ContractAddress))
	return nil
}

// establish tries a live subscription and falls back to polling.
// It returns the loop to run in the task goroutine and, for a live
// subscription, the function releasing it if the loop is never run.
func (c *Controller) establish(ctx context.Context, r *runner) (func(), func(), error) {
	logs := make(chan ethtypes.Log, c.cfg.LogBuffer)
	sub, err := r.provider.SubscribeFilterLogs(ctx, r.filter, logs)
	if err == nil {
		r.setMode(ModeListening)
		if head, err := r.provider.BlockNumber(ctx); err == nil {
			r.lastBlock.Store(head)
		}
		return func() { c.listen(ctx, r, sub, logs) }, sub.Unsubscribe, nil
	}
	if ctx.Err() != nil {
		// stopped while subscribing
		return nil, nil, ctx.Err()
	}

	r.logger.Warn("live log subscription unavailable, falling back to polling",
		zap.Error(err))
	c.metrics.FallbacksTotal.Inc()

	head, err := r.provider.BlockNumber(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get block number: %w", err)
	}

	last := saturatingSub(head, c.cfg.PollLookback)
	if from := r.sub.FromBlock; from != nil && *from > last {
		last = *from
	}
	r.lastBlock.Store(last)
	r.setMode(ModePolling)

	return func() { c.poll(ctx, r) }, nil, nil
}

// resolveProvider returns the chain's provider, materialising it through the registry if needed
func (c *Controller) resolveProvider(ctx context.Context, chainID uint64) (provider.Provider, error) {
	if prov, ok := c.chains.GetProvider(chainID); ok {
		return prov, nil
	}
	if _, err := c.chains.FindOne(ctx, chainID); err != nil {
		return nil, err
	}
	if prov, ok := c.chains.GetProvider(chainID); ok {
		return prov, nil
	}
	return nil, fmt.Errorf("no provider for chain %d", chainID)
}

// Stop tears down a running subscription. It reports whether anything was running.
// The subscription's active flag is left unchanged.
func (c *Controller) Stop(subscriptionID uint64) bool {
	v, ok := c.runners.LoadAndDelete(subscriptionID)
	if !ok {
		return false
	}
	r := v.(*runner)
	r.teardown()

	r.logger.Info("subscription stopped")
	return true
}

// Recover starts every active subscription, skipping those that fail.
// It returns the number started.
func (c *Controller) Recover(ctx context.Context) int {
	subs, err := c.subs.FindAll(ctx)
	if err != nil {
		c.logger.Error("failed to load active subscriptions", zap.Error(err))
		return 0
	}

	started := 0
	for _, sub := range subs {
		if err := c.Start(ctx, sub.ID); err != nil {
			c.logger.Warn("failed to start subscription",
				zap.Uint64("subscription", sub.ID),
				zap.Error(err))
			continue
		}
		started++
	}

	c.logger.Info("subscriptions recovered",
		zap.Int("started", started),
		zap.Int("active", len(subs)))
	return started
}

// Shutdown stops every subscription, waits for their tasks and releases
// cached bindings and providers. Safe to call more than once.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.mu.Unlock()

	c.runners.Range(func(key, _ any) bool {
		if v, ok := c.runners.LoadAndDelete(key); ok {
			v.(*runner).teardown()
		}
		return true
	})

	c.cancel()
	c.wg.Wait()

	c.bindings.Clear()
	if c.pool != nil {
		c.pool.Close()
	}

	c.logger.Info("ingestion controller stopped")
}

func (c *Controller) isClosing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closing
}

// isRegistered reports whether r is still the registered runner for its subscription
func (c *Controller) isRegistered(r *runner) bool {
	v, ok := c.runners.Load(r.sub.ID)
	return ok && v.(*runner) == r
}

// Mode returns the delivery mode of a running subscription
func (c *Controller) Mode(subscriptionID uint64) (Mode, bool) {
	v, ok := c.runners.Load(subscriptionID)
	if !ok {
		return 0, false
	}
	return v.(*runner).getMode(), true
}

// Running returns a snapshot of every running subscription ordered by id
func (c *Controller) Running() []RunnerInfo {
	var infos []RunnerInfo
	c.runners.Range(func(_, v any) bool {
		infos = append(infos, v.(*runner).info())
		return true
	})
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].SubscriptionID < infos[j].SubscriptionID
	})
	return infos
}

// RunningCount returns the number of running subscriptions
func (c *Controller) RunningCount() int {
	n := 0
	c.runners.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
