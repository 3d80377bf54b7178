package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/keysync/backend/internal/domain/fulfillment"
	"github.com/keysync/backend/internal/domain/storefront"
)

// OrderFulfiller runs one fulfillment pass for an order. The retry scheduler
// never touches records directly; the engine's conditional transitions keep
// concurrent passes safe.
type OrderFulfiller interface {
	FulfillOrder(ctx context.Context, orderID string) (fulfillment.OrderState, error)
}

// RetrySchedulerConfig holds configuration for the fulfillment retry scheduler
type RetrySchedulerConfig struct {
	// Enabled indicates if the scheduler is enabled
	Enabled bool
	// PollInterval is how often the ledger is scanned for due retries
	PollInterval time.Duration
	// BatchSize is the maximum number of due records fetched per scan
	BatchSize int
	// WorkerCount is the number of concurrent fulfillment passes
	WorkerCount int
	// JobTimeout is the maximum time a single fulfillment pass can run
	JobTimeout time.Duration
	// BackstopInterval is how often to sweep for paid orders that never
	// entered the ledger (missed payment hooks)
	BackstopInterval time.Duration
	// BackstopLookback is how far back the sweep looks
	BackstopLookback time.Duration
}

// DefaultRetrySchedulerConfig returns default configuration
func DefaultRetrySchedulerConfig() RetrySchedulerConfig {
	return RetrySchedulerConfig{
		Enabled:          true,
		PollInterval:     30 * time.Second,
		BatchSize:        50,
		WorkerCount:      4,
		JobTimeout:       2 * time.Minute,
		BackstopInterval: 5 * time.Minute,
		BackstopLookback: 24 * time.Hour,
	}
}

// Validate validates the configuration
func (c *RetrySchedulerConfig) Validate() error {
	if c.PollInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.BatchSize <= 0 {
		return ErrInvalidConfig
	}
	if c.WorkerCount <= 0 {
		return ErrInvalidConfig
	}
	if c.JobTimeout <= 0 {
		return ErrInvalidConfig
	}
	if c.BackstopInterval <= 0 || c.BackstopLookback <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// RetryScheduler periodically scans the ledger for failed records whose
// retry time has passed and re-runs fulfillment for their orders. A second
// sweep catches paid orders that never produced records at all.
type RetryScheduler struct {
	config    RetrySchedulerConfig
	ledger    fulfillment.Repository
	orders    storefront.OrderCollaborator
	fulfiller OrderFulfiller
	logger    *zap.Logger

	jobs      chan string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	// inFlight dedupes orders already queued or being processed so a slow
	// pass is not enqueued again by the next scan
	inFlightMu sync.Mutex
	inFlight   map[string]struct{}
}

// NewRetryScheduler creates a new fulfillment retry scheduler
func NewRetryScheduler(
	config RetrySchedulerConfig,
	ledger fulfillment.Repository,
	orders storefront.OrderCollaborator,
	fulfiller OrderFulfiller,
	logger *zap.Logger,
) (*RetryScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryScheduler{
		config:    config,
		ledger:    ledger,
		orders:    orders,
		fulfiller: fulfiller,
		logger:    logger.Named("retry-scheduler"),
		jobs:      make(chan string, 2*config.BatchSize),
		inFlight:  make(map[string]struct{}),
	}, nil
}

// Start starts the poll loop, the backstop sweep and the worker pool
func (s *RetryScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.wg.Add(1)
	go s.pollLoop(ctx)

	s.wg.Add(1)
	go s.backstopLoop(ctx)

	s.logger.Info("retry scheduler started",
		zap.Int("workers", s.config.WorkerCount),
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Duration("backstop_interval", s.config.BackstopInterval),
	)
	return nil
}

// Stop gracefully stops the scheduler
func (s *RetryScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("retry scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("retry scheduler stop timed out")
		return ctx.Err()
	}
}

// SubmitOrder queues a fulfillment pass for an order. Used by the payment
// hook path when it wants asynchronous processing.
func (s *RetryScheduler) SubmitOrder(orderID string) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.mu.Unlock()

	if !s.markInFlight(orderID) {
		return nil
	}

	select {
	case s.jobs <- orderID:
		return nil
	default:
		s.clearInFlight(orderID)
		return ErrJobQueueFull
	}
}

func (s *RetryScheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanRetryable(ctx)
		}
	}
}

func (s *RetryScheduler) backstopLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.BackstopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepUnfulfilled(ctx)
		}
	}
}

// scanRetryable queues orders holding records whose retry time has passed
func (s *RetryScheduler) scanRetryable(ctx context.Context) {
	records, err := s.ledger.FindRetryable(ctx, time.Now(), s.config.BatchSize)
	if err != nil {
		s.logger.Error("ledger scan failed", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}

	queued := 0
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.OrderID]; dup {
			continue
		}
		seen[rec.OrderID] = struct{}{}
		if s.enqueue(ctx, rec.OrderID) {
			queued++
		}
	}

	s.logger.Debug("retry scan finished",
		zap.Int("due_records", len(records)),
		zap.Int("orders_queued", queued),
	)
}

// sweepUnfulfilled queues paid orders that never entered the ledger
func (s *RetryScheduler) sweepUnfulfilled(ctx context.Context) {
	since := time.Now().Add(-s.config.BackstopLookback)
	orderIDs, err := s.orders.ListPaidOrdersWithoutFulfillment(ctx, since, s.config.BatchSize)
	if err != nil {
		s.logger.Error("backstop sweep failed", zap.Error(err))
		return
	}

	for _, orderID := range orderIDs {
		if s.enqueue(ctx, orderID) {
			s.logger.Info("queued order missed by payment hook",
				zap.String("order_id", orderID),
			)
		}
	}
}

func (s *RetryScheduler) enqueue(ctx context.Context, orderID string) bool {
	if !s.markInFlight(orderID) {
		return false
	}
	select {
	case s.jobs <- orderID:
		return true
	case <-ctx.Done():
		s.clearInFlight(orderID)
		return false
	}
}

func (s *RetryScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case orderID, ok := <-s.jobs:
			if !ok {
				return
			}
			s.processOrder(ctx, orderID, workerID)
		}
	}
}

func (s *RetryScheduler) processOrder(ctx context.Context, orderID string, workerID int) {
	defer s.clearInFlight(orderID)

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	state, err := s.fulfiller.FulfillOrder(jobCtx, orderID)
	if err != nil {
		s.logger.Error("scheduled fulfillment pass failed",
			zap.Int("worker_id", workerID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("scheduled fulfillment pass finished",
		zap.Int("worker_id", workerID),
		zap.String("order_id", orderID),
		zap.String("order_state", string(state)),
	)
}

func (s *RetryScheduler) markInFlight(orderID string) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if _, exists := s.inFlight[orderID]; exists {
		return false
	}
	s.inFlight[orderID] = struct{}{}
	return true
}

func (s *RetryScheduler) clearInFlight(orderID string) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, orderID)
}
