package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/keysync/backend/internal/domain/storefront"
	"github.com/keysync/backend/internal/domain/supplier"
)

// BalanceMonitorConfig holds wholesale balance monitoring settings
type BalanceMonitorConfig struct {
	CheckInterval time.Duration
	LowThreshold  decimal.Decimal
	Currency      string
}

// BalanceMonitor periodically checks the wholesale account balance and
// alerts the operator when it drops below the threshold. One alert is sent
// per dip below the threshold; the monitor re-arms once the balance
// recovers.
type BalanceMonitor struct {
	config   BalanceMonitorConfig
	gateway  supplier.Gateway
	notifier storefront.NotificationCollaborator
	logger   *zap.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	alerted bool
}

// NewBalanceMonitor creates a new BalanceMonitor
func NewBalanceMonitor(
	config BalanceMonitorConfig,
	gateway supplier.Gateway,
	notifier storefront.NotificationCollaborator,
	logger *zap.Logger,
) (*BalanceMonitor, error) {
	if config.CheckInterval <= 0 {
		return nil, fmt.Errorf("balance monitor: check interval must be positive")
	}
	if config.LowThreshold.IsNegative() {
		return nil, fmt.Errorf("balance monitor: low threshold cannot be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceMonitor{
		config:   config,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger.Named("balance-monitor"),
	}, nil
}

// Start begins periodic balance checks
func (m *BalanceMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.loop(ctx)

	m.logger.Info("balance monitor started",
		zap.Duration("check_interval", m.config.CheckInterval),
		zap.String("low_threshold", m.config.LowThreshold.String()),
	)
}

// Stop stops the monitor and waits for the loop to exit
func (m *BalanceMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// CheckOnce performs a single balance check. Exposed for the admin API and
// used by the periodic loop.
func (m *BalanceMonitor) CheckOnce(ctx context.Context) (*supplier.Balance, error) {
	balance, err := m.gateway.AccountBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("check balance: %w", err)
	}

	if balance.Total().LessThan(m.config.LowThreshold) {
		m.alertOnce(ctx, balance)
	} else {
		m.rearm()
	}
	return balance, nil
}

func (m *BalanceMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.CheckOnce(ctx); err != nil {
				m.logger.Warn("balance check failed", zap.Error(err))
			}
		}
	}
}

func (m *BalanceMonitor) alertOnce(ctx context.Context, balance *supplier.Balance) {
	m.mu.Lock()
	if m.alerted {
		m.mu.Unlock()
		return
	}
	m.alerted = true
	m.mu.Unlock()

	m.logger.Warn("wholesale balance below threshold",
		zap.String("balance", balance.Total().String()),
		zap.String("threshold", m.config.LowThreshold.String()),
		zap.String("currency", balance.Currency),
	)
	if err := m.notifier.SendLowBalanceAlert(ctx, balance.Total(), balance.Currency); err != nil {
		m.logger.Error("low balance alert failed", zap.Error(err))
	}
}

func (m *BalanceMonitor) rearm() {
	m.mu.Lock()
	m.alerted = false
	m.mu.Unlock()
}
