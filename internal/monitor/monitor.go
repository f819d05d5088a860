// Package monitor runs periodic integrity checks over the transaction chain
// and reports the outcome to logs and metrics.
package monitor

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pharmatrust/pharmaledger/internal/ledger"
)

// Config holds integrity monitor configuration.
type Config struct {
	CheckInterval time.Duration
}

// MetricsRecordFunc is an optional callback for recording check results.
type MetricsRecordFunc func(chainLen int, valid bool)

// Monitor re-verifies the full chain on a fixed interval. A chain can only
// become invalid through memory corruption or a bug, so a failed check is
// logged as an error with every violation it found.
type Monitor struct {
	chain     *ledger.Ledger
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger

	mu        sync.Mutex
	lastValid bool
}

// New creates a Monitor.
func New(chain *ledger.Ledger, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	return &Monitor{
		chain:     chain,
		cfg:       cfg,
		logger:    logger,
		lastValid: true,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (m *Monitor) SetMetricsRecord(fn MetricsRecordFunc) {
	m.onMetrics = fn
}

// Start runs the verification loop until quit is signalled.
func (m *Monitor) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CheckOnce()
		case <-quit:
			return
		}
	}
}

// CheckOnce verifies the chain a single time and returns the result.
func (m *Monitor) CheckOnce() ledger.VerifyResult {
	res := m.chain.VerifyChain()
	chainLen := m.chain.Len()

	if m.onMetrics != nil {
		m.onMetrics(chainLen, res.Valid)
	}

	m.mu.Lock()
	wasValid := m.lastValid
	m.lastValid = res.Valid
	m.mu.Unlock()

	switch {
	case !res.Valid:
		fields := []zap.Field{
			zap.Int("chain_length", chainLen),
			zap.Int("violations", len(res.Violations)),
		}
		for _, v := range res.Violations {
			fields = append(fields, zap.String(
				"violation",
				fmt.Sprintf("%s at index %d (%s)", v.Kind, v.Index, v.TransactionID),
			))
		}
		m.logger.Error("integrity: chain verification failed", fields...)
	case !wasValid:
		// Transition: invalid -> valid. Should not happen without a restart.
		m.logger.Warn("integrity: chain verification recovered",
			zap.Int("chain_length", chainLen))
	default:
		m.logger.Debug("integrity: chain verified",
			zap.Int("chain_length", chainLen))
	}

	return res
}
