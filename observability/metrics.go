// Package observability carries the process-wide metric registries.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type ledgerMetrics struct {
	operations   *prometheus.CounterVec
	liquidations prometheus.Counter
}

type shieldMetrics struct {
	deposits    *prometheus.CounterVec
	withdrawals *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	proofCheck  *prometheus.HistogramVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics

	shieldMetricsOnce sync.Once
	shieldRegistry    *shieldMetrics
)

// RPCMetrics returns the lazily-initialised registry recording JSON-RPC
// activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mav",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mav",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mav",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
		)
	})
	return rpcRegistry
}

// Observe records one completed request.
func (m *rpcMetrics) Observe(method string, err bool, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err {
		outcome = "error"
		m.errors.WithLabelValues(method, strconv.Itoa(code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// LedgerMetrics returns the registry counting lending ledger operations.
func LedgerMetrics() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mav",
				Subsystem: "lending",
				Name:      "operations_total",
				Help:      "Total ledger operations segmented by kind, asset, and outcome.",
			}, []string{"op", "asset", "outcome"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "mav",
				Subsystem: "lending",
				Name:      "liquidations_total",
				Help:      "Count of executed liquidations.",
			}),
		}
		prometheus.MustRegister(ledgerRegistry.operations, ledgerRegistry.liquidations)
	})
	return ledgerRegistry
}

// RecordOperation counts one ledger operation.
func (m *ledgerMetrics) RecordOperation(op, asset string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, asset, outcome).Inc()
}

// RecordLiquidation counts one executed liquidation.
func (m *ledgerMetrics) RecordLiquidation() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

// ShieldMetrics returns the registry counting shielded pool activity.
func ShieldMetrics() *shieldMetrics {
	shieldMetricsOnce.Do(func() {
		shieldRegistry = &shieldMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mav",
				Subsystem: "shield",
				Name:      "deposits_total",
				Help:      "Total shielded deposits segmented by asset.",
			}, []string{"asset"}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mav",
				Subsystem: "shield",
				Name:      "withdrawals_total",
				Help:      "Total shielded withdrawals segmented by asset.",
			}, []string{"asset"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mav",
				Subsystem: "shield",
				Name:      "rejections_total",
				Help:      "Shield operations rejected, segmented by asset and reason.",
			}, []string{"asset", "reason"}),
			proofCheck: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mav",
				Subsystem: "shield",
				Name:      "proof_verification_duration_seconds",
				Help:      "Latency distribution of withdrawal proof verification.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			shieldRegistry.deposits,
			shieldRegistry.withdrawals,
			shieldRegistry.rejected,
			shieldRegistry.proofCheck,
		)
	})
	return shieldRegistry
}

// RecordDeposit counts an accepted shielded deposit.
func (m *shieldMetrics) RecordDeposit(asset string) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(asset).Inc()
}

// RecordWithdrawal counts an accepted shielded withdrawal.
func (m *shieldMetrics) RecordWithdrawal(asset string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(asset).Inc()
}

// ObserveVerification records how long one withdrawal proof check took.
func (m *shieldMetrics) ObserveVerification(asset string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.proofCheck.WithLabelValues(asset).Observe(elapsed.Seconds())
}

// RecordRejection counts a rejected shield operation.
func (m *shieldMetrics) RecordRejection(asset, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(asset, reason).Inc()
}
