package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// VoucherApplyTotal counts voucher apply attempts by outcome.
	VoucherApplyTotal *prometheus.CounterVec
	// VoucherSelectionDuration records best-voucher selection latency in milliseconds.
	VoucherSelectionDuration prometheus.Histogram
	// VoucherSelectionCandidates records how many active candidates each selection evaluated.
	VoucherSelectionCandidates prometheus.Histogram
	// VoucherUsageRecorded counts settled voucher usages.
	VoucherUsageRecorded prometheus.Counter
	// VoucherSweepDeactivated counts vouchers deactivated by the expiry sweep.
	VoucherSweepDeactivated prometheus.Counter
	// CartAutoApplyTotal counts cart auto-apply runs by outcome.
	CartAutoApplyTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		VoucherApplyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_apply_total",
			Help:      "Count of voucher apply attempts by outcome.",
		}, []string{"result"})
		VoucherSelectionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "voucher_selection_duration_ms",
			Help:      "Latency of best-voucher selection in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		})
		VoucherSelectionCandidates = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "voucher_selection_candidates",
			Help:      "Number of active candidates evaluated per selection.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		})
		VoucherUsageRecorded = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_usage_recorded_total",
			Help:      "Total number of settled voucher usages.",
		})
		VoucherSweepDeactivated = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_sweep_deactivated_total",
			Help:      "Number of vouchers deactivated by the expiry sweep.",
		})
		CartAutoApplyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_auto_apply_total",
			Help:      "Count of cart auto-apply runs by outcome.",
		}, []string{"result"})

		mustRegisterCollector(reg, VoucherApplyTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				VoucherApplyTotal = v
			}
		})
		mustRegisterCollector(reg, VoucherSelectionDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				VoucherSelectionDuration = v
			}
		})
		mustRegisterCollector(reg, VoucherSelectionCandidates, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				VoucherSelectionCandidates = v
			}
		})
		mustRegisterCollector(reg, VoucherUsageRecorded, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				VoucherUsageRecorded = v
			}
		})
		mustRegisterCollector(reg, VoucherSweepDeactivated, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				VoucherSweepDeactivated = v
			}
		})
		mustRegisterCollector(reg, CartAutoApplyTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartAutoApplyTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
