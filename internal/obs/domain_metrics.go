package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PurchaseIntentTotal counts purchase initiation outcomes by flow.
	PurchaseIntentTotal *prometheus.CounterVec
	// PaymentVerificationTotal counts payment verification outcomes by flow.
	PaymentVerificationTotal *prometheus.CounterVec
	// BundleSize observes how many tests each settled bundle contained.
	BundleSize prometheus.Histogram
	// DiscountGranted tracks the total discount granted, in minor units.
	DiscountGranted prometheus.Counter
)

// MustRegisterDomainMetrics initialises and registers domain-specific
// Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PurchaseIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_intent_total",
			Help:      "Count of purchase initiation outcomes.",
		}, []string{"flow", "result"})
		PaymentVerificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verification_total",
			Help:      "Count of payment verification outcomes.",
		}, []string{"flow", "result"})
		BundleSize = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bundle_size_tests",
			Help:      "Number of tests per settled bundle order.",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		})
		DiscountGranted = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_granted_minor_units_total",
			Help:      "Cumulative bundle discount granted, in minor units.",
		})

		mustRegisterCollector(reg, PurchaseIntentTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PurchaseIntentTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentVerificationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentVerificationTotal = v
			}
		})
		mustRegisterCollector(reg, BundleSize, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				BundleSize = v
			}
		})
		mustRegisterCollector(reg, DiscountGranted, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				DiscountGranted = v
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
