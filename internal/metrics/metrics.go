package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Billing records cart and checkout activity. A nil *Billing is valid and
// records nothing.
type Billing struct {
	cartOps          *prometheus.CounterVec
	batchFallbacks   prometheus.Counter
	checkouts        *prometheus.CounterVec
	checkoutDuration prometheus.Histogram
}

func NewBilling(reg prometheus.Registerer) *Billing {
	if reg == nil {
		return nil
	}
	b := &Billing{
		cartOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_cart_operations_total",
			Help: "Cart operations by kind and result.",
		}, []string{"op", "result"}),
		batchFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pos_batch_lookup_fallbacks_total",
			Help: "Add-to-cart actions that fell back to product pricing after a batch lookup failure.",
		}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pos_checkouts_total",
			Help: "Checkout attempts by payment method and result.",
		}, []string{"payment_method", "result"}),
		checkoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pos_checkout_duration_seconds",
			Help:    "Checkout latency including the sale submission.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(b.cartOps, b.batchFallbacks, b.checkouts, b.checkoutDuration)
	return b
}

func (b *Billing) CartOp(op string, err error) {
	if b == nil {
		return
	}
	b.cartOps.WithLabelValues(op, resultLabel(err)).Inc()
}

func (b *Billing) BatchFallback() {
	if b == nil {
		return
	}
	b.batchFallbacks.Inc()
}

func (b *Billing) Checkout(paymentMethod string, err error, took time.Duration) {
	if b == nil {
		return
	}
	if paymentMethod == "" {
		paymentMethod = "unknown"
	}
	b.checkouts.WithLabelValues(paymentMethod, resultLabel(err)).Inc()
	b.checkoutDuration.Observe(took.Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
