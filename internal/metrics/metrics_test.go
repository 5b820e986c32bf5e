package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBillingCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBilling(reg)

	m.CartOp("add_unit", nil)
	m.CartOp("add_unit", errors.New("out of stock"))
	m.CartOp("add_unit", nil)
	m.BatchFallback()
	m.Checkout("cash", nil, 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cartOps.WithLabelValues("add_unit", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cartOps.WithLabelValues("add_unit", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkouts.WithLabelValues("cash", "ok")))
}

func TestNilBillingIsSafe(t *testing.T) {
	var m *Billing
	m.CartOp("add_unit", nil)
	m.BatchFallback()
	m.Checkout("", nil, time.Second)
	assert.Nil(t, NewBilling(nil))
}
