package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(authOperations.WithLabelValues("login", "INVALID_CREDENTIALS"))
	ObserveOperation("login", "INVALID_CREDENTIALS", time.Now())
	after := testutil.ToFloat64(authOperations.WithLabelValues("login", "INVALID_CREDENTIALS"))
	assert.Equal(t, before+1, after)
}

func TestObserveOTPDelivery(t *testing.T) {
	before := testutil.ToFloat64(otpDeliveries.WithLabelValues("failed"))
	ObserveOTPDelivery(false)
	assert.Equal(t, before+1, testutil.ToFloat64(otpDeliveries.WithLabelValues("failed")))
}
