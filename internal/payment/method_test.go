package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	for _, in := range []string{"khipu", "Stripe", " PAYPAL ", "webpay"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseMethod(in)
			require.NoError(t, err)
		})
	}

	m, err := ParseMethod("Stripe")
	require.NoError(t, err)
	assert.Equal(t, MethodStripe, m)

	_, err = ParseMethod("cash")
	assert.ErrorIs(t, err, ErrMethodNotAllowed)
	_, err = ParseMethod("CHECK")
	assert.ErrorIs(t, err, ErrMethodNotAllowed)
	_, err = ParseMethod("bitcoin")
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
	_, err = ParseMethod("")
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestCommission(t *testing.T) {
	tests := []struct {
		amount     int64
		percent    float64
		commission int64
		net        int64
	}{
		{55000, 8, 4400, 50600},
		{50000, 8, 4000, 46000},
		{999, 8, 80, 919},
		{100, 0, 0, 100},
		{12345, 12.5, 1543, 10802},
	}
	for _, tt := range tests {
		c, n := Commission(tt.amount, tt.percent)
		assert.Equal(t, tt.commission, c, "commission of %d at %v%%", tt.amount, tt.percent)
		assert.Equal(t, tt.net, n)
		assert.Equal(t, tt.amount, c+n)
	}
}
