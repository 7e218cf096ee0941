package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskbazaar/backend/internal/models"
)

func TestFeeQuote(t *testing.T) {
	p := FeePolicy{Rate: dec("0.01"), MinFee: dec("1.00"), MinAmount: dec("10.00")}

	cases := []struct {
		amount   string
		fee, net string
		err      error
	}{
		{amount: "100", fee: "1", net: "99"},
		{amount: "1000", fee: "10", net: "990"},
		{amount: "250.55", fee: "2.51", net: "248.04"},
		{amount: "10", fee: "1", net: "9"},
		{amount: "9.99", err: models.ErrBelowMinimum},
		{amount: "0", err: models.ErrInvalidAmount},
		{amount: "-5", err: models.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.amount, func(t *testing.T) {
			fee, net, err := p.Quote(dec(tc.amount))
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			assert.NoError(t, err)
			assert.True(t, fee.Equal(dec(tc.fee)), "fee = %s", fee)
			assert.True(t, net.Equal(dec(tc.net)), "net = %s", net)
		})
	}
}

func TestFeeNeverExceedsAmount(t *testing.T) {
	p := FeePolicy{Rate: dec("0"), MinFee: dec("5"), MinAmount: dec("0")}
	fee, net, err := p.Quote(dec("3"))
	assert.NoError(t, err)
	assert.True(t, fee.Equal(dec("3")))
	assert.True(t, net.IsZero())
}
