package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocateFundsGeometricSplit(t *testing.T) {
	// capital 100, 3 layers, multiplier 2 → weights 4:2:1
	amounts := AllocateFunds(100, 3, 2, 0)

	assert.Len(t, amounts, 3)
	assert.InDelta(t, 57.142857, amounts[0], 1e-4)
	assert.InDelta(t, 28.571428, amounts[1], 1e-4)
	assert.InDelta(t, 14.285714, amounts[2], 1e-4)
}

func TestAllocateFundsSumsToCapital(t *testing.T) {
	cases := []struct {
		capital    float64
		layers     int
		multiplier float64
		fixed      float64
	}{
		{100, 3, 2, 0},
		{100, 1, 2, 0},
		{1000, 5, 1.5, 0},
		{1000, 5, 1.5, 200},
		{50, 4, 1, 0},
		{250, 10, 3, 25},
		{100, 2, 0.5, 0},
	}

	for _, tc := range cases {
		amounts := AllocateFunds(tc.capital, tc.layers, tc.multiplier, tc.fixed)
		assert.Len(t, amounts, tc.layers)

		sum := 0.0
		for i, a := range amounts {
			assert.Greater(t, a, 0.0, "layer %d amount must be positive (capital=%v layers=%d mult=%v fixed=%v)",
				i, tc.capital, tc.layers, tc.multiplier, tc.fixed)
			sum += a
		}
		assert.InDelta(t, tc.capital, sum, 1e-6,
			"allocations must sum to capital (capital=%v layers=%d mult=%v fixed=%v)",
			tc.capital, tc.layers, tc.multiplier, tc.fixed)
	}
}

func TestAllocateFundsFixedFirstLayer(t *testing.T) {
	amounts := AllocateFunds(100, 3, 2, 40)

	assert.InDelta(t, 40.0, amounts[0], 1e-9)
	// remaining 60 split 2:1 over layers 1 and 2
	assert.InDelta(t, 40.0, amounts[1], 1e-6)
	assert.InDelta(t, 20.0, amounts[2], 1e-6)
}

func TestAllocateFundsRejectsBadInput(t *testing.T) {
	assert.Nil(t, AllocateFunds(0, 3, 2, 0))
	assert.Nil(t, AllocateFunds(100, 0, 2, 0))
	assert.Nil(t, AllocateFunds(100, 3, 0, 0))
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Symbol:        "BTCUSDT",
		TotalCapital:  100,
		MaxLayers:     3,
		Multiplier:    2,
		PriceStepDown: 0.01,
	}
	assert.NoError(t, valid.Validate())

	bad := valid
	bad.Symbol = ""
	assert.Error(t, bad.Validate())

	bad = valid
	bad.TotalCapital = 0
	assert.Error(t, bad.Validate())

	bad = valid
	bad.PriceStepDown = 1.5
	assert.Error(t, bad.Validate())

	bad = valid
	bad.FirstLayerFixedAmount = 100
	assert.Error(t, bad.Validate())
}

func TestTakeProfitPrice(t *testing.T) {
	assert.InDelta(t, 95.2, TakeProfitPrice(93.333333, 0.02), 0.001)
	assert.InDelta(t, 102.0, TakeProfitPrice(100, 0.02), 1e-9)
}
