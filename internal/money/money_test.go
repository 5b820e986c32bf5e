package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRound2(t *testing.T) {
	cases := map[string]string{
		"1.005":   "1.01",
		"1.004":   "1",
		"-2.345":  "-2.35",
		"123.456": "123.46",
	}
	for in, want := range cases {
		got := Round2(decimal.RequireFromString(in))
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "round2(%s) = %s, want %s", in, got, want)
	}
}

func TestLineTotalHasNoDrift(t *testing.T) {
	unit := decimal.RequireFromString("33.33")
	assert.Equal(t, "99.99", LineTotal(unit, 3).StringFixed(2))

	// Recomputing from the unit price must land on the same value after any
	// sequence of quantity changes.
	qty := 3
	for i := 0; i < 50; i++ {
		qty++
		_ = LineTotal(unit, qty)
		qty--
	}
	assert.Equal(t, "99.99", LineTotal(unit, qty).StringFixed(2))
}

func TestParse(t *testing.T) {
	got, err := Parse(" ₹1,250.50 ")
	require.NoError(t, err)
	assert.Equal(t, "1250.50", got.StringFixed(2))

	got, err = Parse("150")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(150)))

	for _, bad := range []string{"", "   ", "abc", "12..5"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidAmount, "input %q", bad)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "₹0.00", Format(decimal.Zero))
	assert.Equal(t, "₹15.00", Format(decimal.NewFromInt(15)))
	assert.Equal(t, "₹999.90", Format(decimal.RequireFromString("999.9")))
	assert.Equal(t, "₹1,234.50", Format(decimal.RequireFromString("1234.5")))
	assert.Equal(t, "₹1,00,000.00", Format(decimal.NewFromInt(100000)))
	assert.Equal(t, "₹12,34,567.50", Format(decimal.RequireFromString("1234567.5")))
	assert.Equal(t, "₹1,23,45,678.00", Format(decimal.NewFromInt(12345678)))
	assert.Equal(t, "-₹26.55", Format(decimal.RequireFromString("-26.55")))
}

func TestSum(t *testing.T) {
	got := Sum(decimal.RequireFromString("0.10"), decimal.RequireFromString("0.20"), decimal.RequireFromString("30"))
	assert.Equal(t, "30.30", got.StringFixed(2))
}
