package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsWeekend(t *testing.T) {
	assert.False(t, IsWeekend(time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC))) // Monday
	assert.False(t, IsWeekend(time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC))) // Friday
	assert.True(t, IsWeekend(time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)))  // Saturday
	assert.True(t, IsWeekend(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)))  // Sunday
}

func TestTradingDates(t *testing.T) {
	friday := time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC)
	monday := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)

	dates := TradingDates(friday, monday)
	assert.Equal(t, []time.Time{friday, monday}, dates)

	// Inclusive single-day range.
	assert.Len(t, TradingDates(monday, monday), 1)

	// Inverted range is empty.
	assert.Empty(t, TradingDates(monday, friday))

	// A weekend-only range has no trading days.
	saturday := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)
	sunday := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, TradingDates(saturday, sunday))
}
