package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bikefleet-backend/internal/domain"
)

func TestCalculateRentalCost(t *testing.T) {
	week := domain.Tariff{ID: 1, Price: 50000, DurationDays: 7}

	tests := []struct {
		name   string
		tariff domain.Tariff
		days   int
		want   domain.Money
	}{
		{"ExactPeriod", week, 7, 50000},
		{"TwoPeriods", week, 14, 100000},
		{"PartialPeriodRoundsUp", week, 1, 7143},
		{"PeriodPlusDays", week, 10, 50000 + 21429},
		{"MonthTariff", domain.Tariff{ID: 2, Price: 300000, DurationDays: 30}, 30, 300000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RentalCost(tt.tariff, tt.days)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateRentalCost_Breakdown(t *testing.T) {
	b, err := CalculateRentalCost(domain.Tariff{Price: 70000, DurationDays: 7}, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, b.FullPeriods)
	assert.Equal(t, 2, b.ExtraDays)
	assert.Equal(t, domain.Money(70000), b.PeriodsCost)
	assert.Equal(t, domain.Money(20000), b.ExtraCost)
	assert.Equal(t, domain.Money(90000), b.TotalCost)
}

func TestCalculateRentalCost_Invalid(t *testing.T) {
	_, err := RentalCost(domain.Tariff{Price: 100, DurationDays: 7}, 0)
	assert.Error(t, err)
	_, err = RentalCost(domain.Tariff{Price: 100}, 7)
	assert.Error(t, err)
	_, err = RentalCost(domain.Tariff{DurationDays: 7}, 7)
	assert.Error(t, err)
}

func TestPeriodEnd(t *testing.T) {
	start := time.Date(2026, 3, 25, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC), PeriodEnd(start, 7))
}
