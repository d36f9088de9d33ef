package utils

import (
	"fmt"
	"time"

	"bikefleet-backend/internal/domain"
)

// RentalCostBreakdown shows how a rental price was built from the tariff
type RentalCostBreakdown struct {
	Days         int
	FullPeriods  int
	ExtraDays    int
	PeriodsCost  domain.Money
	ExtraCost    domain.Money
	TotalCost    domain.Money
	DurationDays int
}

// CalculateRentalCost prices days of riding on a tariff. Whole tariff periods cost
// the tariff price; leftover days are charged pro rata, rounded up to the kopeck.
func CalculateRentalCost(tariff domain.Tariff, days int) (RentalCostBreakdown, error) {
	if days <= 0 {
		return RentalCostBreakdown{}, fmt.Errorf("days must be positive, got %d", days)
	}
	if tariff.DurationDays <= 0 {
		return RentalCostBreakdown{}, fmt.Errorf("tariff %d has no duration", tariff.ID)
	}
	if tariff.Price <= 0 {
		return RentalCostBreakdown{}, fmt.Errorf("tariff %d has no price", tariff.ID)
	}

	b := RentalCostBreakdown{
		Days:         days,
		DurationDays: tariff.DurationDays,
		FullPeriods:  days / tariff.DurationDays,
		ExtraDays:    days % tariff.DurationDays,
	}
	b.PeriodsCost = tariff.Price * domain.Money(b.FullPeriods)

	if b.ExtraDays > 0 {
		numerator := int64(tariff.Price) * int64(b.ExtraDays)
		dur := int64(tariff.DurationDays)
		b.ExtraCost = domain.Money((numerator + dur - 1) / dur)
	}
	b.TotalCost = b.PeriodsCost + b.ExtraCost
	return b, nil
}

// RentalCost returns only the total of CalculateRentalCost
func RentalCost(tariff domain.Tariff, days int) (domain.Money, error) {
	b, err := CalculateRentalCost(tariff, days)
	if err != nil {
		return 0, err
	}
	return b.TotalCost, nil
}

// PeriodEnd returns the end of a rental period of days starting at start.
// Calendar days are added so a period keeps its wall-clock time across DST changes.
func PeriodEnd(start time.Time, days int) time.Time {
	return start.AddDate(0, 0, days)
}
