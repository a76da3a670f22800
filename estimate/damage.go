package estimate

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency of every DamageCost result.
const Currency = "INR"

// OtherType is the fallback accident category for cost purposes.
const OtherType = "Other"

var baseCosts = map[string]decimal.Decimal{
	"bombing":    decimal.NewFromInt(100_000_000),
	"fire":       decimal.NewFromInt(70_000_000),
	"derailment": decimal.NewFromInt(50_000_000),
	"collision":  decimal.NewFromInt(30_000_000),
	"other":      decimal.NewFromInt(20_000_000),
}

// BaseCost returns the structural base cost for an accident type. Matching
// ignores case and surrounding space; unknown types cost as OtherType.
func BaseCost(accidentType string) decimal.Decimal {
	if c, ok := baseCosts[strings.ToLower(strings.TrimSpace(accidentType))]; ok {
		return c
	}
	return baseCosts["other"]
}

// SeverityMultiplier scales the base cost by the casualty band.
func SeverityMultiplier(casualties int) decimal.Decimal {
	switch {
	case casualties >= 100:
		return decimal.NewFromInt(2)
	case casualties >= 50:
		return decimal.RequireFromString("1.5")
	case casualties >= 25:
		return decimal.RequireFromString("1.2")
	default:
		return decimal.NewFromInt(1)
	}
}

// DamageCost estimates structural damage in INR. The band is chosen from the
// raw deaths+injuries count, not from the model score.
func DamageCost(accidentType string, deaths, injuries int) decimal.Decimal {
	return BaseCost(accidentType).Mul(SeverityMultiplier(deaths + injuries))
}
