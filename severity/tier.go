package severity

import (
	"fmt"
	"math"
	"strings"
)

// Tier is a coarse severity bucket. Tiers are ordered, VeryLow lowest.
type Tier int

const (
	VeryLow Tier = iota
	LowLevel
	MidLevel
	Critical
)

// Lower bounds, inclusive.
const (
	CriticalThreshold = 75.0
	MidThreshold      = 50.0
	LowThreshold      = 25.0
)

var tierNames = [...]string{
	VeryLow:  "Very Low",
	LowLevel: "Low-Level",
	MidLevel: "Mid-Level",
	Critical: "Critical",
}

// Classify buckets a predicted severity score. NaN and negative scores are VeryLow.
func Classify(score float64) Tier {
	switch {
	case math.IsNaN(score):
		return VeryLow
	case score >= CriticalThreshold:
		return Critical
	case score >= MidThreshold:
		return MidLevel
	case score >= LowThreshold:
		return LowLevel
	default:
		return VeryLow
	}
}

func (t Tier) String() string {
	if t < VeryLow || t > Critical {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// ParseTier accepts the display name ("Mid-Level") case-insensitively, and
// the compact forms "very_low", "low", "mid", "critical".
func ParseTier(s string) (Tier, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for t, name := range tierNames {
		if norm == strings.ToLower(name) {
			return Tier(t), nil
		}
	}
	switch norm {
	case "very_low", "verylow":
		return VeryLow, nil
	case "low", "low_level":
		return LowLevel, nil
	case "mid", "mid_level":
		return MidLevel, nil
	}
	return VeryLow, fmt.Errorf("unknown severity tier %q", s)
}

// MarshalText renders the display name.
func (t Tier) MarshalText() ([]byte, error) {
	if t < VeryLow || t > Critical {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
