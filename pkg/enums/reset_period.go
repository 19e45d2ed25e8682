package enums

import "fmt"

// ResetPeriod determines how often a feature usage counter rolls over.
type ResetPeriod string

const (
	ResetPeriodDaily   ResetPeriod = "daily"
	ResetPeriodWeekly  ResetPeriod = "weekly"
	ResetPeriodMonthly ResetPeriod = "monthly"
	ResetPeriodNever   ResetPeriod = "never"
)

var validResetPeriods = []ResetPeriod{
	ResetPeriodDaily,
	ResetPeriodWeekly,
	ResetPeriodMonthly,
	ResetPeriodNever,
}

// String implements fmt.Stringer.
func (r ResetPeriod) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ResetPeriod.
func (r ResetPeriod) IsValid() bool {
	for _, candidate := range validResetPeriods {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseResetPeriod converts raw input into a ResetPeriod.
func ParseResetPeriod(value string) (ResetPeriod, error) {
	for _, candidate := range validResetPeriods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reset period %q", value)
}
