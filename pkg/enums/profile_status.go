package enums

import "fmt"

// ProfileStatus is the simplified subscription state mirrored onto the user
// profile for fast entitlement reads.
type ProfileStatus string

const (
	ProfileStatusActive   ProfileStatus = "active"
	ProfileStatusInactive ProfileStatus = "inactive"
	ProfileStatusCanceled ProfileStatus = "canceled"
)

var validProfileStatuses = []ProfileStatus{
	ProfileStatusActive,
	ProfileStatusInactive,
	ProfileStatusCanceled,
}

// String implements fmt.Stringer.
func (p ProfileStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known ProfileStatus.
func (p ProfileStatus) IsValid() bool {
	for _, candidate := range validProfileStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProfileStatus converts raw input into a ProfileStatus.
func ParseProfileStatus(value string) (ProfileStatus, error) {
	for _, candidate := range validProfileStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid profile status %q", value)
}
