package graphapi

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// MinBackendVersion is the oldest backend API this client is known to work with.
const MinBackendVersion = ">= 1.0.0"

// CheckVersion reports whether the backend version in h satisfies constraint.
// Backends that do not report a version are accepted.
func CheckVersion(h Health, constraint string) (bool, error) {
	if h.Version == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	v, err := semver.NewVersion(h.Version)
	if err != nil {
		return false, fmt.Errorf("backend reported an invalid version %q: %w", h.Version, err)
	}
	return c.Check(v), nil
}
