// Factory functions for creating kinematics instances from configuration.
package kinematics

import (
	"fmt"
	"strings"
)

// New creates the strategy for a kinematic type name.
func New(kinType string) (Kinematics, error) {
	switch strings.ToLower(strings.TrimSpace(kinType)) {
	case "", "cartesian":
		return NewCartesianKinematics(), nil
	case "corexy":
		return NewCoreXYKinematics(), nil
	case "corexz":
		return NewCoreXZKinematics(), nil
	case "coreyz":
		return NewCoreYZKinematics(), nil
	default:
		return nil, fmt.Errorf("unsupported kinematics type: %s", kinType)
	}
}

// IsSupported returns true if the given kinematic type is supported.
func IsSupported(kinType string) bool {
	_, err := New(kinType)
	return err == nil
}

// SupportedTypes returns a list of supported kinematic types.
func SupportedTypes() []string {
	return []string{"cartesian", "corexy", "corexz", "coreyz"}
}
