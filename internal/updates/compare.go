package updates

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// IsNewer reports whether available is strictly greater than installed
// under standard three-part semantic version precedence. A malformed
// version string yields an error; callers skip that single component.
func IsNewer(available, installed string) (bool, error) {
	av, err := semver.NewVersion(available)
	if err != nil {
		return false, fmt.Errorf("parse available version %q: %w", available, err)
	}
	iv, err := semver.NewVersion(installed)
	if err != nil {
		return false, fmt.Errorf("parse installed version %q: %w", installed, err)
	}
	return av.GreaterThan(iv), nil
}

// ShortName strips everything up to and including the first dot of a
// qualified component name: "adapter.demo" -> "demo".
func ShortName(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return name
}
