package curriculum

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// NormalizeVersion returns v in canonical semver form with a leading "v".
// "1.2" becomes "v1.2.0".
func NormalizeVersion(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("version is empty")
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("invalid version %q", v)
	}
	return semver.Canonical(v), nil
}

// CompareVersions orders two normalized versions like semver.Compare.
func CompareVersions(a, b string) int {
	return semver.Compare(a, b)
}
