// Package version carries the server API version and the rule clients use
// to decide whether they can talk to a server.
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is the API version reported by /health. Overridden at build time
// with -ldflags "-X github.com/lgulliver/strongbox/pkg/version.Version=...".
var Version = "1.2.0"

// Service is the service name reported by /health
const Service = "strongbox"

// ClientConstraint is the range of server versions this client supports
const ClientConstraint = ">= 1.0.0, < 2.0.0"

// Compatible reports whether serverVersion satisfies constraint. A "v"
// prefix is accepted.
func Compatible(serverVersion, constraint string) (bool, error) {
	v, err := semver.NewVersion(serverVersion)
	if err != nil {
		return false, fmt.Errorf("invalid server version %q: %w", serverVersion, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	return c.Check(v), nil
}

// Compare returns -1, 0 or 1 comparing two versions. Unparsable versions
// sort before valid ones.
func Compare(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}
