// ABOUTME: Host library and driver ABI version constants.
// ABOUTME: Decides whether a driver built against one ABI string can run in this host.

package core

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// ABIVersion is what drivers pass to Register when built against this tree.
	ABIVersion = "0.8.0"
	// APIVersion tracks the public Go API of the core and convert packages.
	APIVersion = "0.8.1"
	// LibVersion is the release of the runtime itself.
	LibVersion = "0.8.1"
)

// ABICompatible reports whether a driver stamped with abi may be used by this host.
// Versions are compatible when their major and minor numbers match. Strings that
// do not parse as semantic versions must match the host string exactly.
func ABICompatible(abi string) bool {
	return abiCompatible(ABIVersion, abi)
}

func abiCompatible(host, abi string) bool {
	want, err := semver.NewVersion(host)
	if err != nil {
		return host == abi
	}
	got, err := semver.NewVersion(abi)
	if err != nil {
		return host == abi
	}
	return want.Major() == got.Major() && want.Minor() == got.Minor()
}

// ABISeries returns the "major.minor" part of the host ABI, used in module directory names.
func ABISeries() string {
	v := semver.MustParse(ABIVersion)
	return fmt.Sprintf("%d.%d", v.Major(), v.Minor())
}
