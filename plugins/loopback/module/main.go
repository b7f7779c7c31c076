// ABOUTME: Builds the loopback driver as a loadable module (go build -buildmode=plugin).
// ABOUTME: Registers it under its own key and exports the version and info symbols the loader looks up.

package main

import (
	"github.com/2389/sdrhub/plugins/core"
	"github.com/2389/sdrhub/plugins/loopback"
)

// DriverKey differs from the built-in loopback key. A host that already links
// the loopback package shares its initialized state with the module, so only
// this package's init runs on load.
const DriverKey = "loopback-module"

// ModuleVersion is reported by "sdrhub info".
var ModuleVersion = "1.0.0"

func init() {
	core.Register(DriverKey, loopback.Find, loopback.Make, core.ABIVersion)
}

func ModuleInfo() map[string]string {
	return map[string]string{"drivers": DriverKey, "abi": core.ABIVersion}
}

func main() {}
