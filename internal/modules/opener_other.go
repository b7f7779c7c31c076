//go:build !((linux || darwin || freebsd) && cgo)

// ABOUTME: Fallback opener for platforms without Go plugin support.
// ABOUTME: Module files are still listed, but every load reports ErrUnsupported.

package modules

import "runtime"

// DefaultPattern matches module file names on this platform.
var DefaultPattern = func() string {
	switch runtime.GOOS {
	case "windows":
		return "*.dll"
	case "darwin":
		return "*.dylib"
	}
	return "*.so"
}()

// DefaultOpener returns the platform opener.
func DefaultOpener() Opener {
	return OpenerFunc(func(path string) (Symbols, error) {
		return nil, ErrUnsupported
	})
}
