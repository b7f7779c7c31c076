// ABOUTME: Abstraction over the platform's dynamic module mechanism.
// ABOUTME: Lets the loader be exercised in tests without building real shared objects.

package modules

import "errors"

// ErrUnsupported is returned by the opener on platforms without dynamic module support.
var ErrUnsupported = errors.New("dynamic modules unsupported on this platform")

// Symbols resolves exported names in an opened module.
type Symbols interface {
	Lookup(name string) (any, error)
}

// Opener opens a module file, running its init functions as a side effect.
type Opener interface {
	Open(path string) (Symbols, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(path string) (Symbols, error)

func (f OpenerFunc) Open(path string) (Symbols, error) {
	return f(path)
}

// Exported symbol names a module may provide.
const (
	SymbolVersion = "ModuleVersion"
	SymbolInfo    = "ModuleInfo"
	SymbolUnload  = "Unload"
)
