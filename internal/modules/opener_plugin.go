//go:build (linux || darwin || freebsd) && cgo

// ABOUTME: Opener backed by the Go plugin package for platforms that support it.
// ABOUTME: Modules are shared objects built with -buildmode=plugin.

package modules

import (
	"fmt"
	"plugin"
)

// DefaultPattern matches module file names on this platform.
const DefaultPattern = "*.so"

type pluginOpener struct{}

type pluginSymbols struct {
	p *plugin.Plugin
}

func (s pluginSymbols) Lookup(name string) (any, error) {
	sym, err := s.p.Lookup(name)
	if err != nil {
		return nil, err
	}
	return sym, nil
}

func (pluginOpener) Open(path string) (Symbols, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("plugin.Open() failed: %w", err)
	}
	return pluginSymbols{p: p}, nil
}

// DefaultOpener returns the platform opener.
func DefaultOpener() Opener {
	return pluginOpener{}
}
