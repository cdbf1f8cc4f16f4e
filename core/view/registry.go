package view

import (
	"fmt"
	"sync"
)

// The prefix registry guarantees at construction time that no two record
// kinds share a discriminant anywhere in the process. Registration happens in
// package-level var blocks of the domain packages, so a collision panics the
// moment the binary starts rather than corrupting state at runtime.
var registry struct {
	sync.Mutex
	names map[Prefix]string
}

// MustRegisterPrefix claims a prefix for a record kind and returns it, which
// lets callers register in a var initialiser. It panics if the prefix is
// already taken.
func MustRegisterPrefix(p Prefix, name string) Prefix {
	registry.Lock()
	defer registry.Unlock()
	if registry.names == nil {
		registry.names = make(map[Prefix]string)
	}
	if existing, ok := registry.names[p]; ok {
		panic(fmt.Sprintf("view: prefix 0x%02X already registered as %q (refused %q)", byte(p), existing, name))
	}
	registry.names[p] = name
	return p
}

// Name returns the registered record-kind name of a prefix.
func Name(p Prefix) string {
	registry.Lock()
	defer registry.Unlock()
	if name, ok := registry.names[p]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", byte(p))
}
