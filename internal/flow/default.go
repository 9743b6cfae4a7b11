package flow

import (
	_ "embed"
)

//go:embed default_flow.yaml
var defaultFlow []byte

// Default returns the built-in Spanish flow.
func Default() *Flow {
	f, err := Parse(defaultFlow)
	if err != nil {
		panic("flow: invalid built-in flow: " + err.Error())
	}
	return f
}

// LoadOrDefault loads path, or returns the built-in flow when path is empty.
func LoadOrDefault(path string) (*Flow, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}
