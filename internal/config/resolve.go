package config

import (
	"fmt"
)

// Resolve expands the named filter to its ordered sequence of concrete
// leaf filters. A concrete filter resolves to itself; a chain resolves
// depth-first, left to right, through further chains. Unknown
// references and cyclic chains are errors.
func Resolve(cfg *Config, name string) ([]string, error) {
	return resolve(cfg, name, make(map[string]bool))
}

func resolve(cfg *Config, name string, visited map[string]bool) ([]string, error) {
	f := cfg.Lookup(name)
	if f == nil {
		return nil, fmt.Errorf("reference to undefined filter %q", name)
	}
	if !f.IsChain() {
		return []string{f.Name}, nil
	}
	if visited[name] {
		return nil, fmt.Errorf("chain cycle through %q", name)
	}
	visited[name] = true
	defer delete(visited, name)

	var leaves []string
	for _, ref := range f.Chain {
		sub, err := resolve(cfg, ref, visited)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, sub...)
	}
	return leaves, nil
}
