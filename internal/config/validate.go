package config

import (
	"fmt"
)

// Validate checks the config for semantic errors and returns all of
// them. Graph errors (duplicate names, unresolved chain references,
// cyclic chains) are caught here so that config distribution never
// encounters them.
func Validate(cfg *Config) []error {
	var errs []error

	seen := make(map[string]bool, len(cfg.Filters))
	for i := range cfg.Filters {
		f := &cfg.Filters[i]

		if f.Name == "" {
			errs = append(errs, fmt.Errorf("filter %d: name is required", i))
			continue
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Errorf("filter %s: duplicate name", f.Name))
			continue
		}
		seen[f.Name] = true

		switch {
		case len(f.Exec) == 0 && len(f.Chain) == 0:
			errs = append(errs, fmt.Errorf("filter %s: either exec or chain is required", f.Name))
		case len(f.Exec) > 0 && len(f.Chain) > 0:
			errs = append(errs, fmt.Errorf("filter %s: exec and chain are mutually exclusive", f.Name))
		}
	}

	// Chain references are only checked once names are known unique.
	if len(errs) > 0 {
		return errs
	}

	for i := range cfg.Filters {
		f := &cfg.Filters[i]
		if !f.IsChain() {
			continue
		}
		if _, err := Resolve(cfg, f.Name); err != nil {
			errs = append(errs, fmt.Errorf("chain %s: %w", f.Name, err))
		}
	}

	return errs
}
