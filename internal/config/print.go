package config

import (
	"fmt"
	"io"
	"strings"
)

// Print writes the filter collection in declaration order, one line
// per filter, for check-only mode.
func Print(w io.Writer, cfg *Config) {
	for i := range cfg.Filters {
		f := &cfg.Filters[i]
		if f.IsChain() {
			fmt.Fprintf(w, "chain %s %s\n", f.Name, strings.Join(f.Chain, " "))
		} else {
			fmt.Fprintf(w, "filter %s %s\n", f.Name, strings.Join(f.Exec, " "))
		}
	}
}
