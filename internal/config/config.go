// Package config handles loading and validating filterd configuration:
// the daemon settings and the ordered collection of filter
// specifications distributed to the engine.
package config

// Config is the full filtering policy plus daemon settings. The
// declaration order of Filters is significant: it is the order in
// which filter processes are spawned and announced to the engine.
type Config struct {
	Daemon  DaemonConfig  `toml:"daemon"`
	Metrics MetricsConfig `toml:"metrics"`
	Filters []FilterSpec  `toml:"filter"`
}

// DaemonConfig holds daemon-level settings.
type DaemonConfig struct {
	User     string `toml:"user"`
	Socket   string `toml:"socket"`
	Lockfile string `toml:"lockfile"`
	Watch    bool   `toml:"watch"`
}

// MetricsConfig holds the optional metrics listener settings. Password
// is a bcrypt hash; see the hash-password command.
type MetricsConfig struct {
	Listen   string `toml:"listen"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// FilterSpec is one named unit of filtering: either a concrete filter
// program or a chain referencing other filters by name.
type FilterSpec struct {
	Name  string   `toml:"name"`
	Exec  []string `toml:"exec"`
	Chain []string `toml:"chain"`
}

// IsChain reports whether the spec is a chain rather than a concrete
// filter program.
func (f *FilterSpec) IsChain() bool { return len(f.Chain) > 0 }

// Lookup returns the filter spec with the given name, or nil.
func (c *Config) Lookup(name string) *FilterSpec {
	for i := range c.Filters {
		if c.Filters[i].Name == name {
			return &c.Filters[i]
		}
	}
	return nil
}
