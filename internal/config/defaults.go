package config

// Built-in defaults, applied after decoding.
const (
	DefaultConfFile = "/etc/filterd.conf"
	DefaultSocket   = "/var/run/filterd.sock"
	DefaultLockfile = "/var/run/filterd.lock"
	DefaultUser     = "_filterd"
)

// ApplyDefaults fills unset daemon fields with built-in defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Daemon.User == "" {
		cfg.Daemon.User = DefaultUser
	}
	if cfg.Daemon.Socket == "" {
		cfg.Daemon.Socket = DefaultSocket
	}
	if cfg.Daemon.Lockfile == "" {
		cfg.Daemon.Lockfile = DefaultLockfile
	}
}
