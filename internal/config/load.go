package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML config file, expands macros and environment
// references, applies defaults, validates, and returns the config
// along with any warnings (e.g. unknown fields). defines holds -D
// command-line macros available for %(name)s expansion.
func Load(path string, defines map[string]string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read config: %s: %w", path, err)
	}
	return LoadBytes(data, path, defines)
}

// LoadBytes parses TOML from raw bytes. The path argument is used only
// for error messages.
func LoadBytes(data []byte, path string, defines map[string]string) (*Config, []string, error) {
	expanded, err := Expand(string(data), defines)
	if err != nil {
		return nil, nil, fmt.Errorf("config expansion error in %s: %w", path, err)
	}

	var cfg Config
	md, err := toml.Decode(expanded, &cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("config parse error in %s: %w", path, err)
	}

	var warnings []string
	for _, key := range md.Undecoded() {
		warnings = append(warnings, fmt.Sprintf("unknown config key: %s", strings.Join(key, ".")))
	}

	ApplyDefaults(&cfg)

	if errs := Validate(&cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, warnings, fmt.Errorf("config validation failed in %s:\n  %s",
			path, strings.Join(msgs, "\n  "))
	}

	return &cfg, warnings, nil
}
