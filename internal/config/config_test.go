package config

import (
	"strings"
	"testing"
)

const sampleConfig = `
[daemon]
user = "_filterd"
socket = "/tmp/filterd-test.sock"

[[filter]]
name = "reject-empty"
exec = ["/usr/libexec/filter-bad"]

[[filter]]
name = "rspam"
exec = ["/usr/libexec/filter-rspamd", "-t", "5"]

[[filter]]
name = "all"
chain = ["reject-empty", "rspam"]
`

func mustLoad(t *testing.T, text string) *Config {
	t.Helper()
	cfg, _, err := LoadBytes([]byte(text), "test.conf", nil)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestLoadBytes(t *testing.T) {
	cfg := mustLoad(t, sampleConfig)

	if cfg.Daemon.Socket != "/tmp/filterd-test.sock" {
		t.Fatalf("socket = %q", cfg.Daemon.Socket)
	}
	if len(cfg.Filters) != 3 {
		t.Fatalf("filters = %d, want 3", len(cfg.Filters))
	}

	// Declaration order must survive decoding.
	names := []string{"reject-empty", "rspam", "all"}
	for i, want := range names {
		if cfg.Filters[i].Name != want {
			t.Fatalf("filter %d = %q, want %q", i, cfg.Filters[i].Name, want)
		}
	}

	if cfg.Filters[0].IsChain() {
		t.Fatal("reject-empty should be concrete")
	}
	if !cfg.Filters[2].IsChain() {
		t.Fatal("all should be a chain")
	}
	if got := cfg.Filters[1].Exec; len(got) != 3 || got[0] != "/usr/libexec/filter-rspamd" {
		t.Fatalf("exec = %v", got)
	}
}

func TestLoadBytesDefaults(t *testing.T) {
	cfg := mustLoad(t, `
[[filter]]
name = "f"
exec = ["/bin/cat"]
`)
	if cfg.Daemon.User != DefaultUser {
		t.Fatalf("user = %q", cfg.Daemon.User)
	}
	if cfg.Daemon.Socket != DefaultSocket {
		t.Fatalf("socket = %q", cfg.Daemon.Socket)
	}
	if cfg.Daemon.Lockfile != DefaultLockfile {
		t.Fatalf("lockfile = %q", cfg.Daemon.Lockfile)
	}
}

func TestLoadBytesUnknownKeyWarning(t *testing.T) {
	_, warnings, err := LoadBytes([]byte(`
[daemon]
bogus = true

[[filter]]
name = "f"
exec = ["/bin/cat"]
`), "test.conf", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "bogus") {
		t.Fatalf("warnings = %v", warnings)
	}
}

func TestLoadBytesParseError(t *testing.T) {
	if _, _, err := LoadBytes([]byte("[[filter"), "bad.conf", nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLookup(t *testing.T) {
	cfg := mustLoad(t, sampleConfig)
	if f := cfg.Lookup("rspam"); f == nil || f.Name != "rspam" {
		t.Fatalf("Lookup(rspam) = %v", f)
	}
	if f := cfg.Lookup("nope"); f != nil {
		t.Fatalf("Lookup(nope) = %v", f)
	}
}

func TestPrint(t *testing.T) {
	cfg := mustLoad(t, sampleConfig)
	var sb strings.Builder
	Print(&sb, cfg)

	want := "filter reject-empty /usr/libexec/filter-bad\n" +
		"filter rspam /usr/libexec/filter-rspamd -t 5\n" +
		"chain all reject-empty rspam\n"
	if sb.String() != want {
		t.Fatalf("Print:\n%s\nwant:\n%s", sb.String(), want)
	}
}
