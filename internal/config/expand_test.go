package config

import (
	"testing"
)

func TestExpandMacros(t *testing.T) {
	defines := map[string]string{"libexec": "/usr/local/libexec"}
	got, err := Expand(`exec = ["%(libexec)s/filter-bad"]`, defines)
	if err != nil {
		t.Fatal(err)
	}
	want := `exec = ["/usr/local/libexec/filter-bad"]`
	if got != want {
		t.Fatalf("Expand = %q, want %q", got, want)
	}
}

func TestExpandUndefinedMacro(t *testing.T) {
	if _, err := Expand(`%(nope)s`, nil); err == nil {
		t.Fatal("expected error for undefined macro")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FILTERD_TEST_DIR", "/opt/filters")
	got, err := Expand(`${FILTERD_TEST_DIR}/f`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "/opt/filters/f" {
		t.Fatalf("Expand = %q", got)
	}
}

func TestExpandUndefinedEnv(t *testing.T) {
	if _, err := Expand(`${FILTERD_TEST_UNSET_VAR}`, nil); err == nil {
		t.Fatal("expected error for undefined environment variable")
	}
}

func TestExpandEscapes(t *testing.T) {
	got, err := Expand(`100%% of $$5`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "100% of $5" {
		t.Fatalf("Expand = %q", got)
	}
}

func TestParseDefine(t *testing.T) {
	name, value, err := ParseDefine("libexec=/usr/libexec")
	if err != nil {
		t.Fatal(err)
	}
	if name != "libexec" || value != "/usr/libexec" {
		t.Fatalf("ParseDefine = %q, %q", name, value)
	}

	if _, _, err := ParseDefine("novalue"); err == nil {
		t.Fatal("expected error for malformed define")
	}
	if _, _, err := ParseDefine("=x"); err == nil {
		t.Fatal("expected error for empty name")
	}
}
