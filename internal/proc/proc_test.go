package proc

import (
	"io"
	"os"
	"testing"

	"github.com/filterdteam/filterd/internal/wire"
)

func TestRoleString(t *testing.T) {
	cases := map[Role]string{
		RoleFrontend: "frontend",
		RoleEngine:   "engine",
		RoleFilter:   "filter",
		Role(99):     "unknown",
	}
	for role, want := range cases {
		if got := role.String(); got != want {
			t.Errorf("Role(%d).String() = %q, want %q", role, got, want)
		}
	}
}

func TestPairIsConnected(t *testing.T) {
	uc, peer, err := Pair()
	if err != nil {
		t.Fatal(err)
	}
	defer uc.Close()
	defer peer.Close()

	if _, err := peer.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(uc, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("read %q", buf)
	}
}

func TestPairCarriesWireMessages(t *testing.T) {
	uc, peer, err := Pair()
	if err != nil {
		t.Fatal(err)
	}
	parent := wire.NewConn(uc)
	defer parent.Close()

	child, err := wire.FromFile(peer)
	peer.Close()
	if err != nil {
		t.Fatal(err)
	}
	defer child.Close()

	if err := parent.Send(wire.ReconfConf, 0, 0, -1, nil); err != nil {
		t.Fatal(err)
	}
	m, err := child.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != wire.ReconfConf {
		t.Fatalf("type = %s", m.Type)
	}
}

func TestRoleOptionsArgs(t *testing.T) {
	opts := RoleOptions{Debug: true, Verbose: 2, Socket: "/tmp/ctl.sock", User: "_filterd"}

	got := opts.args(RoleFrontend)
	want := []string{"-F", "-d", "-v", "-v", "-s", "/tmp/ctl.sock", "--user", "_filterd"}
	if len(got) != len(want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("args = %v, want %v", got, want)
		}
	}

	// The engine never sees the control socket path.
	got = opts.args(RoleEngine)
	for _, a := range got {
		if a == "-s" {
			t.Fatalf("engine args contain -s: %v", got)
		}
	}
	if got[0] != "-E" {
		t.Fatalf("engine args = %v", got)
	}
}

func TestMockFilterSpawner(t *testing.T) {
	m := &MockFilterSpawner{}
	h, f, err := m.SpawnFilter("rspam", []string{"/usr/libexec/filter-rspamd"})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if h.Role != RoleFilter || h.Name != "rspam" || h.Pid == 0 {
		t.Fatalf("handle = %+v", h)
	}
	if len(m.Calls) != 1 || m.Calls[0] != "rspam" {
		t.Fatalf("calls = %v", m.Calls)
	}

	m.Err = os.ErrPermission
	if _, _, err := m.SpawnFilter("x", nil); err == nil {
		t.Fatal("expected configured error")
	}
}

func TestExecFilterSpawnerMissingBinary(t *testing.T) {
	s := &ExecFilterSpawner{Logger: testLogger()}
	if _, _, err := s.SpawnFilter("ghost", []string{"/nonexistent/filter"}); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestExecFilterSpawnerEmptyArgv(t *testing.T) {
	s := &ExecFilterSpawner{Logger: testLogger()}
	if _, _, err := s.SpawnFilter("empty", nil); err == nil {
		t.Fatal("expected error for empty argv")
	}
}
