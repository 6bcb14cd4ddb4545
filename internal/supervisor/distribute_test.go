package supervisor

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/filterdteam/filterd/internal/config"
	"github.com/filterdteam/filterd/internal/proc"
	"github.com/filterdteam/filterd/internal/wire"
)

// sentMsg records one Send call on a fake channel.
type sentMsg struct {
	Type   wire.Type
	CorrID uint32
	Pid    uint32
	HasFD  bool
	Text   string
}

// fakeSender records the message sequence and can fail at the Nth send
// (1-based) to simulate a dying engine channel.
type fakeSender struct {
	msgs   []sentMsg
	failAt int
}

func (f *fakeSender) Send(t wire.Type, corrID, pid uint32, fd int, data []byte) error {
	if f.failAt > 0 && len(f.msgs)+1 >= f.failAt {
		return errors.New("broken pipe")
	}
	text := ""
	if n := len(data); n > 0 && data[n-1] == 0 {
		text = string(data[:n-1])
	}
	f.msgs = append(f.msgs, sentMsg{t, corrID, pid, fd >= 0, text})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSup(t *testing.T, cfg *config.Config) (*Supervisor, *fakeSender, *fakeSender, *proc.MockFilterSpawner) {
	t.Helper()
	config.ApplyDefaults(cfg)
	s := New(Options{
		Config: cfg,
		Logger: testLogger(),
		Level:  new(slog.LevelVar),
	})
	eng := &fakeSender{}
	fr := &fakeSender{}
	sp := &proc.MockFilterSpawner{}
	s.engineSender = eng
	s.frontendSender = fr
	s.spawner = sp
	return s, eng, fr, sp
}

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "filterd.conf")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDistributeEndToEnd(t *testing.T) {
	cfg := &config.Config{Filters: []config.FilterSpec{
		{Name: "reject-empty", Exec: []string{"/usr/libexec/fbad"}},
		{Name: "all", Chain: []string{"reject-empty"}},
	}}
	s, eng, _, sp := testSup(t, cfg)

	if err := s.distribute(cfg); err != nil {
		t.Fatal(err)
	}

	want := []struct {
		typ  wire.Type
		text string
	}{
		{wire.ReconfConf, ""},
		{wire.ReconfFilterProc, "reject-empty"},
		{wire.ReconfFilter, "reject-empty"},
		{wire.ReconfFilter, "all"},
		{wire.ReconfFilterNode, "reject-empty"},
		{wire.ReconfEnd, ""},
	}
	if len(eng.msgs) != len(want) {
		t.Fatalf("sent %d messages, want %d: %+v", len(eng.msgs), len(want), eng.msgs)
	}
	for i, w := range want {
		got := eng.msgs[i]
		if got.Type != w.typ || got.Text != w.text {
			t.Fatalf("message %d = %s %q, want %s %q", i, got.Type, got.Text, w.typ, w.text)
		}
	}

	attach := eng.msgs[1]
	if !attach.HasFD {
		t.Fatal("attach message has no descriptor")
	}
	if attach.Pid == 0 {
		t.Fatal("attach message has no pid")
	}
	if len(sp.Calls) != 1 || sp.Calls[0] != "reject-empty" {
		t.Fatalf("spawned %v", sp.Calls)
	}
	if _, ok := s.filters["reject-empty"]; !ok {
		t.Fatal("filter handle not recorded")
	}
}

func TestDistributeBracketAlwaysPresent(t *testing.T) {
	cfg := &config.Config{}
	s, eng, _, _ := testSup(t, cfg)

	if err := s.distribute(cfg); err != nil {
		t.Fatal(err)
	}
	if len(eng.msgs) != 2 {
		t.Fatalf("sent %d messages: %+v", len(eng.msgs), eng.msgs)
	}
	if eng.msgs[0].Type != wire.ReconfConf || eng.msgs[1].Type != wire.ReconfEnd {
		t.Fatalf("bracket = %s ... %s", eng.msgs[0].Type, eng.msgs[1].Type)
	}
}

func TestDistributeSpawnsInDeclarationOrder(t *testing.T) {
	cfg := &config.Config{Filters: []config.FilterSpec{
		{Name: "c", Chain: []string{"b", "a"}},
		{Name: "b", Exec: []string{"/bin/b"}},
		{Name: "a", Exec: []string{"/bin/a"}},
	}}
	s, _, _, sp := testSup(t, cfg)

	if err := s.distribute(cfg); err != nil {
		t.Fatal(err)
	}
	if len(sp.Calls) != 2 || sp.Calls[0] != "b" || sp.Calls[1] != "a" {
		t.Fatalf("spawn order = %v", sp.Calls)
	}
}

func TestDistributeDepthFirstChains(t *testing.T) {
	// A = [B, C], C = [D, E]: resolving A yields leaves B, D, E.
	cfg := &config.Config{Filters: []config.FilterSpec{
		{Name: "a", Chain: []string{"b", "c"}},
		{Name: "b", Exec: []string{"/bin/b"}},
		{Name: "c", Chain: []string{"d", "e"}},
		{Name: "d", Exec: []string{"/bin/d"}},
		{Name: "e", Exec: []string{"/bin/e"}},
	}}
	s, eng, _, _ := testSup(t, cfg)

	if err := s.distribute(cfg); err != nil {
		t.Fatal(err)
	}

	// Collect the node expansion that follows the declaration of "a".
	var nodes []string
	collecting := false
	for _, m := range eng.msgs {
		switch {
		case m.Type == wire.ReconfFilter && m.Text == "a":
			collecting = true
		case m.Type == wire.ReconfFilterNode && collecting:
			nodes = append(nodes, m.Text)
		case m.Type == wire.ReconfFilter && collecting:
			collecting = false
		}
	}
	want := []string{"b", "d", "e"}
	if len(nodes) != len(want) {
		t.Fatalf("nodes = %v, want %v", nodes, want)
	}
	for i := range want {
		if nodes[i] != want[i] {
			t.Fatalf("nodes = %v, want %v", nodes, want)
		}
	}
}

func TestDistributeFailureKeepsSpawnedHandles(t *testing.T) {
	cfg := &config.Config{Filters: []config.FilterSpec{
		{Name: "f", Exec: []string{"/bin/f"}},
	}}
	s, eng, _, _ := testSup(t, cfg)
	eng.failAt = 2 // fail on the attach message, after the spawn

	if err := s.distribute(cfg); err == nil {
		t.Fatal("expected distribution failure")
	}
	// The spawned filter stays tracked for the normal reap path.
	if _, ok := s.filters["f"]; !ok {
		t.Fatal("spawned filter handle discarded")
	}
}

func TestReloadParseFailureKeepsActiveConfig(t *testing.T) {
	active := &config.Config{Filters: []config.FilterSpec{
		{Name: "keep", Exec: []string{"/bin/keep"}},
	}}
	s, eng, _, _ := testSup(t, active)
	s.configPath = writeConfig(t, "[[filter\nbroken")

	if err := s.reload(); err == nil {
		t.Fatal("expected reload failure")
	}
	if s.cfg != active {
		t.Fatal("active config replaced after parse failure")
	}
	if len(eng.msgs) != 0 {
		t.Fatalf("messages sent despite parse failure: %+v", eng.msgs)
	}
}

func TestReloadValidationFailureBeforeAnySpawn(t *testing.T) {
	active := &config.Config{}
	s, eng, _, sp := testSup(t, active)
	s.configPath = writeConfig(t, `
[[filter]]
name = "x"
exec = ["/bin/one"]

[[filter]]
name = "x"
exec = ["/bin/two"]
`)

	if err := s.reload(); err == nil {
		t.Fatal("expected duplicate-name failure")
	}
	if s.cfg != active {
		t.Fatal("active config replaced after validation failure")
	}
	if len(sp.Calls) != 0 {
		t.Fatalf("filters spawned despite invalid config: %v", sp.Calls)
	}
	if len(eng.msgs) != 0 {
		t.Fatalf("messages sent despite invalid config: %+v", eng.msgs)
	}
}

func TestReloadDistributionFailureKeepsActiveConfig(t *testing.T) {
	active := &config.Config{Filters: []config.FilterSpec{
		{Name: "old", Exec: []string{"/bin/old"}},
	}}
	s, eng, _, _ := testSup(t, active)
	s.configPath = writeConfig(t, `
[[filter]]
name = "new"
exec = ["/bin/new"]
`)
	eng.failAt = 1

	if err := s.reload(); err == nil {
		t.Fatal("expected reload failure")
	}
	if s.cfg != active {
		t.Fatal("active config replaced after distribution failure")
	}
}

func TestFailedReloadKeepsEngineEventStream(t *testing.T) {
	active := &config.Config{}
	s, eng, _, _ := testSup(t, active)
	s.configPath = writeConfig(t, `
[[filter]]
name = "new"
exec = ["/bin/new"]
`)

	uc, peer, err := proc.Pair()
	if err != nil {
		t.Fatal(err)
	}
	defer peer.Close()
	conn := wire.NewConn(uc)
	s.engine = &proc.Handle{Role: proc.RoleEngine, Name: "engine", Pid: 99, Conn: conn}
	conn.Start()

	// The run loop holds on to this stream across reloads.
	events := conn.Events()

	eng.failAt = 1
	if err := s.reload(); err == nil {
		t.Fatal("expected reload failure")
	}

	// The failed reload closed the engine handle; the stream must
	// still deliver the terminal event that drives shutdown.
	select {
	case ev := <-events:
		if ev.Err == nil {
			t.Fatalf("event = %+v, want terminal error", ev)
		}
		if s.handleEngine(ev) {
			t.Fatal("terminal event did not request shutdown")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal event after engine handle closed")
	}
}

func TestReloadSuccessInstallsNewConfig(t *testing.T) {
	active := &config.Config{Filters: []config.FilterSpec{
		{Name: "old", Exec: []string{"/bin/old"}},
	}}
	s, eng, _, _ := testSup(t, active)
	s.configPath = writeConfig(t, `
[[filter]]
name = "new"
exec = ["/bin/new"]
`)

	if err := s.reload(); err != nil {
		t.Fatal(err)
	}
	if s.cfg == active {
		t.Fatal("active config not replaced")
	}
	if s.cfg.Lookup("new") == nil || s.cfg.Lookup("old") != nil {
		t.Fatalf("installed filters = %+v", s.cfg.Filters)
	}
	last := eng.msgs[len(eng.msgs)-1]
	if last.Type != wire.ReconfEnd {
		t.Fatalf("final message = %s", last.Type)
	}
}
