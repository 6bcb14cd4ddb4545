package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherSignalsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filterd.conf")
	if err := os.WriteFile(path, []byte("# empty\n"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("# changed\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-w.C:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filterd.conf")
	if err := os.WriteFile(path, []byte("# empty\n"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "other.conf"), []byte("x\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-w.C:
		t.Fatal("notification for unrelated file")
	case <-time.After(200 * time.Millisecond):
	}
}
