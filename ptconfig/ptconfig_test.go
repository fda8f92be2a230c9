package ptconfig

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"testing"

	pt "git.torproject.org/pluggable-transports/goptlib.git"
)

func setManagedEnv(t *testing.T, transports string) {
	t.Helper()
	pt.Stdout = io.Discard
	t.Setenv("TOR_PT_MANAGED_TRANSPORT_VER", "1")
	t.Setenv("TOR_PT_CLIENT_TRANSPORTS", transports)
}

func TestLoadReturnsRequestedMethods(t *testing.T) {
	setManagedEnv(t, "obfs2,obfs3,scramblesuit")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := append([]string{}, cfg.Methods()...)
	sort.Strings(got)
	want := []string{"obfs2", "obfs3", "scramblesuit"}
	sort.Strings(want)
	if len(got) != len(want) {
		t.Fatalf("Methods() = %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("Methods() = %v, want %v", got, want)
		}
	}
	if cfg.ProxyUnsupported() {
		t.Fatal("ProxyUnsupported true with no TOR_PT_PROXY set")
	}
}

func TestStateDirCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	t.Setenv("TOR_PT_STATE_LOCATION", dir)

	got, err := StateDir()
	if err != nil {
		t.Fatalf("StateDir: %v", err)
	}
	if got != dir {
		t.Fatalf("StateDir() = %q, want %q", got, dir)
	}
	if stat, err := os.Stat(dir); err != nil || !stat.IsDir() {
		t.Fatalf("state directory not created: %v", err)
	}
}

func TestAnnounceMethodDoesNotPanic(t *testing.T) {
	pt.Stdout = io.Discard
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1080}
	AnnounceMethod("obfs3", addr)
	AnnounceMethodError("obfs4", "unsupported")
	Done()
}
