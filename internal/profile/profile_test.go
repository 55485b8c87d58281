package profile

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	t.Setenv("NETID_HOME", "")
	home, _ := os.UserHomeDir()
	if got, want := Dir("main"), filepath.Join(home, ".netid", "profiles", "main"); got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestPathsUnderProfileDir(t *testing.T) {
	t.Setenv("NETID_HOME", "/base")
	for _, p := range []string{SocketPath("arena"), AppDBPath("arena"), PlatformDBPath("arena"), LogPath("arena")} {
		if !strings.HasPrefix(p, "/base/profiles/arena/") {
			t.Errorf("%q is outside the profile dir", p)
		}
	}
	if got := ConfigPath(); got != "/base/config.toml" {
		t.Errorf("ConfigPath() = %q", got)
	}
}

func TestEnsureDirAndList(t *testing.T) {
	t.Setenv("NETID_HOME", t.TempDir())

	names, err := List()
	if err != nil || len(names) != 0 {
		t.Fatalf("List() on empty base = %v, %v", names, err)
	}

	for _, n := range []string{"work", "main"} {
		if err := EnsureDir(n); err != nil {
			t.Fatalf("EnsureDir(%s) error = %v", n, err)
		}
	}
	info, err := os.Stat(LogDir("main"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("log dir permission = %o, want 0700", perm)
	}

	// Stray entries are not profiles.
	_ = os.MkdirAll(Dir("Not A Profile"), 0700)
	_ = os.WriteFile(Dir("file"), nil, 0600)

	names, err = List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if want := []string{"main", "work"}; !reflect.DeepEqual(names, want) {
		t.Errorf("List() = %v, want %v", names, want)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"main", false},
		{"work-2", false},
		{"a_b", false},
		{strings.Repeat("a", 64), false},
		{"", true},
		{"Main", true},
		{"has space", true},
		{"../escape", true},
		{strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		if err := ValidateName(tt.input); (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}

func TestResolve(t *testing.T) {
	base := t.TempDir()
	t.Setenv("NETID_HOME", base)

	if got := Resolve("work"); got != "work" {
		t.Errorf("Resolve(work) = %q, want work", got)
	}
	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultName)
	}

	if err := os.WriteFile(filepath.Join(base, "config.toml"), []byte("default_profile = \"arena\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "arena" {
		t.Errorf("Resolve() with config = %q, want arena", got)
	}
}
