// Package profile locates per-profile state. A profile is one identity
// context served by one daemon, kept under <base>/profiles/<name>/.
package profile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// BaseDir returns ~/.netid, or $NETID_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("NETID_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".netid")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

func profilesDir() string { return filepath.Join(BaseDir(), "profiles") }

// Dir returns the profile-specific directory.
func Dir(name string) string { return filepath.Join(profilesDir(), name) }

// SocketPath is the Control API socket.
func SocketPath(name string) string { return filepath.Join(Dir(name), "daemon.sock") }

// PlatformDBPath is the whatsmeow device store.
func PlatformDBPath(name string) string { return filepath.Join(Dir(name), "wa-session.db") }

// AppDBPath is the identity directory database.
func AppDBPath(name string) string { return filepath.Join(Dir(name), "netid.db") }

// LogDir returns the log directory for a profile.
func LogDir(name string) string { return filepath.Join(Dir(name), "logs") }

// LogPath returns the daemon log file.
func LogPath(name string) string { return filepath.Join(LogDir(name), "netidd.log") }

// EnsureDir creates the profile directory tree, owner-only.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// List returns the names of existing profile directories, sorted. Entries
// that are not valid profile names are skipped.
func List() ([]string, error) {
	entries, err := os.ReadDir(profilesDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
