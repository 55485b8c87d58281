package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/netid/internal/lock"
	"github.com/matheus3301/netid/internal/profile"
)

type profileEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Since   string `json:"since,omitempty"`
	Default bool   `json:"default,omitempty"`
}

func profilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List profiles and whether a daemon holds each one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := listProfiles(profileName)
			if err != nil {
				return err
			}
			if jsonOut {
				outputJSON(entries)
				return nil
			}
			if len(entries) == 0 {
				fmt.Println("No profiles found.")
				return nil
			}
			for _, e := range entries {
				mark := " "
				if e.Default {
					mark = "*"
				}
				state := "stopped"
				if e.Running {
					state = fmt.Sprintf("running (pid %d)", e.PID)
				}
				fmt.Printf("%s %-16s %-22s %s\n", mark, e.Name, state, e.Path)
			}
			return nil
		},
	}
}

// listProfiles reads lock files only; it never dials a daemon.
func listProfiles(active string) ([]profileEntry, error) {
	names, err := profile.List()
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	entries := make([]profileEntry, 0, len(names))
	for _, name := range names {
		e := profileEntry{Name: name, Path: profile.Dir(name), Default: name == active}
		if h, ok := lock.Held(e.Path); ok {
			e.Running = true
			e.PID = h.PID
			e.Since = h.Since.Format(time.RFC3339)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
