// Package commands implements the netidctl command tree.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/netid/internal/profile"
	"github.com/matheus3301/netid/internal/tui/client"
)

var (
	profileName string
	jsonOut     bool
	localUser   int
	timeout     time.Duration
)

// Execute runs the root command.
func Execute() error {
	return newRoot().Execute()
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "netidctl",
		Short:         "Control a running netid daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			profileName = profile.Resolve(profileName)
			return profile.ValidateName(profileName)
		},
	}

	root.PersistentFlags().StringVar(&profileName, "profile", "", "profile name (overrides config default)")
	root.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
	root.PersistentFlags().IntVarP(&localUser, "user", "u", 0, "local user index")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		statusCmd(),
		loginCmd(),
		logoutCmd(),
		friendsCmd(),
		presenceCmd(),
		userCmd(),
		sessionsCmd(),
		identityCmd(),
		profilesCmd(),
	)
	return root
}

// call dials the daemon, invokes one method and closes the connection.
func call(method string, req map[string]any) (map[string]any, error) {
	return callWithTimeout(timeout, method, req)
}

func callWithTimeout(d time.Duration, method string, req map[string]any) (map[string]any, error) {
	c, err := client.New(profile.SocketPath(profileName))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for profile %q: %w", profileName, err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return c.Call(ctx, method, req)
}

// withUser adds the --user index to req.
func withUser(req map[string]any) map[string]any {
	if req == nil {
		req = map[string]any{}
	}
	req["local_user"] = localUser
	return req
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

// render prints resp as JSON under --json, otherwise through text.
func render(resp map[string]any, text func(map[string]any)) {
	if jsonOut {
		outputJSON(resp)
		return
	}
	text(resp)
}

func printOK(map[string]any) {
	fmt.Println("ok")
}
