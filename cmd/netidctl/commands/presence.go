package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matheus3301/netid/internal/api"
	"github.com/matheus3301/netid/internal/tui/client"
)

func presenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presence",
		Short: "Query or publish presence",
	}
	cmd.AddCommand(presenceGetCmd(), presenceSetCmd())
	return cmd
}

func presenceGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <identity>",
		Short: "Subscribe to and show a user's presence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(api.MethodQueryPresence, withUser(map[string]any{"target": args[0]}))
			if err != nil {
				return err
			}
			render(resp, printPresence)
			return nil
		},
	}
}

func presenceSetCmd() *cobra.Command {
	var (
		state, status, appID, sessionID string
		joinable                        bool
		props                           []string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Publish the local user's presence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			properties, err := parsePairs(props)
			if err != nil {
				return err
			}
			req := withUser(map[string]any{
				"presence": map[string]any{
					"state":      state,
					"status":     status,
					"app_id":     appID,
					"session_id": sessionID,
					"joinable":   joinable,
					"properties": properties,
				},
			})
			resp, err := call(api.MethodSetPresence, req)
			if err != nil {
				return err
			}
			render(resp, printOK)
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "online", "online, away, busy or offline")
	cmd.Flags().StringVar(&status, "status", "", "status text")
	cmd.Flags().StringVar(&appID, "app-id", "", "application id")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "current session id")
	cmd.Flags().BoolVar(&joinable, "joinable", false, "advertise the session as joinable")
	cmd.Flags().StringArrayVar(&props, "prop", nil, "presence property key=value (repeatable)")
	return cmd
}

// parsePairs turns key=value arguments into a map.
func parsePairs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}

func printPresence(resp map[string]any) {
	fmt.Printf("Identity: %s\n", client.String(resp, "identity"))
	fmt.Printf("State:    %s\n", client.String(resp, "state"))
	if s := client.String(resp, "status"); s != "" {
		fmt.Printf("Status:   %s\n", s)
	}
	if app := client.String(resp, "app_id"); app != "" {
		fmt.Printf("App:      %s (playing this app: %v)\n", app, resp["playing_this_app"])
	}
	for k, v := range client.Object(resp, "properties") {
		fmt.Printf("  %s=%v\n", k, v)
	}
}
