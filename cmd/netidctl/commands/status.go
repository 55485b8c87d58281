package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/netid/internal/api"
	"github.com/matheus3301/netid/internal/lock"
	"github.com/matheus3301/netid/internal/profile"
	"github.com/matheus3301/netid/internal/tui/client"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and local user status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(api.MethodStatus, nil)
			if err != nil {
				// A recorded holder means a daemon owns the profile but is not answering.
				if h, ok := lock.Inspect(profile.Dir(profileName)); ok {
					return fmt.Errorf("%w (daemon pid %d, up since %s)", err, h.PID, h.Since.Local().Format(time.DateTime))
				}
				return err
			}
			if h, ok := lock.Inspect(profile.Dir(profileName)); ok {
				resp["daemon_pid"] = h.PID
				resp["daemon_since"] = h.Since.Format(time.RFC3339)
			}
			render(resp, printStatus)
			return nil
		},
	}
}

func printStatus(resp map[string]any) {
	fmt.Printf("Profile:  %s\n", client.String(resp, "profile"))
	fmt.Printf("Backend:  %s\n", client.String(resp, "backend"))
	if pid, ok := resp["daemon_pid"].(int); ok {
		fmt.Printf("PID:      %d\n", pid)
	}
	fmt.Printf("Uptime:   %dms\n", client.Int(resp, "uptime_ms"))
	fmt.Printf("Sessions: %d\n", client.Int(resp, "sessions"))
	if _, ok := resp["stored_identities"]; ok {
		fmt.Printf("Stored:   %d identities, %d friendships\n",
			client.Int(resp, "stored_identities"), client.Int(resp, "stored_friendships"))
	}
	for _, u := range client.Objects(resp["local_users"]) {
		line := fmt.Sprintf("  [%d] %-12s", client.Int(u, "local_user"), client.String(u, "status"))
		if id := client.String(u, "identity"); id != "" {
			line += " " + id
		}
		fmt.Println(line)
	}
}
