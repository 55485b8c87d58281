package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matheus3301/netid/internal/api"
	"github.com/matheus3301/netid/internal/tui/client"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Look up user profiles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "info <identity>...",
		Short: "Resolve profiles for one or more users",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := make([]any, 0, len(args))
			for _, a := range args {
				targets = append(targets, a)
			}
			resp, err := call(api.MethodQueryUserInfo, withUser(map[string]any{"targets": targets}))
			if err != nil {
				return err
			}
			render(resp, printUserInfo)
			return nil
		},
	})
	return cmd
}

func printUserInfo(resp map[string]any) {
	for _, p := range client.Objects(resp["profiles"]) {
		fmt.Printf("%-28s %-20s %-20s %s\n",
			client.String(p, "identity"),
			client.String(p, "display_name"),
			client.String(p, "real_name"),
			client.String(p, "alias"))
	}
	if success, _ := resp["success"].(bool); !success {
		fmt.Printf("Query %d incomplete: %s\n", client.Int(resp, "query_id"), client.String(resp, "message"))
	}
}
