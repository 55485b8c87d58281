package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matheus3301/netid/internal/api"
	"github.com/matheus3301/netid/internal/tui/client"
)

func friendsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friends",
		Short: "Inspect and manage the friend list",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show the cached friend list",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := call(api.MethodListFriends, withUser(nil))
				if err != nil {
					return err
				}
				render(resp, printFriends)
				return nil
			},
		},
		&cobra.Command{
			Use:   "refresh",
			Short: "Fetch the friend list from the platform",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				resp, err := call(api.MethodRefreshFriends, withUser(nil))
				if err != nil {
					return err
				}
				render(resp, printFriends)
				return nil
			},
		},
		relationshipCmd("invite", "Send a friend invite", api.MethodSendInvite),
		relationshipCmd("accept", "Accept a pending invite", api.MethodAcceptInvite),
		relationshipCmd("reject", "Reject a pending invite", api.MethodRejectInvite),
	)
	return cmd
}

func relationshipCmd(use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <identity>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(method, withUser(map[string]any{"target": args[0]}))
			if err != nil {
				return err
			}
			render(resp, printOK)
			return nil
		},
	}
}

func printFriends(resp map[string]any) {
	if queried, _ := resp["queried"].(bool); !queried {
		fmt.Println("Friend list not yet queried. Run: netidctl friends refresh")
		return
	}
	friends := client.Objects(resp["friends"])
	if len(friends) == 0 {
		fmt.Println("No friends.")
		return
	}
	for _, f := range friends {
		state := "-"
		if p := client.Object(f, "presence"); p != nil {
			state = client.String(p, "state")
		}
		fmt.Printf("%-24s %-16s %-10s %s\n",
			client.String(client.Object(f, "display_name"), "value"),
			client.String(f, "relationship"),
			state,
			client.String(f, "identity"))
	}
}
