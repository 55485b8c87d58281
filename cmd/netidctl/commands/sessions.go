package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matheus3301/netid/internal/api"
	"github.com/matheus3301/netid/internal/tui/client"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage game sessions",
	}
	cmd.AddCommand(
		sessionsCreateCmd(),
		sessionOpCmd("start", "Start a session", api.MethodStartSession),
		sessionsUpdateCmd(),
		sessionOpCmd("end", "End a session", api.MethodEndSession),
		sessionOpCmd("destroy", "Destroy a session", api.MethodDestroySession),
		sessionsStateCmd(),
		sessionsListCmd(),
		sessionsFindCmd(),
		playerCmd("register", "Register a player in a session", api.MethodRegisterPlayer),
		playerCmd("unregister", "Unregister a player from a session", api.MethodUnregisterPlayer),
	)
	return cmd
}

// settingsFlags binds the session settings flags shared by create and update.
type settingsFlags struct {
	public, private           int
	advertise, joinInProgress bool
	usesPresence              bool
	attrs                     []string
}

func (f *settingsFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.public, "public", 0, "public connection slots")
	cmd.Flags().IntVar(&f.private, "private", 0, "private connection slots")
	cmd.Flags().BoolVar(&f.advertise, "advertise", false, "list the session in searches")
	cmd.Flags().BoolVar(&f.joinInProgress, "join-in-progress", false, "allow joining after start")
	cmd.Flags().BoolVar(&f.usesPresence, "uses-presence", false, "publish the session through presence")
	cmd.Flags().StringArrayVar(&f.attrs, "attr", nil, "session attribute key=value (repeatable)")
}

func (f *settingsFlags) value() (map[string]any, error) {
	attrs, err := parsePairs(f.attrs)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"public_connections":     f.public,
		"private_connections":    f.private,
		"should_advertise":       f.advertise,
		"allow_join_in_progress": f.joinInProgress,
		"uses_presence":          f.usesPresence,
		"attributes":             attrs,
	}, nil
}

func sessionsCreateCmd() *cobra.Command {
	var flags settingsFlags
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a session owned by the local user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := flags.value()
			if err != nil {
				return err
			}
			resp, err := call(api.MethodCreateSession, withUser(map[string]any{"name": args[0], "settings": settings}))
			if err != nil {
				return err
			}
			render(resp, printSession)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func sessionsUpdateCmd() *cobra.Command {
	var (
		flags   settingsFlags
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Replace a session's settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := flags.value()
			if err != nil {
				return err
			}
			req := map[string]any{"name": args[0], "settings": settings, "refresh_remote": refresh}
			resp, err := call(api.MethodUpdateSession, req)
			if err != nil {
				return err
			}
			render(resp, printSession)
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&refresh, "refresh-remote", false, "push the settings to the platform")
	return cmd
}

func sessionOpCmd(use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(method, map[string]any{"name": args[0]})
			if err != nil {
				return err
			}
			render(resp, printSession)
			return nil
		},
	}
}

func playerCmd(use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name> <identity>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(method, map[string]any{"name": args[0], "player": args[1]})
			if err != nil {
				return err
			}
			render(resp, printSession)
			return nil
		},
	}
}

func sessionsStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <name>",
		Short: "Show a session's state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(api.MethodSessionState, map[string]any{"name": args[0]})
			if err != nil {
				return err
			}
			render(resp, func(m map[string]any) { fmt.Println(client.String(m, "state")) })
			return nil
		},
	}
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List local sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(api.MethodListSessions, nil)
			if err != nil {
				return err
			}
			render(resp, func(m map[string]any) {
				sessions := client.Objects(m["sessions"])
				if len(sessions) == 0 {
					fmt.Println("No sessions.")
					return
				}
				for _, s := range sessions {
					printSessionLine(s)
				}
			})
			return nil
		},
	}
}

func sessionsFindCmd() *cobra.Command {
	var (
		prefix string
		max    int
		attrs  []string
	)
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Search advertised sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria, err := parsePairs(attrs)
			if err != nil {
				return err
			}
			req := withUser(map[string]any{"name_prefix": prefix, "max_results": max, "attributes": criteria})
			resp, err := call(api.MethodFindSessions, req)
			if err != nil {
				return err
			}
			render(resp, func(m map[string]any) {
				results := client.Objects(m["results"])
				if len(results) == 0 {
					fmt.Println("No sessions found.")
					return
				}
				for _, r := range results {
					fmt.Printf("%-20s %-3d open  owner %s  id %s\n",
						client.String(r, "name"), client.Int(r, "open_slots"),
						client.String(r, "owner"), client.String(r, "remote_id"))
				}
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "session name prefix")
	cmd.Flags().IntVar(&max, "max", 0, "maximum results (0 = no limit)")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "required attribute key=value (repeatable)")
	return cmd
}

func printSession(resp map[string]any) {
	if client.String(resp, "name") == "" {
		fmt.Println("ok")
		return
	}
	printSessionLine(resp)
}

func printSessionLine(s map[string]any) {
	settings := client.Object(s, "settings")
	n := 0
	if list, ok := s["players"].([]any); ok {
		n = len(list)
	}
	fmt.Printf("%-20s %-12s %d/%d players  owner %s\n",
		client.String(s, "name"), client.String(s, "state"),
		n, client.Int(settings, "public_connections")+client.Int(settings, "private_connections"),
		client.String(s, "owner"))
}
