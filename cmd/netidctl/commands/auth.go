package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/matheus3301/netid/internal/api"
	"github.com/matheus3301/netid/internal/profile"
	"github.com/matheus3301/netid/internal/tui/client"
	"github.com/matheus3301/netid/internal/tui/ui"
)

// qrLoginTimeout covers the daemon's own pairing window.
const qrLoginTimeout = 4 * time.Minute

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

func loginCmd() *cobra.Command {
	var kind, account, secret string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log a local user in",
		Long: "Log a local user in. --kind password prompts for the secret when --secret is empty;\n" +
			"--kind qr prints pairing codes until the device is linked; --kind persisted reuses stored credentials.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := withUser(map[string]any{"kind": kind, "account": account})
			switch kind {
			case "password":
				if secret == "" {
					s, err := promptSecret(account)
					if err != nil {
						return err
					}
					secret = s
				}
				req["secret"] = secret
			case "qr":
				return loginQR(req)
			}
			resp, err := call(api.MethodLogin, req)
			if err != nil {
				return err
			}
			render(resp, printLogin)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "persisted", "credential kind: password, qr or persisted")
	cmd.Flags().StringVar(&account, "account", "", "account name")
	cmd.Flags().StringVar(&secret, "secret", "", "account secret (prompted when empty)")
	return cmd
}

func promptSecret(account string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("secret required (--secret) when stdin is not a terminal")
	}
	fmt.Fprintf(os.Stderr, "Secret for %s: ", account)
	b, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(b), nil
}

// loginQR watches auth events while the login call is pending and prints
// each pairing code as it rotates.
func loginQR(req map[string]any) error {
	c, err := client.New(profile.SocketPath(profileName))
	if err != nil {
		return fmt.Errorf("cannot connect to daemon for profile %q: %w", profileName, err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), qrLoginTimeout)
	defer cancel()

	events, err := c.Watch(ctx, "auth.")
	if err != nil {
		return err
	}
	go func() {
		for {
			evt, err := events.Recv()
			if err != nil {
				return
			}
			if code := client.String(evt.Payload, "qr_code"); code != "" {
				fmt.Fprintf(os.Stderr, "\nScan this code to link the device:\n\n%s\n", ui.RenderQR(code))
			}
		}
	}()

	resp, err := c.Call(ctx, api.MethodLogin, req)
	if err != nil {
		return err
	}
	render(resp, printLogin)
	return nil
}

func printLogin(resp map[string]any) {
	fmt.Printf("Logged in as %s\n", client.String(resp, "identity"))
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log a local user out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := call(api.MethodLogout, withUser(nil))
			if err != nil {
				return err
			}
			render(resp, printOK)
			return nil
		},
	}
}
