package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/netid/internal/tui/ui"
)

// HelpView displays the key and command reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{TextView: tv, theme: theme}
	hv.render()
	return hv
}

// Name implements ui.Component.
func (hv *HelpView) Name() string { return "help" }


var helpSections = []struct {
	title string
	rows  [][2]string
}{
	{"Keys", [][2]string{
		{"f / s", "Friends / sessions"},
		{"Tab", "Switch between friends and sessions"},
		{":", "Command mode"},
		{"/", "Filter friends"},
		{"r", "Refresh friends from the platform"},
		{"a / x", "Accept / reject the selected invite"},
		{"g / e / d", "Start / end / destroy the selected session"},
		{"l", "Link a device (QR login)"},
		{"Esc", "Back"},
		{"q", "Quit"},
	}},
	{"Commands", [][2]string{
		{"refresh", "Refresh friends"},
		{"invite|accept|reject <identity>", "Manage a friend request"},
		{"presence <state> [status]", "Set own presence"},
		{"login <account> <secret>", "Password login"},
		{"logout", "Log the local user out"},
		{"create <name> [slots]", "Create a session"},
		{"start|end|destroy <name>", "Drive a session"},
		{"join|leave <name> <identity>", "Register or unregister a player"},
		{"help", "This screen"},
		{"quit", "Exit"},
	}},
}

func (hv *HelpView) render() {
	kc := ui.ColorName(hv.theme.MenuKeyColor)
	var sb strings.Builder
	for _, s := range helpSections {
		fmt.Fprintf(&sb, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, r := range s.rows {
			fmt.Fprintf(&sb, "  [%s]%-34s[-:-:-] %s\n", kc, tview.Escape(r[0]), r[1])
		}
	}
	_, _ = fmt.Fprint(hv, sb.String())
}
