package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// ProfileData is what the header shows about the daemon and the local user.
type ProfileData struct {
	Profile    string
	Backend    string
	Identity   string
	Status     string
	Connection string
	Friends    int
	Sessions   int
	Uptime     time.Duration
}

// ProfileInfo displays daemon and account metadata in the header.
type ProfileInfo struct {
	*tview.TextView
	theme *Theme
}

// NewProfileInfo creates the header panel.
func NewProfileInfo(theme *Theme) *ProfileInfo {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)
	return &ProfileInfo{TextView: tv, theme: theme}
}

// Update renders data; nil clears the panel.
func (pi *ProfileInfo) Update(data *ProfileData) {
	pi.Clear()
	if data == nil {
		return
	}

	label := ColorName(pi.theme.FgColor)
	value := ColorName(pi.theme.CounterColor)
	row := func(name, v string) {
		if v == "" {
			v = "-"
		}
		_, _ = fmt.Fprintf(pi, "[%s::b]%-9s[-:-:-] [%s]%s[-]\n", label, name+":", value, tview.Escape(v))
	}

	row("Profile", data.Profile)
	row("Backend", data.Backend)
	row("Identity", data.Identity)
	status := data.Status
	if data.Connection != "" {
		status += " (" + data.Connection + ")"
	}
	row("Status", status)
	row("Friends", fmt.Sprint(data.Friends))
	row("Sessions", fmt.Sprint(data.Sessions))
	row("Uptime", formatDuration(data.Uptime))
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
