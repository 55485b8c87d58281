package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays the persistent profile, account and link state.
type StatusBar struct {
	*tview.TextView
	profile    string
	status     string
	connection string
	watching   bool
	now        func() time.Time
}

// NewStatusBar creates a new status bar.
func NewStatusBar(profile string) *StatusBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	sb := &StatusBar{TextView: tv, profile: profile, now: time.Now}
	sb.render()
	return sb
}

// SetStatus updates the login status display.
func (sb *StatusBar) SetStatus(status string) {
	sb.status = status
	sb.render()
}

// SetConnection updates the platform link display.
func (sb *StatusBar) SetConnection(state string) {
	sb.connection = state
	sb.render()
}

// SetWatching toggles the live event indicator.
func (sb *StatusBar) SetWatching(on bool) {
	sb.watching = on
	sb.render()
}

// Tick redraws the clock.
func (sb *StatusBar) Tick() { sb.render() }

func (sb *StatusBar) render() {
	sb.Clear()

	live := "[red]●[-] offline"
	if sb.watching {
		live = "[green]●[-] live"
	}
	status := sb.status
	if status == "" {
		status = "-"
	}
	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s", tview.Escape(sb.profile), status)
	if sb.connection != "" {
		line += " | " + sb.connection
	}
	line += fmt.Sprintf(" | %s | %s", live, sb.now().Format("15:04"))
	_, _ = fmt.Fprint(sb, line)
}
