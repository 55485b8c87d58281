package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/netid/internal/tui/client"
	"github.com/matheus3301/netid/internal/tui/ui"
)

// SessionList shows the local session table.
type SessionList struct {
	*tview.Table
	theme    *ui.Theme
	sessions []map[string]any
}

// NewSessionList creates the session table.
func NewSessionList(theme *ui.Theme) *SessionList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	sl := &SessionList{Table: table, theme: theme}
	sl.render()
	return sl
}

// Name implements ui.Component.
func (sl *SessionList) Name() string { return "sessions" }


// Update replaces the rows.
func (sl *SessionList) Update(sessions []map[string]any) {
	sl.sessions = sessions
	sl.render()
}

func (sl *SessionList) render() {
	sl.Clear()
	for col, h := range []string{" NAME", " STATE", " PLAYERS", " SLOTS", " OWNER"} {
		sl.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sl.theme.TableHeaderFg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(1))
	}

	for i, s := range sl.sessions {
		settings := client.Object(s, "settings")
		players, _ := s["players"].([]any)
		state := client.String(s, "state")
		if b, _ := s["updating"].(bool); b {
			state += "*"
		}
		values := []string{
			client.String(s, "name"),
			state,
			fmt.Sprint(len(players)),
			fmt.Sprint(client.Int(settings, "public_connections") + client.Int(settings, "private_connections")),
			client.String(s, "owner"),
		}
		for col, v := range values {
			sl.SetCell(i+1, col, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(v))).
				SetTextColor(sl.theme.FgColor).
				SetExpansion(1))
		}
	}
	sl.SetTitle(fmt.Sprintf(" Sessions (%d) ", len(sl.sessions)))
}

// Selected returns the name of the session under the cursor, or "".
func (sl *SessionList) Selected() string {
	row, _ := sl.GetSelection()
	if row < 1 || row > len(sl.sessions) {
		return ""
	}
	return client.String(sl.sessions[row-1], "name")
}
