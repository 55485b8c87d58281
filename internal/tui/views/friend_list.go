package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/netid/internal/tui/client"
	"github.com/matheus3301/netid/internal/tui/model"
	"github.com/matheus3301/netid/internal/tui/ui"
)

// FriendList is the main friend table.
type FriendList struct {
	*tview.Table
	theme   *ui.Theme
	friends []map[string]any
	queried bool
	filter  string
	visible []map[string]any
}

// NewFriendList creates the friend table.
func NewFriendList(theme *ui.Theme) *FriendList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	fl := &FriendList{Table: table, theme: theme}
	fl.render()
	return fl
}

// Name implements ui.Component.
func (fl *FriendList) Name() string { return "friends" }


// Update replaces the rows.
func (fl *FriendList) Update(friends []map[string]any, queried bool) {
	fl.friends = friends
	fl.queried = queried
	fl.render()
}

// SetFilter sets the active filter text and re-renders.
func (fl *FriendList) SetFilter(filter string) {
	fl.filter = filter
	fl.render()
}

// Filter returns the active filter.
func (fl *FriendList) Filter() string { return fl.filter }

func (fl *FriendList) matches(f map[string]any) bool {
	if fl.filter == "" {
		return true
	}
	return containsFold(model.FriendName(f), fl.filter) ||
		containsFold(client.String(f, "identity"), fl.filter) ||
		containsFold(client.String(f, "relationship"), fl.filter)
}

func (fl *FriendList) render() {
	fl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 2},
		{" RELATIONSHIP", 1},
		{" PRESENCE", 0},
		{" STATUS", 2},
		{" IDENTITY", 1},
	}
	for col, h := range headers {
		fl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(fl.theme.TableHeaderFg).
			SetBackgroundColor(fl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	fl.visible = fl.visible[:0]
	for _, f := range fl.friends {
		if fl.matches(f) {
			fl.visible = append(fl.visible, f)
		}
	}

	for i, f := range fl.visible {
		row := i + 1
		rel := client.String(f, "relationship")
		relColor := fl.theme.FgColor
		if rel == "invite_received" || rel == "invite_sent" {
			relColor = fl.theme.InviteColor
		}

		state, status := "-", ""
		stateColor := fl.theme.OfflineColor
		if p := client.Object(f, "presence"); p != nil {
			state = client.String(p, "state")
			status = client.String(p, "status")
			stateColor = fl.theme.PresenceColor(state)
			if b, _ := p["playing_this_app"].(bool); b {
				status = "▶ " + status
			}
		}

		cell := func(text string) *tview.TableCell {
			return tview.NewTableCell(" " + tview.Escape(sanitizeForTerminal(text))).SetTextColor(fl.theme.FgColor)
		}
		fl.SetCell(row, 0, cell(model.FriendName(f)).SetExpansion(2))
		fl.SetCell(row, 1, cell(rel).SetExpansion(1).SetTextColor(relColor))
		fl.SetCell(row, 2, cell(state).SetTextColor(stateColor))
		fl.SetCell(row, 3, cell(status).SetExpansion(2))
		fl.SetCell(row, 4, cell(client.String(f, "identity")).SetExpansion(1))
	}

	switch {
	case !fl.queried:
		fl.SetTitle(" Friends (not loaded, press r) ")
	case fl.filter != "":
		fl.SetTitle(fmt.Sprintf(" Friends (%d/%d) filter: %s ", len(fl.visible), len(fl.friends), tview.Escape(fl.filter)))
	default:
		fl.SetTitle(fmt.Sprintf(" Friends (%d) ", len(fl.friends)))
	}
}

// Selected returns the friend under the cursor, or nil.
func (fl *FriendList) Selected() map[string]any {
	row, _ := fl.GetSelection()
	if row < 1 || row > len(fl.visible) {
		return nil
	}
	return fl.visible[row-1]
}
