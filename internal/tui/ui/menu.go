package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// menuRows is how many hints fit in one header column.
const menuRows = 6

// MenuHint is one key shortcut shown in the menu.
type MenuHint struct {
	Key         string
	Description string
	Global      bool // drawn in the secondary key color
}

// Menu displays keyboard shortcut hints in columns.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates a new menu hint panel.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)
	return &Menu{TextView: tv, theme: theme}
}

// Update renders hints column by column, menuRows per column.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	if len(hints) == 0 {
		return
	}

	cols := (len(hints) + menuRows - 1) / menuRows
	width := make([]int, cols)
	for i, h := range hints {
		if n := len(h.Key) + len(h.Description) + 3; n > width[i/menuRows] {
			width[i/menuRows] = n
		}
	}

	var sb strings.Builder
	for r := 0; r < menuRows; r++ {
		for c := 0; c < cols; c++ {
			i := c*menuRows + r
			if i >= len(hints) {
				break
			}
			h := hints[i]
			kc := ColorName(m.theme.MenuKeyColor)
			if h.Global {
				kc = ColorName(m.theme.GlobalKeyColor)
			}
			pad := width[c] - len(h.Key) - len(h.Description) - 3
			fmt.Fprintf(&sb, "[%s::b]<%s>[-:-:-] %s%s  ", kc, h.Key, h.Description, strings.Repeat(" ", pad))
		}
		sb.WriteString("\n")
	}
	_, _ = fmt.Fprint(m, sb.String())
}
