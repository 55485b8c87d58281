package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/matheus3301/netid/internal/tui/model"
	"github.com/matheus3301/netid/internal/tui/ui"
)

// AuthView displays the pairing QR code.
type AuthView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewAuthView creates a new auth view.
func NewAuthView(theme *ui.Theme) *AuthView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Link Device ")
	tv.SetTitleColor(theme.TitleColor)

	av := &AuthView{TextView: tv, theme: theme}
	av.ShowMessage("Requesting a pairing code...")
	return av
}

// Name implements ui.Component.
func (av *AuthView) Name() string { return "auth" }


// Show renders the latest pairing event.
func (av *AuthView) Show(st model.AuthState) {
	switch st.Type {
	case "qr_code":
		av.Clear()
		_, _ = fmt.Fprintf(av, "\n  Scan this code from the phone's linked devices screen:\n\n%s\n  [::d]Waiting for the scan...", ui.RenderQR(st.QRCode))
	case "authenticated":
		av.ShowMessage("[green]Device linked.[-] Loading friends...")
	case "timeout":
		av.ShowMessage("[orange]Pairing timed out.[-] Press l to try again.")
	case "auth_failed":
		av.ShowMessage("[red]Pairing failed:[-] " + tview.Escape(st.Message) + "\nPress l to try again.")
	}
}

// ShowMessage displays a status message.
func (av *AuthView) ShowMessage(msg string) {
	av.Clear()
	_, _ = fmt.Fprintf(av, "\n\n%s", msg)
}
