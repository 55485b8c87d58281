package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/netid/internal/tui/client"
	"github.com/matheus3301/netid/internal/tui/keys"
	"github.com/matheus3301/netid/internal/tui/model"
	"github.com/matheus3301/netid/internal/tui/ui"
	"github.com/matheus3301/netid/internal/tui/views"
)

const (
	pageFriends  = "friends"
	pageSessions = "sessions"
	pageAuth     = "auth"
	pageHelp     = "help"

	commandTimeout = 30 * time.Second
	pairingTimeout = 3 * time.Minute
	maxBackoff     = 30 * time.Second
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	root     *tview.Flex
	pages    *ui.Pages
	theme    *ui.Theme
	vm       *model.ViewModel
	client   *client.Client
	registry *keys.Registry
	flash    *ui.FlashModel

	info      *ui.ProfileInfo
	menu      *ui.Menu
	prompt    *ui.Prompt
	flashBar  *ui.FlashBar
	statusBar *views.StatusBar
	friends   *views.FriendList
	sessions  *views.SessionList
	auth      *views.AuthView
	help      *views.HelpView

	profile string
	pairing atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewApp creates the TUI for the given profile, following local user 0.
func NewApp(c *client.Client, profile string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		pages:     ui.NewPages(),
		theme:     theme,
		vm:        model.NewViewModel(c, 0),
		client:    c,
		registry:  keys.NewRegistry(),
		flash:     ui.NewFlashModel(),
		info:      ui.NewProfileInfo(theme),
		menu:      ui.NewMenu(theme),
		prompt:    ui.NewPrompt(theme),
		flashBar:  ui.NewFlashBar(theme),
		statusBar: views.NewStatusBar(profile),
		friends:   views.NewFriendList(theme),
		sessions:  views.NewSessionList(theme),
		auth:      views.NewAuthView(theme),
		help:      views.NewHelpView(theme),
		profile:   profile,
		ctx:       ctx,
		cancel:    cancel,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	global := []*keys.Action{
		{Key: tcell.KeyRune, Rune: ':', Label: ":", Description: "Command", Visible: true, Handler: func() { a.showPrompt(ui.PromptCommand) }},
		{Key: tcell.KeyRune, Rune: 'f', Label: "f", Description: "Friends", Visible: true, Handler: func() { a.pages.Reset(pageFriends) }},
		{Key: tcell.KeyRune, Rune: 's', Label: "s", Description: "Sessions", Visible: true, Handler: func() { a.pages.Reset(pageSessions) }},
		{Key: tcell.KeyTab, Label: "Tab", Description: "Switch", Handler: a.toggle},
		{Key: tcell.KeyRune, Rune: 'l', Label: "l", Description: "Link device", Visible: true, Handler: a.startPairing},
		{Key: tcell.KeyRune, Rune: '?', Label: "?", Description: "Help", Visible: true, Handler: func() { a.pages.Push(pageHelp) }},
		{Key: tcell.KeyRune, Rune: 'q', Label: "q", Description: "Quit", Visible: true, Handler: a.Stop},
	}
	for _, act := range global {
		a.registry.AddGlobal(act)
	}

	a.registry.AddView(pageFriends, &keys.Action{Key: tcell.KeyRune, Rune: '/', Label: "/", Description: "Filter", Visible: true,
		Handler: func() { a.showPrompt(ui.PromptFilter) }})
	a.registry.AddView(pageFriends, &keys.Action{Key: tcell.KeyRune, Rune: 'r', Label: "r", Description: "Refresh", Visible: true,
		Handler: func() { a.runCommand(Command{Name: "refresh"}) }})
	a.registry.AddView(pageFriends, &keys.Action{Key: tcell.KeyRune, Rune: 'a', Label: "a", Description: "Accept invite", Visible: true,
		Handler: func() { a.answerInvite("accept") }})
	a.registry.AddView(pageFriends, &keys.Action{Key: tcell.KeyRune, Rune: 'x', Label: "x", Description: "Reject invite", Visible: true,
		Handler: func() { a.answerInvite("reject") }})

	for _, op := range []struct {
		r    rune
		name string
		desc string
	}{
		{'g', "start", "Start"},
		{'e', "end", "End"},
		{'d', "destroy", "Destroy"},
	} {
		a.registry.AddView(pageSessions, &keys.Action{Key: tcell.KeyRune, Rune: op.r, Label: string(op.r), Description: op.desc, Visible: true,
			Handler: func() {
				if name := a.sessions.Selected(); name != "" {
					a.runCommand(Command{Name: op.name, Args: []string{name}})
				}
			}})
	}
}

func (a *App) setupCallbacks() {
	a.flash.SetOnChange(func() {
		go a.app.QueueUpdateDraw(func() { a.flashBar.Update(a.flash.Current()) })
	})

	a.pages.SetOnChange(func(current string) {
		a.menu.Update(a.registry.Hints(current))
		a.app.SetFocus(a.focusTarget())
	})

	a.friends.SetSelectedFunc(func(int, int) {
		f := a.friends.Selected()
		if f == nil {
			return
		}
		msg := fmt.Sprintf("%s (%s) %s", model.FriendName(f), client.String(f, "identity"), client.String(f, "relationship"))
		if p := client.Object(f, "presence"); p != nil {
			msg += ", " + client.String(p, "state")
			if s := client.String(p, "status"); s != "" {
				msg += ": " + s
			}
		}
		a.flash.Info(msg)
	})

	a.prompt.SetOnChange(func(mode ui.PromptMode, text string) {
		if mode == ui.PromptFilter {
			a.friends.SetFilter(text)
		}
	})
	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		if mode == ui.PromptFilter {
			a.friends.SetFilter(text)
			return
		}
		a.execute(ParseCommand(text))
	})
	a.prompt.SetOnCancel(func() {
		if a.prompt.Mode() == ui.PromptFilter {
			a.friends.SetFilter("")
		}
		a.hidePrompt()
	})
}

func (a *App) setupLayout() {
	header := tview.NewFlex().
		AddItem(a.info, 0, 2, false).
		AddItem(a.menu, 0, 3, false).
		AddItem(ui.NewLogo(a.theme), 20, 0, false)

	a.pages.Add(a.friends, a.sessions, a.auth, a.help)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.flashBar, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.pages.Reset(pageFriends)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}
		if event.Key() == tcell.KeyEscape {
			a.pages.Pop()
			return nil
		}
		if a.registry.HandleEvent(a.pages.Current(), event) {
			return nil
		}
		return event
	})
}

func (a *App) toggle() {
	if a.pages.Current() == pageFriends {
		a.pages.Reset(pageSessions)
		return
	}
	a.pages.Reset(pageFriends)
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	if mode == ui.PromptFilter {
		a.prompt.SetText(a.friends.Filter())
	}
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	a.app.SetFocus(a.focusTarget())
}

func (a *App) focusTarget() tview.Primitive {
	switch a.pages.Current() {
	case pageSessions:
		return a.sessions
	case pageAuth:
		return a.auth
	case pageHelp:
		return a.help
	default:
		return a.friends
	}
}

func (a *App) execute(cmd Command) {
	switch cmd.Name {
	case "":
	case "q", "quit":
		a.Stop()
	case "h", "help":
		a.pages.Push(pageHelp)
	case pageFriends, pageSessions:
		a.pages.Reset(cmd.Name)
	case "link":
		a.startPairing()
	case "filter":
		a.pages.Reset(pageFriends)
		a.friends.SetFilter(strings.Join(cmd.Args, " "))
	default:
		a.runCommand(cmd)
	}
}

// runCommand executes a daemon command off the UI goroutine and reloads the
// panes it may have changed.
func (a *App) runCommand(cmd Command) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, commandTimeout)
		defer cancel()
		msg, err := a.vm.Run(ctx, cmd.Name, cmd.Args)
		if err != nil {
			a.flash.Err(err)
			return
		}
		a.flash.Info(msg)
		a.reload(model.EffectFriends | model.EffectSessions | model.EffectStatus)
	}()
}

func (a *App) answerInvite(verb string) {
	f := a.friends.Selected()
	if f == nil {
		return
	}
	if client.String(f, "relationship") != "invite_received" {
		a.flash.Warn(model.FriendName(f) + " has no pending invite")
		return
	}
	a.runCommand(Command{Name: verb, Args: []string{client.String(f, "identity")}})
}

// startPairing links a device with a QR login. Codes arrive as auth.qr
// events on the watch stream while the Login call blocks.
func (a *App) startPairing() {
	if !a.pairing.CompareAndSwap(false, true) {
		a.pages.Push(pageAuth)
		return
	}
	a.auth.ShowMessage("Requesting a pairing code...")
	a.pages.Push(pageAuth)

	go func() {
		defer a.pairing.Store(false)
		ctx, cancel := context.WithTimeout(a.ctx, pairingTimeout)
		defer cancel()

		id, err := a.vm.Login(ctx, "qr", "", "")
		if err != nil {
			a.flash.Err(err)
			a.app.QueueUpdateDraw(func() {
				a.auth.ShowMessage("[red]Link failed:[-] " + tview.Escape(err.Error()) + "\nPress l to try again.")
			})
			return
		}
		a.flash.Info("Logged in as " + id)
		if err := a.vm.RefreshFriends(ctx); err != nil {
			a.flash.Err(err)
		}
		a.reload(model.EffectStatus | model.EffectSessions)
		a.app.QueueUpdateDraw(func() { a.pages.Reset(pageFriends) })
	}()
}

// reload fetches the panes in eff from the daemon and redraws them.
func (a *App) reload(eff model.Effect) {
	var errs []error
	if eff.Has(model.EffectStatus) {
		errs = append(errs, a.vm.LoadStatus(a.ctx))
	}
	if eff.Has(model.EffectFriends) {
		errs = append(errs, a.vm.LoadFriends(a.ctx))
	}
	if eff.Has(model.EffectSessions) {
		errs = append(errs, a.vm.LoadSessions(a.ctx))
	}
	if err := errors.Join(errs...); err != nil && a.ctx.Err() == nil {
		a.flash.Err(err)
	}
	a.app.QueueUpdateDraw(func() { a.render(eff) })
}

// render redraws the panes in eff from the view model. UI goroutine only.
func (a *App) render(eff model.Effect) {
	if eff.Has(model.EffectFriends) {
		a.friends.Update(a.vm.Friends())
	}
	if eff.Has(model.EffectSessions) {
		a.sessions.Update(a.vm.Sessions())
	}
	if eff.Has(model.EffectAuth) {
		a.auth.Show(a.vm.Auth())
	}

	st := a.vm.Status()
	user := a.vm.User()
	friends, _ := a.vm.Friends()
	a.info.Update(&ui.ProfileData{
		Profile:    client.String(st, "profile"),
		Backend:    client.String(st, "backend"),
		Identity:   client.String(user, "identity"),
		Status:     client.String(user, "status"),
		Connection: a.vm.Connection(),
		Friends:    len(friends),
		Sessions:   len(a.vm.Sessions()),
		Uptime:     time.Duration(client.Int(st, "uptime_ms")) * time.Millisecond,
	})
	a.statusBar.SetStatus(client.String(user, "status"))
	a.statusBar.SetConnection(a.vm.Connection())
}

// watch follows the daemon's event stream, reconnecting with backoff.
func (a *App) watch() {
	backoff := time.Second
	for a.ctx.Err() == nil {
		stream, err := a.client.Watch(a.ctx, "")
		if err == nil {
			a.app.QueueUpdateDraw(func() { a.statusBar.SetWatching(true) })
			// Events may have been missed while disconnected.
			a.reload(model.EffectStatus | model.EffectFriends | model.EffectSessions)
			backoff = time.Second
			var last uint64
			for {
				evt, err := stream.Recv()
				if err != nil {
					break
				}
				if last != 0 && evt.Seq > last+1 {
					// The daemon dropped events for us; resync everything.
					a.reload(model.EffectStatus | model.EffectFriends | model.EffectSessions)
				}
				last = evt.Seq
				a.apply(evt)
			}
		}
		if a.ctx.Err() != nil {
			return
		}
		a.app.QueueUpdateDraw(func() { a.statusBar.SetWatching(false) })

		select {
		case <-a.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (a *App) apply(evt client.Event) {
	eff := a.vm.Apply(evt)
	if eff == model.EffectNone {
		return
	}
	switch evt.Kind {
	case "presence.changed", "auth.qr", "platform.connection":
		// Already folded into the view model.
		a.app.QueueUpdateDraw(func() { a.render(eff) })
	default:
		a.reload(eff)
	}
}

func (a *App) tick() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.app.QueueUpdateDraw(func() {
				a.statusBar.Tick()
				a.flashBar.Update(a.flash.Current())
			})
		}
	}
}

// Run starts the TUI and blocks until it exits.
func (a *App) Run() error {
	go func() {
		a.reload(model.EffectStatus | model.EffectFriends | model.EffectSessions)
		if a.vm.NeedsPairing() {
			a.app.QueueUpdateDraw(a.startPairing)
		}
	}()
	go a.watch()
	go a.tick()

	defer a.cancel()
	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
