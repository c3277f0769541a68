// Package tui is the terminal frontend: a tview shell over the client core.
// It only reads synchronizer snapshots and dispatches intents.
package tui

import (
	"context"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/app"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/bus"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/chat"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/status"
	intsync "github.com/jonahfitia/mobile-app-mavis-chat/internal/sync"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/tui/keys"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/tui/model"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/tui/views"
	"github.com/rivo/tview"
)

// App is the TUI application shell.
type App struct {
	app      *tview.Application
	pages    *tview.Pages
	core     *app.Core
	registry *keys.Registry
	flash    model.Flash

	statusBar *views.StatusBar
	convList  *views.ConversationList
	thread    *views.MessageThread
	composer  *views.Composer
	login     *views.LoginView
	cmdLine   *tview.InputField

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	active     *intsync.Session
	activeConv chat.Conversation
}

// NewApp creates the TUI application over an initialized core.
func NewApp(core *app.Core) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		core:      core,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		convList:  views.NewConversationList(),
		thread:    views.NewMessageThread(),
		composer:  views.NewComposer(),
		login:     views.NewLoginView(core.Config.Database),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(core.Profile)
	a.statusBar.SetStatus(string(core.Machine.Current()))
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddView("conversations", "refresh", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:refresh", Visible: true,
		Handler: func() { a.refreshRoster() },
	})
	a.registry.AddView("conversations", "command", &keys.Action{
		Rune: ':', Key: tcell.KeyRune,
		Description: ":command", Visible: true,
		Handler: func() { a.showCommandLine() },
	})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if conv, ok := a.convList.Selected(); ok {
			a.openConversation(conv)
		}
	})

	a.composer.SetOnSend(func(text string) {
		a.mu.Lock()
		active := a.active
		a.mu.Unlock()
		if active == nil {
			return
		}
		if _, err := active.Send(text); err != nil {
			a.flash.Set("Send failed: "+err.Error(), 5*time.Second)
		}
		a.redrawThread()
	})

	a.login.SetOnSubmit(func(login, password string) {
		a.login.ShowMessage("Logging in...")
		go a.runLogin(login, password)
	})
}

func (a *App) setupLayout() {
	threadFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.cmdLine = tview.NewInputField().SetLabel(" : ").SetFieldWidth(0)
	a.cmdLine.SetDoneFunc(func(key tcell.Key) {
		text := a.cmdLine.GetText()
		a.cmdLine.SetText("")
		a.pages.HidePage("command")
		a.app.SetFocus(a.convList)
		if key == tcell.KeyEnter && text != "" {
			a.runCommand(ParseCommand(text))
		}
	})
	cmdFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tview.NewBox(), 0, 1, false).
		AddItem(a.cmdLine, 1, 0, true)

	a.pages.AddPage("login", a.login, true, false)
	a.pages.AddPage("conversations", a.convList, true, true)
	a.pages.AddPage("thread", threadFlex, true, false)
	a.pages.AddPage("command", cmdFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case "thread":
				a.closeConversation()
				return nil
			case "command":
				a.pages.HidePage("command")
				a.app.SetFocus(a.convList)
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		// 'i' focuses the composer (only when not already in an input field).
		if currentPage == "thread" && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.composer.InputField)
			return nil
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		return event
	})
}

// Run starts the TUI. It shows the login page when the core has no usable
// session and the roster otherwise.
func (a *App) Run() error {
	go a.eventLoop()

	if a.core.Machine.Current() == status.AuthRequired {
		a.pages.SwitchToPage("login")
		a.app.SetFocus(a.login.Form())
	} else {
		a.refreshRoster()
	}

	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.closeConversation()
	a.cancel()
	a.app.Stop()
}

// eventLoop folds bus events into redraws. The poll loop, the sender and
// the roster all publish here; the TUI never touches their internals.
func (a *App) eventLoop() {
	sub := a.core.Bus.Subscribe("", 128)
	defer sub.Cancel()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt := <-sub.C:
			a.handleEvent(evt)
		case <-ticker.C:
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.flash.Get())
			})
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case "session.status_changed":
		if change, ok := evt.Payload.(status.Change); ok {
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetStatus(string(change.To))
			})
		}
	case "roster.updated":
		a.redrawRoster()
	case "conv.message", "outbox.sent", "outbox.failed":
		a.mu.Lock()
		mine := a.active != nil && evt.Topic == a.activeConv.UUID
		a.mu.Unlock()
		if mine {
			a.redrawThread()
		}
	case "conv.error":
		if msg, ok := evt.Payload.(string); ok {
			a.flash.Set(msg, 5*time.Second)
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.flash.Get())
			})
		}
	}
}

func (a *App) runLogin(login, password string) {
	u, err := a.core.Login(a.ctx, login, password)
	if err != nil {
		a.app.QueueUpdateDraw(func() {
			a.login.ShowError("Login failed: " + err.Error())
		})
		return
	}

	_ = a.core.Machine.Transition(status.Connecting)
	_ = a.core.Machine.Transition(status.Ready)
	a.flash.Set("Welcome, "+u.Name, 3*time.Second)

	a.app.QueueUpdateDraw(func() {
		a.pages.SwitchToPage("conversations")
		a.app.SetFocus(a.convList)
	})
	a.refreshRoster()
}

func (a *App) refreshRoster() {
	go func() {
		if err := a.core.Roster.Refresh(a.ctx); err != nil {
			if app.IsAuthError(err) {
				a.toLogin("Session expired, log in again")
				return
			}
			a.flash.Set("Refresh failed: "+err.Error(), 5*time.Second)
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.flash.Get())
			})
		}
	}()
}

func (a *App) redrawRoster() {
	roster, _, _ := a.core.Roster.Snapshot()
	a.app.QueueUpdateDraw(func() {
		currentPage, _ := a.pages.GetFrontPage()
		if currentPage == "conversations" {
			a.convList.Update(roster)
		}
	})
}

func (a *App) openConversation(conv chat.Conversation) {
	go func() {
		go a.core.Roster.MarkOpened(a.ctx, conv.UUID, conv.ChannelID, conv.Kind)

		sess, err := a.core.OpenConversation(a.ctx, conv)
		if err != nil {
			if app.IsAuthError(err) {
				a.toLogin("Session expired, log in again")
				return
			}
			a.flash.Set("Open failed: "+err.Error(), 5*time.Second)
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetFlash(a.flash.Get())
			})
			return
		}

		a.mu.Lock()
		if a.active != nil {
			a.active.Close()
		}
		a.active = sess
		a.activeConv = conv
		a.mu.Unlock()
		a.core.Touch()

		msgs, _, _ := sess.Snapshot()
		a.app.QueueUpdateDraw(func() {
			name := conv.Name
			if name == "" {
				name = conv.UUID
			}
			a.thread.SetConversationName(name)
			a.thread.Update(msgs)
			a.pages.SwitchToPage("thread")
			a.app.SetFocus(a.composer.InputField)
		})
	}()
}

// closeConversation cancels the active poll loop and returns to the roster.
func (a *App) closeConversation() {
	a.mu.Lock()
	if a.active != nil {
		a.active.Close()
		a.active = nil
		a.activeConv = chat.Conversation{}
	}
	a.mu.Unlock()

	a.pages.SwitchToPage("conversations")
	a.app.SetFocus(a.convList)
	a.refreshRoster()
}

func (a *App) redrawThread() {
	a.mu.Lock()
	active := a.active
	a.mu.Unlock()
	if active == nil {
		return
	}
	msgs, _, errMsg := active.Snapshot()
	a.app.QueueUpdateDraw(func() {
		a.thread.Update(msgs)
		if errMsg != "" {
			a.statusBar.SetFlash(errMsg)
		}
	})
}

func (a *App) showCommandLine() {
	a.pages.ShowPage("command")
	a.app.SetFocus(a.cmdLine)
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "quit", "q":
		a.app.Stop()
	case "refresh":
		a.refreshRoster()
	case "logout":
		if err := a.core.Logout(); err != nil {
			a.flash.Set("Logout failed: "+err.Error(), 5*time.Second)
			return
		}
		_ = a.core.Machine.Transition(status.AuthRequired)
		a.toLogin("Logged out")
	default:
		a.flash.Set("Unknown command: "+cmd.Name, 3*time.Second)
		a.statusBar.SetFlash(a.flash.Get())
	}
}

func (a *App) toLogin(msg string) {
	_ = a.core.Machine.Transition(status.AuthRequired)
	a.app.QueueUpdateDraw(func() {
		a.login.ShowMessage(msg)
		a.pages.SwitchToPage("login")
		a.app.SetFocus(a.login.Form())
	})
}
