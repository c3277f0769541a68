package views

import (
	"fmt"

	"github.com/rivo/tview"
)

// LoginView is the credential form shown when no usable session exists.
type LoginView struct {
	*tview.Flex
	form     *tview.Form
	message  *tview.TextView
	onSubmit func(login, password string)
}

// NewLoginView creates the login form for the given backend database.
func NewLoginView(database string) *LoginView {
	lv := &LoginView{
		form:    tview.NewForm(),
		message: tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignCenter),
	}

	lv.form.
		AddInputField("Login", "", 40, nil, nil).
		AddPasswordField("Password", "", 40, '*', nil).
		AddButton("Log in", lv.submit)
	lv.form.SetBorder(true).SetTitle(fmt.Sprintf(" Log in — %s ", database))

	lv.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(lv.form, 0, 1, true).
		AddItem(lv.message, 1, 0, false)

	return lv
}

// SetOnSubmit sets the callback invoked with the entered credentials.
func (lv *LoginView) SetOnSubmit(fn func(login, password string)) {
	lv.onSubmit = fn
}

// ShowError displays a failure message under the form.
func (lv *LoginView) ShowError(msg string) {
	lv.message.Clear()
	_, _ = fmt.Fprintf(lv.message, "[red]%s[-]", msg)
}

// ShowMessage displays a neutral status message under the form.
func (lv *LoginView) ShowMessage(msg string) {
	lv.message.Clear()
	_, _ = fmt.Fprint(lv.message, msg)
}

// Form exposes the underlying form for focus handling.
func (lv *LoginView) Form() *tview.Form {
	return lv.form
}

func (lv *LoginView) submit() {
	if lv.onSubmit == nil {
		return
	}
	login := lv.form.GetFormItemByLabel("Login").(*tview.InputField).GetText()
	password := lv.form.GetFormItemByLabel("Password").(*tview.InputField).GetText()
	if login == "" || password == "" {
		lv.ShowError("login and password are required")
		return
	}
	lv.onSubmit(login, password)
}
