package views

import (
	"fmt"
	"time"

	"github.com/jonahfitia/mobile-app-mavis-chat/internal/chat"
	"github.com/rivo/tview"
)

// ConversationList is the roster table on the home page.
type ConversationList struct {
	*tview.Table
	conversations []chat.Conversation
	selectedFn    func() (int, int)
}

// NewConversationList creates the roster table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Conversations ")

	cl := &ConversationList{Table: table}
	cl.selectedFn = table.GetSelection
	return cl
}

// Update refreshes the table from a roster snapshot.
func (cl *ConversationList) Update(conversations []chat.Conversation) {
	cl.conversations = conversations
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, conv := range conversations {
		row := i + 1
		name := conv.Name
		if name == "" {
			name = conv.UUID
		}
		if conv.UnreadCount > 0 {
			name = fmt.Sprintf("* %s (%d)", name, conv.UnreadCount)
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+sanitizeForTerminal(name)).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+sanitizeForTerminal(conv.Text)).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTime(conv.Time)).SetMaxWidth(12))
	}
}

// Selected returns the highlighted conversation.
func (cl *ConversationList) Selected() (chat.Conversation, bool) {
	row, _ := cl.selectedFn()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.conversations) {
		return cl.conversations[idx], true
	}
	return chat.Conversation{}, false
}

// formatTime renders a backend timestamp for the viewer's timezone: clock
// time today, month/day otherwise, blank for the epoch placeholder.
func formatTime(s string) string {
	if s == "" || s == chat.EpochTime {
		return ""
	}
	t, ok := chat.ParseTime(s)
	if !ok {
		return s
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
