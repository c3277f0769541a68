package views

import (
	"fmt"

	"github.com/jonahfitia/mobile-app-mavis-chat/internal/chat"
	"github.com/rivo/tview"
)

// MessageThread displays the timeline of the open conversation.
type MessageThread struct {
	*tview.TextView
}

// NewMessageThread creates the timeline view.
func NewMessageThread() *MessageThread {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageThread{TextView: tv}
}

// SetConversationName updates the title.
func (mt *MessageThread) SetConversationName(name string) {
	mt.SetTitle(fmt.Sprintf(" %s ", sanitizeForTerminal(name)))
}

// Update renders a timeline snapshot, oldest first.
func (mt *MessageThread) Update(msgs []chat.Message) {
	mt.Clear()

	for _, m := range msgs {
		sender := m.Author
		if m.IsMine {
			sender = "You"
		}
		if sender == "" {
			sender = "Unknown"
		}

		marker := ""
		if m.Pending {
			marker = " [::d](sending…)[-:-:-]"
		}

		_, _ = fmt.Fprintf(mt, "[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n%s\n",
			sanitizeForTerminal(sender), formatTime(m.Time), marker, sanitizeForTerminal(m.Text))
		for _, att := range m.Attachments {
			_, _ = fmt.Fprintf(mt, "  [::d]↳ %s %s[-:-:-]\n", sanitizeForTerminal(att.Name), att.URL)
		}
		_, _ = fmt.Fprint(mt, "\n")
	}

	mt.ScrollToEnd()
}
