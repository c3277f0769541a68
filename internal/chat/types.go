package chat

import "time"

// Kind classifies a conversation.
type Kind string

const (
	KindChat         Kind = "chat"
	KindChannel      Kind = "channel"
	KindGroup        Kind = "group"
	KindNotification Kind = "notification"
)

// Conversation is one roster entry: a chat, channel, group or
// notification-group the viewer belongs to.
type Conversation struct {
	UUID        string
	ChannelID   int64
	Kind        Kind
	Name        string
	Email       string
	Text        string // last-message preview, author-prefixed for non-DM kinds
	Time        string // ISO-8601 UTC; EpochTime when no message exists
	UnreadCount int
}

// Message is a single timeline entry. ID is the server id rendered in
// decimal for delivered messages; optimistic messages carry only ClientID
// until the confirmed copy arrives.
type Message struct {
	ID          string
	ClientID    string
	Text        string
	Time        string // ISO-8601 UTC, order-compared as an instant
	IsMine      bool
	Author      string
	Pending     bool
	Attachments []Attachment
}

// Attachment is a normalized file reference on a message.
type Attachment struct {
	ID       int64
	URL      string
	Name     string
	Filename string
	Mimetype string
}

// EpochTime is the placeholder timestamp for conversations with no messages.
// It sorts last under the time-descending roster order.
const EpochTime = "1970-01-01T00:00:00"

// timeLayouts covers the timestamp formats the backend emits: bare
// "2006-01-02 15:04:05" from the ORM and RFC3339 variants from the bus.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTime interprets a backend timestamp as a UTC instant. Zero time and
// false when the value matches no known layout.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Before reports whether instant a is strictly earlier than b. Unparsable
// values fall back to lexicographic comparison, which matches instant order
// for well-formed ISO-8601 strings in the same zone.
func Before(a, b string) bool {
	ta, oka := ParseTime(a)
	tb, okb := ParseTime(b)
	if oka && okb {
		return ta.Before(tb)
	}
	return a < b
}
