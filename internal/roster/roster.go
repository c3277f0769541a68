// Package roster maintains the sorted conversation list and the unread
// bookkeeping around opening a conversation.
package roster

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/jonahfitia/mobile-app-mavis-chat/internal/bus"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/chat"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/odoo"
	"go.uber.org/zap"
)

// API is the slice of the backend the synchronizer consumes.
type API interface {
	GetSessionInfo(ctx context.Context) (*odoo.SessionInfo, error)
	Discussions(ctx context.Context) ([]odoo.Discussion, error)
	ChatHistory(ctx context.Context, uuid string, limit int, partnerID int64) ([]chat.Message, error)
	ChannelSeen(ctx context.Context, channelID int64, uuid string, kind chat.Kind, lastMessageID int64) error
	CountUnread(ctx context.Context) ([]odoo.UnreadCount, error)
}

// Synchronizer owns the roster: a full aggregated fetch on Refresh, and a
// single-entry splice after a conversation is opened. All exported methods
// are safe for concurrent use.
type Synchronizer struct {
	api    API
	bus    *bus.Bus
	logger *zap.Logger

	mu        sync.Mutex
	roster    []chat.Conversation
	loading   bool
	lastErr   string
	partnerID int64
}

// New creates a roster synchronizer.
func New(api API, b *bus.Bus, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{api: api, bus: b, logger: logger}
}

// PartnerID returns the resolved viewer partner id, resolving it through
// the session endpoint on first use.
func (r *Synchronizer) PartnerID(ctx context.Context) (int64, error) {
	r.mu.Lock()
	id := r.partnerID
	r.mu.Unlock()
	if id != 0 {
		return id, nil
	}

	info, err := r.api.GetSessionInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve identity: %w", err)
	}
	r.mu.Lock()
	r.partnerID = info.PartnerID
	r.mu.Unlock()
	return info.PartnerID, nil
}

// Refresh replaces the whole roster from the aggregated backend call. The
// replacement is atomic: readers never observe a partially built list.
func (r *Synchronizer) Refresh(ctx context.Context) error {
	r.setLoading(true)
	defer r.setLoading(false)

	if _, err := r.PartnerID(ctx); err != nil {
		r.setErr(err.Error())
		return err
	}

	discussions, err := r.api.Discussions(ctx)
	if err != nil {
		r.setErr(err.Error())
		return fmt.Errorf("fetch roster: %w", err)
	}

	list := make([]chat.Conversation, 0, len(discussions))
	for _, d := range discussions {
		list = append(list, conversationOf(d))
	}
	sortRoster(list)

	r.mu.Lock()
	r.roster = list
	r.lastErr = ""
	r.mu.Unlock()

	r.bus.Publish(bus.Event{Kind: "roster.updated"})
	return nil
}

// Snapshot returns a copy of the roster plus the loading flag and the last
// error message.
func (r *Synchronizer) Snapshot() ([]chat.Conversation, bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chat.Conversation, len(r.roster))
	copy(out, r.roster)
	return out, r.loading, r.lastErr
}

// Get looks up one roster entry by uuid.
func (r *Synchronizer) Get(uuid string) (chat.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.roster {
		if c.UUID == uuid {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

// MarkOpened acknowledges the conversation as read and refreshes its roster
// entry. The seen call is best-effort: its failure never blocks opening.
func (r *Synchronizer) MarkOpened(ctx context.Context, uuid string, channelID int64, kind chat.Kind) {
	partnerID, err := r.PartnerID(ctx)
	if err != nil {
		r.logger.Warn("cannot resolve identity for seen ack", zap.Error(err))
		return
	}

	if lastID, ok := r.lastMessageID(ctx, uuid, partnerID); ok {
		if err := r.api.ChannelSeen(ctx, channelID, uuid, kind, lastID); err != nil {
			r.logger.Warn("seen ack failed",
				zap.String("uuid", uuid),
				zap.Int64("last_message_id", lastID),
				zap.Error(err))
		}
	}

	if err := r.RefreshOne(ctx, uuid, channelID, kind); err != nil {
		r.logger.Warn("roster entry refresh failed", zap.String("uuid", uuid), zap.Error(err))
	}
}

// lastMessageID fetches the newest message id of a conversation. Optimistic
// string ids never appear here; the backend only returns numeric ids.
func (r *Synchronizer) lastMessageID(ctx context.Context, uuid string, partnerID int64) (int64, bool) {
	msgs, err := r.api.ChatHistory(ctx, uuid, 1, partnerID)
	if err != nil || len(msgs) == 0 {
		if err != nil {
			r.logger.Warn("last message fetch failed", zap.String("uuid", uuid), zap.Error(err))
		}
		return 0, false
	}
	id, err := strconv.ParseInt(msgs[len(msgs)-1].ID, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// RefreshOne re-fetches a single conversation's unread count and last
// message and splices the updated entry into the roster, re-sorting.
// Notification groups have no per-channel history; their fresh state comes
// from the aggregated call instead.
func (r *Synchronizer) RefreshOne(ctx context.Context, uuid string, channelID int64, kind chat.Kind) error {
	current, found := r.Get(uuid)
	if !found {
		current = chat.Conversation{UUID: uuid, ChannelID: channelID, Kind: kind}
	}

	updated := current
	if kind == chat.KindNotification {
		discussions, err := r.api.Discussions(ctx)
		if err != nil {
			return fmt.Errorf("refresh notification group: %w", err)
		}
		for _, d := range discussions {
			if d.UUID == uuid {
				updated = conversationOf(d)
				break
			}
		}
	} else {
		partnerID, err := r.PartnerID(ctx)
		if err != nil {
			return err
		}
		msgs, err := r.api.ChatHistory(ctx, uuid, 1, partnerID)
		if err != nil {
			return fmt.Errorf("refresh last message: %w", err)
		}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			updated.Text = DisplayText(kind, last.Text, last.Author, last.IsMine)
			updated.Time = last.Time
		}

		counts, err := r.api.CountUnread(ctx)
		if err != nil {
			return fmt.Errorf("refresh unread count: %w", err)
		}
		updated.UnreadCount = 0
		for _, c := range counts {
			if c.UUID == uuid {
				updated.UnreadCount = c.UnreadCount
				break
			}
		}
	}

	r.mu.Lock()
	spliced := false
	for i := range r.roster {
		if r.roster[i].UUID == uuid {
			r.roster[i] = updated
			spliced = true
			break
		}
	}
	if !spliced {
		r.roster = append(r.roster, updated)
	}
	sortRoster(r.roster)
	r.mu.Unlock()

	r.bus.Publish(bus.Event{Kind: "roster.updated"})
	return nil
}

// DisplayText renders a last-message preview. Non-chat kinds always carry
// the author marker; direct chats only mark the viewer's own messages;
// notification groups show the text bare. The "⤻ Vous : " marker is the
// backend's French locale convention for the viewer's own messages, kept
// verbatim so previews match its web client.
func DisplayText(kind chat.Kind, text, author string, isMine bool) string {
	if text == "" {
		text = "No messages"
	}
	if kind == chat.KindNotification {
		return text
	}
	if isMine {
		return "⤻ Vous : " + text
	}
	if kind != chat.KindChat {
		if author == "" {
			author = "Unknown"
		}
		return "⤻ " + author + " : " + text
	}
	return text
}

// conversationOf maps an aggregated roster entry to the domain type.
func conversationOf(d odoo.Discussion) chat.Conversation {
	t := d.Time
	if t == "" {
		t = chat.EpochTime
	}
	text := d.Text
	if d.ConversationType != string(chat.KindNotification) {
		text = odoo.StripHTML(text)
	}
	return chat.Conversation{
		UUID:        d.UUID,
		ChannelID:   d.ChannelID,
		Kind:        kindOf(d.ConversationType),
		Name:        d.Name,
		Email:       d.Email,
		Text:        text,
		Time:        t,
		UnreadCount: d.UnreadCount,
	}
}

func kindOf(conversationType string) chat.Kind {
	switch conversationType {
	case "chat":
		return chat.KindChat
	case "group":
		return chat.KindGroup
	case "notification":
		return chat.KindNotification
	default:
		return chat.KindChannel
	}
}

// sortRoster orders newest first; ties keep their relative order.
func sortRoster(list []chat.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		return chat.Before(list[j].Time, list[i].Time)
	})
}

func (r *Synchronizer) setLoading(v bool) {
	r.mu.Lock()
	r.loading = v
	r.mu.Unlock()
}

func (r *Synchronizer) setErr(msg string) {
	r.mu.Lock()
	r.lastErr = msg
	r.mu.Unlock()
}
