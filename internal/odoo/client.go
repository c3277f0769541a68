// Package odoo binds the backend's JSON-RPC mail and session endpoints and
// normalizes their payloads into domain types.
package odoo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jonahfitia/mobile-app-mavis-chat/internal/chat"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/rpc"
	"go.uber.org/zap"
)

// Endpoint paths are fixed by the backend.
const (
	pathAuthenticate = "/web/session/authenticate"
	pathSessionInfo  = "/web/session/get_session_info"
	pathDiscussions  = "/mail/discussions/all"
	pathChatHistory  = "/mail/chat_history"
	pathChatPost     = "/mail/chat_post"
	pathPoll         = "/longpolling/poll"
	pathChannelSeen  = "/mail/channel/seen"
	pathCountUnread  = "/mail/count_messaging_unread"
)

// Client wraps the generic RPC transport with typed endpoint bindings.
type Client struct {
	rpc    *rpc.Client
	logger *zap.Logger
}

// NewClient creates backend bindings over the given transport.
func NewClient(t *rpc.Client, logger *zap.Logger) *Client {
	return &Client{rpc: t, logger: logger}
}

// Transport returns the underlying RPC client.
func (c *Client) Transport() *rpc.Client {
	return c.rpc
}

// BaseURL reports the server base URL, used to synthesize attachment
// download links.
func (c *Client) BaseURL() string {
	return c.rpc.BaseURL()
}

// AuthResult is the interesting slice of the authenticate response.
type AuthResult struct {
	UID     int64
	Name    string
	Context map[string]any
}

// Authenticate logs in against the named database and returns the session
// token issued via the session_id cookie. The token is NOT bound to the
// transport automatically; the caller decides when to adopt it.
func (c *Client) Authenticate(ctx context.Context, db, login, password string) (*AuthResult, string, error) {
	// uid is false, not absent, on rejected credentials.
	var raw struct {
		UID     any            `json:"uid"`
		Name    string         `json:"name"`
		Context map[string]any `json:"user_context"`
	}
	token, err := c.rpc.CallForCookie(ctx, pathAuthenticate, map[string]any{
		"db":       db,
		"login":    login,
		"password": password,
	}, &raw)
	if err != nil {
		return nil, "", err
	}
	uid, ok := raw.UID.(float64)
	if !ok || uid == 0 {
		return nil, "", &rpc.Error{Kind: rpc.KindAuth, Path: pathAuthenticate, Err: fmt.Errorf("invalid credentials")}
	}
	return &AuthResult{UID: int64(uid), Name: raw.Name, Context: raw.Context}, token, nil
}

// SessionInfo is the slice of get_session_info the client consumes.
type SessionInfo struct {
	UID       int64  `json:"uid"`
	Name      string `json:"name"`
	PartnerID int64  `json:"partner_id"`
}

// GetSessionInfo resolves the viewer identity for the bound session.
func (c *Client) GetSessionInfo(ctx context.Context) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.rpc.Call(ctx, pathSessionInfo, nil, &info); err != nil {
		return nil, err
	}
	if info.PartnerID == 0 {
		return nil, &rpc.Error{Kind: rpc.KindMalformed, Path: pathSessionInfo, Err: fmt.Errorf("no partner_id in response")}
	}
	return &info, nil
}

// Discussion is one aggregated roster entry as the backend reports it.
type Discussion struct {
	UUID             string `json:"uuid"`
	Name             string `json:"name"`
	ConversationType string `json:"conversation_type"`
	Email            string `json:"email"`
	Text             string `json:"text"`
	Time             string `json:"time"`
	ChannelID        int64  `json:"channelId"`
	UnreadCount      int    `json:"unreadCount"`
}

// Discussions fetches every conversation the viewer belongs to in one call.
func (c *Client) Discussions(ctx context.Context) ([]Discussion, error) {
	var out []Discussion
	if err := c.rpc.Call(ctx, pathDiscussions, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChatHistory fetches the most recent limit messages of one conversation,
// normalized and sorted ascending by time. The backend returns them in no
// guaranteed order.
func (c *Client) ChatHistory(ctx context.Context, uuid string, limit int, partnerID int64) ([]chat.Message, error) {
	var raw []json.RawMessage
	if err := c.rpc.Call(ctx, pathChatHistory, map[string]any{
		"uuid":  uuid,
		"limit": limit,
	}, &raw); err != nil {
		return nil, err
	}

	msgs := make([]chat.Message, 0, len(raw))
	for _, entry := range raw {
		var obj map[string]any
		if err := json.Unmarshal(entry, &obj); err != nil {
			if c.logger != nil {
				c.logger.Warn("skipping undecodable history entry", zap.Error(err))
			}
			continue
		}
		if msg, ok := buildMessage(obj, partnerID, c.rpc.BaseURL()); ok {
			msgs = append(msgs, msg)
		}
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return chat.Before(msgs[i].Time, msgs[j].Time)
	})
	return msgs, nil
}

// ChatPost sends message content to a conversation and returns the posted
// message id as the backend reports it.
func (c *Client) ChatPost(ctx context.Context, uuid, content string) (int64, error) {
	var id int64
	if err := c.rpc.Call(ctx, pathChatPost, map[string]any{
		"uuid":            uuid,
		"message_content": content,
	}, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// PollResult is one decoded long-poll response: the optional envelope-level
// cursor plus the raw notification list, left raw because notification
// shapes vary (see parser.go).
type PollResult struct {
	ID            int64
	HasID         bool
	Notifications []json.RawMessage
}

// Poll blocks server-side until the subscribed channels have news or the
// hold timeout elapses. An empty notification list is a normal idle cycle.
// The caller owns the deadline on ctx; it must exceed the server hold time.
func (c *Client) Poll(ctx context.Context, channels []string, last int64) (*PollResult, error) {
	raw, err := c.rpc.CallRaw(ctx, pathPoll, map[string]any{
		"channels": channels,
		"last":     last,
		"options":  map[string]any{},
	})
	if err != nil {
		return nil, err
	}

	// The cursor, when present, rides on the envelope id member rather than
	// inside result.
	var env struct {
		ID *int64 `json:"id"`
	}
	_ = json.Unmarshal(raw.Body, &env)

	res := &PollResult{}
	if env.ID != nil {
		res.ID = *env.ID
		res.HasID = true
	}
	if len(raw.Result) > 0 {
		if err := json.Unmarshal(raw.Result, &res.Notifications); err != nil {
			return nil, &rpc.Error{Kind: rpc.KindMalformed, Path: pathPoll, Err: err}
		}
	}
	return res, nil
}

// ChannelSeen acknowledges that the viewer has read up to lastMessageID.
// Notification groups are addressed by uuid, everything else by channel id;
// the two modes are mutually exclusive.
func (c *Client) ChannelSeen(ctx context.Context, channelID int64, uuid string, kind chat.Kind, lastMessageID int64) error {
	params := map[string]any{
		"last_message_id": lastMessageID,
	}
	if kind == chat.KindNotification {
		params["channel_id"] = nil
		params["uuid"] = uuid
	} else {
		params["channel_id"] = channelID
		params["uuid"] = nil
	}
	return c.rpc.Call(ctx, pathChannelSeen, params, nil)
}

// UnreadCount is one entry of the per-conversation unread snapshot.
type UnreadCount struct {
	UUID        string `json:"uuid"`
	UnreadCount int    `json:"unread_count"`
}

// CountUnread fetches unread counts for all of the viewer's conversations.
func (c *Client) CountUnread(ctx context.Context) ([]UnreadCount, error) {
	var out []UnreadCount
	if err := c.rpc.Call(ctx, pathCountUnread, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PollChannel builds the long-poll topic name for a channel id.
func PollChannel(channelID int64) string {
	return fmt.Sprintf("mail.channel_%d", channelID)
}
