package odoo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonahfitia/mobile-app-mavis-chat/internal/chat"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(rpc.New(srv.URL, nil), nil)
}

func TestChatHistorySortsAscending(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Unsorted on purpose: newest first, as the backend returns them.
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":null,"result":[
			{"id": 3, "body": "third", "author_id": [6, "Bob"], "date": "2025-03-01 10:02:00"},
			{"id": 1, "body": "first", "author_id": [5, "Alice"], "date": "2025-03-01 10:00:00"},
			{"id": 2, "body": "second", "author_id": [6, "Bob"], "date": "2025-03-01 10:01:00"}
		]}`))
	})

	msgs, err := c.ChatHistory(context.Background(), "u1", 50, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.True(t, msgs[0].IsMine)
	assert.False(t, msgs[1].IsMine)
}

func TestChatHistorySkipsMalformedEntries(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":null,"result":[
			{"body": "no id here"},
			{"id": 7, "body": "kept", "author_id": [5, "Alice"], "date": "2025-03-01 10:00:00"}
		]}`))
	})

	msgs, err := c.ChatHistory(context.Background(), "u1", 50, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "7", msgs[0].ID)
}

func TestPollReadsEnvelopeCursor(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":57,"result":[{"id":57,"message":{"id":900,"body":"x"}}]}`))
	})

	res, err := c.Poll(context.Background(), []string{"mail.channel_8"}, 0)
	require.NoError(t, err)
	assert.True(t, res.HasID)
	assert.Equal(t, int64(57), res.ID)
	assert.Len(t, res.Notifications, 1)
}

func TestPollEmptyResultIsNotAnError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":null,"result":[]}`))
	})

	res, err := c.Poll(context.Background(), []string{"mail.channel_8"}, 12)
	require.NoError(t, err)
	assert.False(t, res.HasID)
	assert.Empty(t, res.Notifications)
}

func TestChannelSeenAddressing(t *testing.T) {
	var got map[string]any
	handler := func(w http.ResponseWriter, r *http.Request) {
		var env struct {
			Params map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		got = env.Params
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":null,"result":true}`))
	}

	c := testClient(t, handler)
	require.NoError(t, c.ChannelSeen(context.Background(), 8, "uuid-1", chat.KindChannel, 900))
	assert.Equal(t, float64(8), got["channel_id"])
	assert.Nil(t, got["uuid"])

	require.NoError(t, c.ChannelSeen(context.Background(), 0, "group_weather", chat.KindNotification, 901))
	assert.Nil(t, got["channel_id"])
	assert.Equal(t, "group_weather", got["uuid"])
}

func TestAuthenticateRejectsMissingUID(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":null,"result":{"uid":false}}`))
	})

	_, _, err := c.Authenticate(context.Background(), "db", "user", "bad-password")
	require.Error(t, err)
	assert.True(t, rpc.IsAuth(err))
}

func TestGetSessionInfoRequiresPartner(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":null,"result":{"uid":2,"name":"Admin"}}`))
	})

	_, err := c.GetSessionInfo(context.Background())
	require.Error(t, err)
	assert.Equal(t, rpc.KindMalformed, rpc.KindOf(err))
}

func TestPollChannel(t *testing.T) {
	assert.Equal(t, "mail.channel_8", PollChannel(8))
}
