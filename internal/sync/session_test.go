package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonahfitia/mobile-app-mavis-chat/internal/bus"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/chat"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/odoo"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/rpc"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/status"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/store"
	"go.uber.org/zap"
)

type pollReply struct {
	res *odoo.PollResult
	err error
}

// fakeBackend feeds scripted poll replies to a session and records the
// cursor of every poll it receives.
type fakeBackend struct {
	mu         sync.Mutex
	history    []chat.Message
	historyErr error
	polls      chan pollReply
	cursors    []int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{polls: make(chan pollReply, 16)}
}

func (f *fakeBackend) ChatHistory(_ context.Context, _ string, _ int, _ int64) ([]chat.Message, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

func (f *fakeBackend) Poll(ctx context.Context, _ []string, last int64) (*odoo.PollResult, error) {
	f.mu.Lock()
	f.cursors = append(f.cursors, last)
	f.mu.Unlock()
	select {
	case r := <-f.polls:
		return r.res, r.err
	case <-ctx.Done():
		return nil, &rpc.Error{Kind: rpc.KindTransport, Path: "/longpolling/poll", Err: ctx.Err()}
	}
}

func (f *fakeBackend) BaseURL() string { return "https://chat.example" }

func (f *fakeBackend) seenCursors() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.cursors))
	copy(out, f.cursors)
	return out
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testOpts() Options {
	return Options{HistoryLimit: 50, PollTimeout: 5 * time.Second, Backoff: 20 * time.Millisecond}
}

func testSession(t *testing.T, api *fakeBackend) *Session {
	t.Helper()
	return NewSession(api, testDB(t), bus.New(), zap.NewNop(), "conv-uuid", 12, 7, testOpts())
}

func rawNotification(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func messagePayload(id int64, body, date string) map[string]any {
	return map[string]any{"id": id, "body": body, "date": date}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestOpenSeedsTimelineFromHistory(t *testing.T) {
	api := newFakeBackend()
	api.history = []chat.Message{
		{ID: "1", Text: "first", Time: "2024-05-01 10:00:00"},
		{ID: "2", Text: "second", Time: "2024-05-01 10:01:00"},
	}
	s := testSession(t, api)

	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	msgs, loading, errMsg := s.Snapshot()
	if loading {
		t.Error("loading = true after Open returned")
	}
	if errMsg != "" {
		t.Errorf("error = %q, want empty", errMsg)
	}
	if len(msgs) != 2 || msgs[0].ID != "1" || msgs[1].ID != "2" {
		t.Errorf("timeline = %+v", msgs)
	}
}

func TestOpenFailsWhenHistoryFails(t *testing.T) {
	api := newFakeBackend()
	api.historyErr = &rpc.Error{Kind: rpc.KindTransport, Path: "/mail/chat_history", Err: fmt.Errorf("boom")}
	s := testSession(t, api)

	if err := s.Open(context.Background()); err == nil {
		t.Fatal("expected error from Open")
	}
	if _, _, errMsg := s.Snapshot(); errMsg == "" {
		t.Error("error state not recorded")
	}
	// A failed Open leaves the session reopenable.
	api.historyErr = nil
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	s.Close()
}

func TestOpenTwiceRejected(t *testing.T) {
	api := newFakeBackend()
	s := testSession(t, api)

	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Open(context.Background()); err == nil {
		t.Error("second Open should fail")
	}
}

func TestCursorNeverRegresses(t *testing.T) {
	api := newFakeBackend()
	s := testSession(t, api)

	s.ingest(&odoo.PollResult{ID: 50, HasID: true})
	if got := s.Cursor(); got != 50 {
		t.Fatalf("cursor = %d, want 50", got)
	}

	// A lower envelope id must not move the cursor backwards.
	s.ingest(&odoo.PollResult{ID: 10, HasID: true})
	if got := s.Cursor(); got != 50 {
		t.Errorf("cursor = %d, want 50 after stale id", got)
	}

	// Per-notification ids advance it too.
	s.ingest(&odoo.PollResult{Notifications: []json.RawMessage{
		rawNotification(t, []any{"db/1/mail.channel", 77, messagePayload(500, "hi", "2024-05-01 10:00:00")}),
	}})
	if got := s.Cursor(); got != 77 {
		t.Errorf("cursor = %d, want 77", got)
	}
}

func TestIngestDeduplicatesById(t *testing.T) {
	api := newFakeBackend()
	s := testSession(t, api)

	n := rawNotification(t, map[string]any{
		"id":      5,
		"message": messagePayload(100, "<p>hello</p>", "2024-05-01 10:00:00"),
	})
	s.ingest(&odoo.PollResult{Notifications: []json.RawMessage{n, n}})

	msgs, _, _ := s.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 after duplicate delivery", len(msgs))
	}
	if msgs[0].Text != "hello" {
		t.Errorf("text = %q, want hello", msgs[0].Text)
	}
}

func TestIngestInsertsInTimeOrder(t *testing.T) {
	api := newFakeBackend()
	api.history = []chat.Message{
		{ID: "1", Text: "a", Time: "2024-05-01 10:00:00"},
		{ID: "3", Text: "c", Time: "2024-05-01 10:02:00"},
	}
	s := testSession(t, api)
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// Arrives late but belongs in the middle.
	s.ingest(&odoo.PollResult{Notifications: []json.RawMessage{
		rawNotification(t, map[string]any{"message": messagePayload(2, "b", "2024-05-01 10:01:00")}),
	}})

	msgs, _, _ := s.Snapshot()
	var got []string
	for _, m := range msgs {
		got = append(got, m.ID)
	}
	want := []string{"1", "2", "3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestIngestEqualTimesKeepArrivalOrder(t *testing.T) {
	api := newFakeBackend()
	s := testSession(t, api)

	same := "2024-05-01 10:00:00"
	s.ingest(&odoo.PollResult{Notifications: []json.RawMessage{
		rawNotification(t, map[string]any{"message": messagePayload(1, "first", same)}),
		rawNotification(t, map[string]any{"message": messagePayload(2, "second", same)}),
	}})

	msgs, _, _ := s.Snapshot()
	if len(msgs) != 2 || msgs[0].ID != "1" || msgs[1].ID != "2" {
		t.Errorf("equal-time order unstable: %+v", msgs)
	}
}

func TestIngestSkipsInfoEvents(t *testing.T) {
	api := newFakeBackend()
	s := testSession(t, api)

	s.ingest(&odoo.PollResult{Notifications: []json.RawMessage{
		rawNotification(t, map[string]any{"id": 9, "info": "typing_status"}),
	}})

	msgs, _, _ := s.Snapshot()
	if len(msgs) != 0 {
		t.Errorf("info event produced %d messages, want 0", len(msgs))
	}
	if got := s.Cursor(); got != 9 {
		t.Errorf("cursor = %d, want 9 (info events still advance it)", got)
	}
}

func TestPollLoopRetriesWithSameCursorAfterError(t *testing.T) {
	api := newFakeBackend()
	s := testSession(t, api)

	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	api.polls <- pollReply{res: &odoo.PollResult{ID: 30, HasID: true}}
	waitFor(t, func() bool { return s.Cursor() == 30 }, "cursor advance")

	api.polls <- pollReply{err: &rpc.Error{Kind: rpc.KindTransport, Path: "/longpolling/poll", Err: fmt.Errorf("conn reset")}}
	api.polls <- pollReply{res: &odoo.PollResult{}}
	waitFor(t, func() bool { return len(api.seenCursors()) >= 3 }, "retry poll")

	cursors := api.seenCursors()
	// cursors[1] carried 30 and failed; the retry must reuse it.
	if cursors[2] != 30 {
		t.Errorf("retry cursor = %d, want 30", cursors[2])
	}
	if got := s.Cursor(); got != 30 {
		t.Errorf("cursor = %d, want 30 (unchanged by failure)", got)
	}
}

func TestPollLoopEmptyResultIsNotAnError(t *testing.T) {
	api := newFakeBackend()
	s := testSession(t, api)

	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	api.polls <- pollReply{res: &odoo.PollResult{}}
	waitFor(t, func() bool { return len(api.seenCursors()) >= 2 }, "next poll after idle cycle")

	if _, _, errMsg := s.Snapshot(); errMsg != "" {
		t.Errorf("error = %q after idle cycle, want empty", errMsg)
	}
}

func TestPollLoopStopsOnAuthError(t *testing.T) {
	api := newFakeBackend()
	s := testSession(t, api)

	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	api.polls <- pollReply{err: &rpc.Error{Kind: rpc.KindAuth, Path: "/longpolling/poll", Err: fmt.Errorf("session expired")}}
	waitFor(t, func() bool {
		_, _, errMsg := s.Snapshot()
		return errMsg != ""
	}, "auth error surfaced")

	before := len(api.seenCursors())
	time.Sleep(100 * time.Millisecond)
	if after := len(api.seenCursors()); after != before {
		t.Errorf("loop kept polling after auth error: %d -> %d", before, after)
	}
}

// TestPollFailureDegradesStatusThenRecovers covers the transient-failure
// path: the status machine dips to DEGRADED, the session records no error,
// and the next successful poll restores READY.
func TestPollFailureDegradesStatusThenRecovers(t *testing.T) {
	api := newFakeBackend()
	m := status.NewMachine(nil)
	if err := m.Transition(status.Connecting); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(status.Ready); err != nil {
		t.Fatal(err)
	}

	opts := testOpts()
	opts.Status = m
	s := NewSession(api, testDB(t), bus.New(), zap.NewNop(), "conv-uuid", 12, 7, opts)

	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	api.polls <- pollReply{err: &rpc.Error{Kind: rpc.KindTransport, Path: "/longpolling/poll", Err: fmt.Errorf("conn reset")}}
	waitFor(t, func() bool { return m.Current() == status.Degraded }, "degraded status")

	if _, _, errMsg := s.Snapshot(); errMsg != "" {
		t.Errorf("error = %q after transient failure, want empty", errMsg)
	}

	api.polls <- pollReply{res: &odoo.PollResult{}}
	waitFor(t, func() bool { return m.Current() == status.Ready }, "recovered status")
}

// TestOpenWithoutChannelIsHistoryOnly: a conversation whose channel id was
// never resolved has no poll topic, so Open must not start the loop.
func TestOpenWithoutChannelIsHistoryOnly(t *testing.T) {
	api := newFakeBackend()
	api.history = []chat.Message{{ID: "1", Text: "a", Time: "2024-05-01 10:00:00"}}
	s := NewSession(api, testDB(t), bus.New(), zap.NewNop(), "conv-uuid", 0, 7, testOpts())

	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	time.Sleep(100 * time.Millisecond)
	if got := api.seenCursors(); len(got) != 0 {
		t.Errorf("poll loop ran without a channel id: cursors %v", got)
	}

	msgs, _, _ := s.Snapshot()
	if len(msgs) != 1 {
		t.Errorf("history not seeded: %+v", msgs)
	}
}

func TestCloseCancelsPollLoop(t *testing.T) {
	api := newFakeBackend()
	s := testSession(t, api)

	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(api.seenCursors()) >= 1 }, "first poll")
	s.Close()
	time.Sleep(50 * time.Millisecond)

	before := len(api.seenCursors())
	api.polls <- pollReply{res: &odoo.PollResult{ID: 99, HasID: true}}
	time.Sleep(100 * time.Millisecond)

	if got := s.Cursor(); got == 99 {
		t.Error("late response merged after Close")
	}
	// At most the in-flight poll drains the reply; no new poll starts.
	if after := len(api.seenCursors()); after > before {
		t.Errorf("loop kept polling after Close: %d -> %d", before, after)
	}
}

func TestSendAppendsPendingAndQueuesOutbox(t *testing.T) {
	api := newFakeBackend()
	db := testDB(t)
	s := NewSession(api, db, bus.New(), zap.NewNop(), "conv-uuid", 12, 7, testOpts())

	clientID, err := s.Send("hello there")
	if err != nil {
		t.Fatal(err)
	}

	msgs, _, _ := s.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if !msgs[0].Pending || !msgs[0].IsMine || msgs[0].ClientID != clientID {
		t.Errorf("pending message = %+v", msgs[0])
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != clientID || pending[0].ConvUUID != "conv-uuid" {
		t.Errorf("outbox = %+v", pending)
	}
}

// TestEchoReplacesPendingSend covers reconciliation: the server echoes the
// viewer's own message through the poll with a real id, which must replace
// the optimistic entry rather than duplicate it.
func TestEchoReplacesPendingSend(t *testing.T) {
	api := newFakeBackend()
	s := testSession(t, api)

	clientID, err := s.Send("ping")
	if err != nil {
		t.Fatal(err)
	}

	s.ingest(&odoo.PollResult{Notifications: []json.RawMessage{
		rawNotification(t, map[string]any{"message": map[string]any{
			"id":        601,
			"body":      "<p>ping</p>",
			"date":      "2024-05-01 10:00:00",
			"author_id": []any{7, "Me"},
		}}),
	}})

	msgs, _, _ := s.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (echo should replace pending)", len(msgs))
	}
	if msgs[0].Pending {
		t.Error("message still pending after echo")
	}
	if msgs[0].ID != "601" {
		t.Errorf("id = %q, want 601", msgs[0].ID)
	}
	if msgs[0].ClientID != clientID {
		t.Errorf("client id %q lost in reconciliation", msgs[0].ClientID)
	}
}

func TestSentAckConfirmsPendingEntry(t *testing.T) {
	api := newFakeBackend()
	b := bus.New()
	s := NewSession(api, testDB(t), b, zap.NewNop(), "conv-uuid", 12, 7, testOpts())

	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	clientID, err := s.Send("queued text")
	if err != nil {
		t.Fatal(err)
	}

	// Published straight after Open returns: the subscription Open made
	// must already be in place or this ack is lost.
	b.Publish(bus.Event{
		Kind:    "outbox.sent",
		Topic:   "conv-uuid",
		Payload: bus.Ack{ClientID: clientID, ConvUUID: "conv-uuid", ServerID: 845},
	})

	waitFor(t, func() bool {
		msgs, _, _ := s.Snapshot()
		return len(msgs) == 1 && !msgs[0].Pending
	}, "sent ack applied")

	msgs, _, _ := s.Snapshot()
	if msgs[0].ID != "845" {
		t.Errorf("id = %q, want 845", msgs[0].ID)
	}

	// The poll echo of the confirmed message is now a duplicate.
	s.ingest(&odoo.PollResult{Notifications: []json.RawMessage{
		rawNotification(t, map[string]any{"message": messagePayload(845, "queued text", "2024-05-01 10:00:00")}),
	}})
	msgs, _, _ = s.Snapshot()
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1 (echo after ack must dedup)", len(msgs))
	}
}

func TestFailedAckRemovesPendingEntry(t *testing.T) {
	api := newFakeBackend()
	b := bus.New()
	s := NewSession(api, testDB(t), b, zap.NewNop(), "conv-uuid", 12, 7, testOpts())

	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	clientID, err := s.Send("doomed")
	if err != nil {
		t.Fatal(err)
	}

	b.Publish(bus.Event{
		Kind:    "outbox.failed",
		Topic:   "conv-uuid",
		Payload: bus.Ack{ClientID: clientID, ConvUUID: "conv-uuid", Err: "server unreachable"},
	})

	waitFor(t, func() bool {
		msgs, _, _ := s.Snapshot()
		return len(msgs) == 0
	}, "failed ack applied")

	if _, _, errMsg := s.Snapshot(); errMsg == "" {
		t.Error("send failure not surfaced in error state")
	}
}

func TestAckForOtherConversationIgnored(t *testing.T) {
	api := newFakeBackend()
	b := bus.New()
	s := NewSession(api, testDB(t), b, zap.NewNop(), "conv-uuid", 12, 7, testOpts())

	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	clientID, err := s.Send("mine")
	if err != nil {
		t.Fatal(err)
	}

	b.Publish(bus.Event{
		Kind:    "outbox.failed",
		Topic:   "other-uuid",
		Payload: bus.Ack{ClientID: clientID, ConvUUID: "other-uuid", Err: "nope"},
	})

	time.Sleep(100 * time.Millisecond)
	msgs, _, _ := s.Snapshot()
	if len(msgs) != 1 || !msgs[0].Pending {
		t.Errorf("foreign ack touched the timeline: %+v", msgs)
	}
}
