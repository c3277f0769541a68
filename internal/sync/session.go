// Package sync keeps one conversation's timeline current: an initial
// history fetch followed by a long-poll loop that folds notifications into
// an ordered, deduplicated timeline.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/bus"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/chat"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/odoo"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/rpc"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/status"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/store"
	"go.uber.org/zap"
)

// Backend is the slice of the API a session consumes.
type Backend interface {
	ChatHistory(ctx context.Context, uuid string, limit int, partnerID int64) ([]chat.Message, error)
	Poll(ctx context.Context, channels []string, last int64) (*odoo.PollResult, error)
	BaseURL() string
}

// Options tune a session's fetch and poll behavior.
type Options struct {
	HistoryLimit int
	// PollTimeout bounds each poll request client-side. It must exceed the
	// server's hold time or every idle cycle looks like a failure.
	PollTimeout time.Duration
	// Backoff is the fixed wait before retrying after a failed poll.
	Backoff time.Duration
	// Status, when set, tracks poll health: a transient failure moves it
	// to Degraded and the next successful poll moves it back to Ready.
	Status *status.Machine
}

// Session synchronizes a single open conversation. Open fetches history and
// starts the poll loop; Close cancels it. All exported methods are safe for
// concurrent use.
type Session struct {
	api    Backend
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	uuid      string
	channelID int64
	partnerID int64
	opts      Options

	mu       sync.Mutex
	timeline []chat.Message
	seen     map[string]bool
	cursor   int64
	loading  bool
	lastErr  string
	opened   bool

	cancel context.CancelFunc
}

// NewSession creates a session for one conversation. channelID names the
// poll topic; partnerID identifies the viewer's own messages.
func NewSession(api Backend, db *store.DB, b *bus.Bus, logger *zap.Logger, convUUID string, channelID, partnerID int64, opts Options) *Session {
	return &Session{
		api:       api,
		db:        db,
		bus:       b,
		logger:    logger,
		uuid:      convUUID,
		channelID: channelID,
		partnerID: partnerID,
		opts:      opts,
		seen:      make(map[string]bool),
	}
}

// Open fetches the conversation history and starts the poll loop. It is an
// error to open a session twice. On a failed history fetch the loop is not
// started and the error is returned for the caller to surface. A session
// with no resolved channel id stays history-only: there is no poll topic to
// listen on.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.opened {
		s.mu.Unlock()
		return fmt.Errorf("session already open")
	}
	s.opened = true
	s.loading = true
	s.mu.Unlock()

	history, err := s.api.ChatHistory(ctx, s.uuid, s.opts.HistoryLimit, s.partnerID)
	if err != nil {
		s.mu.Lock()
		s.loading = false
		s.opened = false
		s.lastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("history fetch: %w", err)
	}

	s.mu.Lock()
	s.timeline = history
	for _, m := range history {
		s.seen[m.ID] = true
	}
	s.loading = false
	s.lastErr = ""
	s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)
	// Subscribe before returning so an ack published right after Open
	// cannot slip past the loop goroutine.
	sub := s.bus.Subscribe("outbox.", 64)
	if s.channelID != 0 {
		go s.pollLoop(ctx)
	}
	go s.ackLoop(ctx, sub)
	return nil
}

// Close stops the poll loop. Safe to call more than once.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Snapshot returns a copy of the timeline plus the loading flag and the
// last error message, empty when healthy.
func (s *Session) Snapshot() ([]chat.Message, bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.timeline))
	copy(out, s.timeline)
	return out, s.loading, s.lastErr
}

// Cursor reports the current poll cursor.
func (s *Session) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Send appends an optimistic pending message and queues it on the durable
// outbox. The returned client id identifies the pending entry until the
// server echo replaces it.
func (s *Session) Send(text string) (string, error) {
	clientID := uuid.NewString()
	msg := chat.Message{
		ID:       clientID,
		ClientID: clientID,
		Text:     text,
		Time:     time.Now().UTC().Format("2006-01-02 15:04:05"),
		IsMine:   true,
		Pending:  true,
	}

	if err := s.db.QueueOutbox(clientID, s.uuid, text); err != nil {
		return "", fmt.Errorf("queue outbox: %w", err)
	}

	s.mu.Lock()
	s.timeline = append(s.timeline, msg)
	s.seen[clientID] = true
	s.mu.Unlock()

	s.publishMessage(&msg)
	return clientID, nil
}

// pollLoop is the only goroutine that issues polls, which makes the
// at-most-one-in-flight guarantee structural. The cursor only ever moves
// forward; a failed cycle retries with the cursor it had. Transient
// failures are a retry, not an error: they show up only as the Degraded
// status until a poll succeeds again.
func (s *Session) pollLoop(ctx context.Context) {
	channels := []string{odoo.PollChannel(s.channelID)}
	degraded := false

	for {
		if ctx.Err() != nil {
			return
		}

		pctx, cancel := context.WithTimeout(ctx, s.opts.PollTimeout)
		res, err := s.api.Poll(pctx, channels, s.Cursor())
		cancel()

		// A response that raced the cancellation is discarded, not merged.
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			if rpc.IsAuth(err) {
				s.setErr(err.Error())
				s.bus.Publish(bus.Event{Kind: "conv.error", Topic: s.uuid, Payload: err.Error()})
				s.logger.Warn("poll rejected, stopping session", zap.String("uuid", s.uuid), zap.Error(err))
				return
			}
			degraded = true
			if s.opts.Status != nil {
				_ = s.opts.Status.Transition(status.Degraded)
			}
			s.logger.Debug("poll failed, backing off",
				zap.String("uuid", s.uuid),
				zap.Duration("backoff", s.opts.Backoff),
				zap.Error(err))
			select {
			case <-time.After(s.opts.Backoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		if degraded {
			degraded = false
			if s.opts.Status != nil {
				_ = s.opts.Status.Transition(status.Ready)
			}
		}
		s.ingest(res)
	}
}

// ingest advances the cursor and merges the poll response's messages.
func (s *Session) ingest(res *odoo.PollResult) {
	s.mu.Lock()
	if res.HasID && res.ID > s.cursor {
		s.cursor = res.ID
	}
	s.mu.Unlock()

	for _, raw := range res.Notifications {
		s.ingestOne(raw)
	}
}

func (s *Session) ingestOne(raw json.RawMessage) {
	p := odoo.ParseNotification(raw, s.partnerID, s.api.BaseURL())

	s.mu.Lock()
	if p.HasCursor && p.Cursor > s.cursor {
		s.cursor = p.Cursor
	}
	if p.Message == nil {
		s.mu.Unlock()
		return
	}
	changed := s.mergeLocked(*p.Message)
	s.mu.Unlock()

	if changed {
		s.publishMessage(p.Message)
	}
}

// mergeLocked folds one message into the timeline: duplicates are dropped,
// an echo of the viewer's own pending send replaces the pending entry, and
// everything else is inserted in time order, after equal times. Caller
// holds mu.
func (s *Session) mergeLocked(msg chat.Message) bool {
	if s.seen[msg.ID] {
		return false
	}
	s.seen[msg.ID] = true

	if msg.IsMine && !msg.Pending {
		for i := range s.timeline {
			if s.timeline[i].Pending && s.timeline[i].Text == msg.Text {
				msg.ClientID = s.timeline[i].ClientID
				s.timeline[i] = msg
				return true
			}
		}
	}

	idx := len(s.timeline)
	for idx > 0 && chat.Before(msg.Time, s.timeline[idx-1].Time) {
		idx--
	}
	s.timeline = append(s.timeline, chat.Message{})
	copy(s.timeline[idx+1:], s.timeline[idx:])
	s.timeline[idx] = msg
	return true
}

// ackLoop applies outbox acknowledgments addressed to this conversation.
// The subscription is created by Open so no ack can precede the loop.
func (s *Session) ackLoop(ctx context.Context, sub *bus.Subscription) {
	defer sub.Cancel()

	for {
		select {
		case evt := <-sub.C:
			if evt.Topic != s.uuid {
				continue
			}
			ack, ok := evt.Payload.(bus.Ack)
			if !ok {
				continue
			}
			s.applyAck(evt.Kind, ack)
		case <-ctx.Done():
			return
		}
	}
}

// applyAck resolves a pending entry. A sent ack confirms it under the
// server id so the later poll echo dedups; a failed ack removes it and
// records the error.
func (s *Session) applyAck(kind string, ack bus.Ack) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.timeline {
		if s.timeline[i].ClientID != ack.ClientID || !s.timeline[i].Pending {
			continue
		}
		switch kind {
		case "outbox.sent":
			serverID := fmt.Sprintf("%d", ack.ServerID)
			s.timeline[i].ID = serverID
			s.timeline[i].Pending = false
			s.seen[serverID] = true
		case "outbox.failed":
			s.timeline = append(s.timeline[:i], s.timeline[i+1:]...)
			s.lastErr = "send failed: " + ack.Err
		}
		return
	}
}

func (s *Session) setErr(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

func (s *Session) publishMessage(msg *chat.Message) {
	s.bus.Publish(bus.Event{Kind: "conv.message", Topic: s.uuid, Payload: msg})
}
