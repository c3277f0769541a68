package outbox

import (
	"context"
	"time"

	"github.com/jonahfitia/mobile-app-mavis-chat/internal/bus"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/store"
	"go.uber.org/zap"
)

// Poster posts a text message to a conversation and returns the server
// message id.
type Poster interface {
	ChatPost(ctx context.Context, uuid string, content string) (int64, error)
}

// Sender drains the outbox and posts messages to the backend. Queued
// entries survive restarts; the conversation view shows them as pending
// until an outbox.sent ack arrives.
type Sender struct {
	db     *store.DB
	poster Poster
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, poster Poster, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:     db,
		poster: poster,
		bus:    b,
		logger: logger,
	}
}

// Start begins polling the outbox for pending messages. Entries left in
// 'sending' by a previous run are requeued first.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueStuckSending(); err != nil {
		s.logger.Error("failed to requeue stuck entries", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued stuck outbox entries", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		serverID, err := s.poster.ChatPost(ctx, entry.ConvUUID, entry.Body)
		if err != nil {
			s.logger.Error("failed to post message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			s.bus.Publish(bus.Event{
				Kind:  "outbox.failed",
				Topic: entry.ConvUUID,
				Payload: bus.Ack{
					ClientID: entry.ClientMsgID,
					ConvUUID: entry.ConvUUID,
					Err:      err.Error(),
				},
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, serverID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}

		s.logger.Info("message posted",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.Int64("server_msg_id", serverID))
		s.bus.Publish(bus.Event{
			Kind:  "outbox.sent",
			Topic: entry.ConvUUID,
			Payload: bus.Ack{
				ClientID: entry.ClientMsgID,
				ConvUUID: entry.ConvUUID,
				ServerID: serverID,
			},
		})
	}
}
