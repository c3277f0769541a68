// Package app composes the client: transport, backend bindings, the
// synchronizers and the durable send path, behind one Core consumed by the
// TUI and the ctl commands.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonahfitia/mobile-app-mavis-chat/internal/bus"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/chat"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/config"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/odoo"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/roster"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/rpc"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/session"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/status"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/store"
	intsync "github.com/jonahfitia/mobile-app-mavis-chat/internal/sync"
	"go.uber.org/zap"
)

// Core aggregates the client's long-lived pieces for the presentation
// layers.
type Core struct {
	Profile string
	Config  *config.Config
	Logger  *zap.Logger
	Bus     *bus.Bus
	Machine *status.Machine
	Backend *odoo.Client
	Roster  *roster.Synchronizer
	Store   *store.DB
}

// Restore adopts the persisted identity for the profile: binds its session
// token to the transport, caches the partner id and refreshes last_seen.
// session.ErrNotLoggedIn and session.ErrSessionExpired mean a login is
// needed.
func (c *Core) Restore(ctx context.Context) (*session.User, error) {
	u, err := session.LoadUser(c.Profile)
	if err != nil {
		return nil, err
	}
	c.Backend.Transport().SetSession(u.SessionID)

	if u.PartnerID == 0 {
		info, err := c.Backend.GetSessionInfo(ctx)
		if err != nil {
			c.Backend.Transport().ClearSession()
			return nil, fmt.Errorf("stored session rejected: %w", err)
		}
		u.PartnerID = info.PartnerID
	}

	if err := session.SaveUser(c.Profile, u); err != nil {
		c.Logger.Warn("failed to refresh stored identity", zap.Error(err))
	}
	c.Logger.Info("session restored", zap.Int64("uid", u.UID), zap.String("name", u.Name))
	return u, nil
}

// Login authenticates against the configured database, binds the issued
// token and persists the identity.
func (c *Core) Login(ctx context.Context, login, password string) (*session.User, error) {
	res, token, err := c.Backend.Authenticate(ctx, c.Config.Database, login, password)
	if err != nil {
		return nil, err
	}
	c.Backend.Transport().SetSession(token)

	u := &session.User{
		UID:       res.UID,
		Name:      res.Name,
		SessionID: token,
		Context:   res.Context,
	}
	if info, err := c.Backend.GetSessionInfo(ctx); err == nil {
		u.PartnerID = info.PartnerID
	} else {
		c.Logger.Warn("partner resolution failed after login", zap.Error(err))
	}

	if err := session.SaveUser(c.Profile, u); err != nil {
		return nil, fmt.Errorf("persist identity: %w", err)
	}
	c.Logger.Info("logged in", zap.Int64("uid", u.UID), zap.String("name", u.Name))
	return u, nil
}

// Logout drops the persisted identity and unbinds the transport.
func (c *Core) Logout() error {
	c.Backend.Transport().ClearSession()
	if err := session.ClearUser(c.Profile); err != nil {
		return err
	}
	c.Logger.Info("logged out", zap.String("profile", c.Profile))
	return nil
}

// Touch refreshes the stored identity's last_seen on user activity.
func (c *Core) Touch() {
	if err := session.TouchUser(c.Profile); err != nil {
		c.Logger.Warn("failed to touch stored identity", zap.Error(err))
	}
}

// OpenConversation builds a message session for one conversation using the
// configured fetch and poll tuning. The caller owns its lifecycle.
func (c *Core) OpenConversation(ctx context.Context, conv chat.Conversation) (*intsync.Session, error) {
	partnerID, err := c.Roster.PartnerID(ctx)
	if err != nil {
		return nil, err
	}
	s := intsync.NewSession(c.Backend, c.Store, c.Bus, c.Logger, conv.UUID, conv.ChannelID, partnerID, intsync.Options{
		HistoryLimit: c.Config.HistoryLimit,
		PollTimeout:  c.Config.PollTimeout(),
		Backoff:      c.Config.PollBackoff(),
		Status:       c.Machine,
	})
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// IsAuthError reports whether err means the viewer must log in again,
// whether from the backend or from the local identity store.
func IsAuthError(err error) bool {
	if errors.Is(err, session.ErrNotLoggedIn) || errors.Is(err, session.ErrSessionExpired) {
		return true
	}
	return rpc.IsAuth(err)
}
