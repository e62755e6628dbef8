package session

import (
	"context"
	"strings"

	"github.com/roach88/listsync/internal/model"
	"github.com/roach88/listsync/internal/wire"
)

// JoinRequest identifies a connection entering the room.
type JoinRequest struct {
	UserID   string
	UserName string
	ClientID string
}

// JoinResult is the persisted list plus the live roster.
type JoinResult struct {
	State        model.ListState
	Participants []model.Participant
}

// Join authorizes the user and registers the connection as a participant.
// Fails with model.KindAccessDenied for non-members and model.KindUnknownList
// for lists that cannot be loaded. Rejoining with the same client id replaces
// the earlier registration.
func (c *Coordinator) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.UserID == "" || req.ClientID == "" {
		return JoinResult{}, model.NewError(model.KindAccessDenied, "userId and clientId are required").For(c.listID, "")
	}
	resp, err := c.call(ctx, request{kind: requestJoin, join: req})
	if err != nil {
		return JoinResult{}, err
	}
	return resp.join, nil
}

// Leave removes every connection of userID from the room.
func (c *Coordinator) Leave(ctx context.Context, userID string) error {
	_, err := c.call(ctx, request{kind: requestLeave, user: userID})
	return err
}

// Disconnect removes one connection from the room.
func (c *Coordinator) Disconnect(ctx context.Context, clientID string) error {
	_, err := c.call(ctx, request{kind: requestDisconnect, user: clientID})
	return err
}

// Typing relays a typing indicator from clientID to the rest of the room.
func (c *Coordinator) Typing(clientID string, isTyping bool, field string) error {
	p, ok := c.participant(clientID)
	if !ok {
		return c.notJoined(clientID)
	}
	c.publish(wire.EventUserTyping, wire.UserTyping{
		ListID:   c.listID,
		UserID:   p.UserID,
		UserName: p.UserName,
		IsTyping: isTyping,
		Field:    field,
	}, clientID)
	return nil
}

// Cursor relays a cursor position from clientID to the rest of the room.
func (c *Coordinator) Cursor(clientID string, cur wire.CursorUpdate) error {
	p, ok := c.participant(clientID)
	if !ok {
		return c.notJoined(clientID)
	}
	cur.ListID = c.listID
	cur.UserID = p.UserID
	cur.UserName = p.UserName
	c.publish(wire.EventCursorUpdate, cur, clientID)
	return nil
}

func (c *Coordinator) notJoined(clientID string) error {
	return model.NewError(model.KindAccessDenied, "client %q has not joined", clientID).For(c.listID, "")
}

// handleJoin runs in the Run loop.
func (c *Coordinator) handleJoin(req JoinRequest) (JoinResult, error) {
	ctx, cancel := c.ioContext()
	defer cancel()

	ok, err := c.store.IsMember(ctx, c.listID, req.UserID)
	if err != nil {
		return JoinResult{}, persistenceError(c.listID, "", err)
	}
	if !ok {
		c.logger.Info("join denied", "user", req.UserID, "client", req.ClientID)
		return JoinResult{}, model.NewError(model.KindAccessDenied, "user %q is not a member", req.UserID).For(c.listID, "")
	}

	state, err := c.store.ReadList(ctx, c.listID)
	if err != nil {
		if model.IsKind(err, model.KindUnknownList) {
			return JoinResult{}, err
		}
		return JoinResult{}, model.WrapError(model.KindUnknownList, err, "list cannot be loaded").For(c.listID, "")
	}

	name := req.UserName
	if dir, found, err := c.store.UserName(ctx, req.UserID); err != nil {
		c.logger.Warn("user directory lookup failed", "user", req.UserID, "error", err)
	} else if found {
		name = dir
	}

	c.mu.Lock()
	c.roster[req.ClientID] = model.Participant{
		UserID:   req.UserID,
		UserName: name,
		ClientID: req.ClientID,
		JoinedAt: c.wall.NowMillis(),
	}
	roster := c.rosterLocked()
	c.mu.Unlock()

	c.logger.Info("participant joined", "user", req.UserID, "client", req.ClientID)
	c.publish(wire.EventActiveUsersUpdate, wire.ActiveUsersUpdate{ListID: c.listID, Users: roster}, "")

	return JoinResult{State: state, Participants: roster}, nil
}

// handleLeave removes matching participants and announces the new roster.
// Runs in the Run loop.
func (c *Coordinator) handleLeave(match func(model.Participant) bool) error {
	c.mu.Lock()
	removed := 0
	for id, p := range c.roster {
		if match(p) {
			delete(c.roster, id)
			removed++
		}
	}
	roster := c.rosterLocked()
	c.mu.Unlock()

	if removed == 0 {
		return nil
	}
	c.logger.Info("participant left", "removed", removed, "remaining", len(roster))
	c.publish(wire.EventActiveUsersUpdate, wire.ActiveUsersUpdate{ListID: c.listID, Users: roster}, "")
	return nil
}
