package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/listsync/internal/model"
	"github.com/roach88/listsync/internal/pubsub"
	"github.com/roach88/listsync/internal/session"
	"github.com/roach88/listsync/internal/wire"
)

// room is a connection's membership in one list.
type room struct {
	listID   string
	userID   string
	clientID string
	coord    *session.Coordinator
	sub      pubsub.Subscription
}

// conn is one WebSocket client. rooms is owned by the read goroutine.
type conn struct {
	s      *Server
	ws     *websocket.Conn
	id     string
	logger *slog.Logger
	send   chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	rooms      map[string]*room
	forwarders sync.WaitGroup
}

func newConn(s *Server, ws *websocket.Conn, id string) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		s:      s,
		ws:     ws,
		id:     id,
		logger: s.logger.With("conn", id),
		send:   make(chan []byte, s.outbound),
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*room),
	}
}

func (c *conn) run() {
	c.logger.Debug("connection opened")
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump()
	}()

	c.readPump()
	c.close()
	c.leaveAll()
	c.forwarders.Wait()
	<-writeDone
	c.logger.Debug("connection closed")
}

func (c *conn) close() {
	c.closeOnce.Do(c.cancel)
}

func (c *conn) readPump() {
	c.ws.SetReadLimit(DefaultMaxMessageSize)
	extend := func() error { return c.ws.SetReadDeadline(time.Now().Add(c.s.pongWait)) }
	_ = extend()
	c.ws.SetPongHandler(func(string) error { return extend() })

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		_ = extend()
		c.handle(msg)
		if c.ctx.Err() != nil {
			return
		}
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.s.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(DefaultWriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(DefaultWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(DefaultWriteWait))
			return
		}
	}
}

// enqueue hands msg to the write pump. A client that cannot keep up is
// disconnected.
func (c *conn) enqueue(msg []byte) {
	if c.ctx.Err() != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("dropping connection", "error", errSlowConsumer)
		c.close()
	}
}

func (c *conn) sendEvent(event string, data any) {
	msg, err := wire.Encode(event, data)
	if err != nil {
		c.logger.Error("encode event", "event", event, "error", err)
		return
	}
	c.enqueue(msg)
}

func (c *conn) sendError(err error) {
	c.sendEvent(wire.EventError, wire.ErrorFor(err))
}

func (c *conn) sendOperationError(operationID string, err error) {
	c.sendEvent(wire.EventOperationError, wire.OperationError{
		OperationID: operationID,
		Error:       err.Error(),
		Kind:        model.KindOf(err),
	})
}

func (c *conn) handle(msg []byte) {
	env, err := wire.Decode(msg)
	if err != nil {
		c.sendError(model.WrapError(model.KindInvalidOperation, err, "malformed message"))
		return
	}

	switch env.Event {
	case wire.EventJoinList:
		var p wire.JoinList
		if c.decode(env, &p) {
			c.join(p)
		}
	case wire.EventLeaveList:
		var p wire.LeaveList
		if c.decode(env, &p) {
			c.leave(p)
		}
	case wire.EventOperation:
		var p wire.Operation
		if c.decode(env, &p) {
			c.submit(p)
		}
	case wire.EventTyping:
		var p wire.Typing
		if c.decode(env, &p) {
			c.typing(p)
		}
	case wire.EventCursorUpdate:
		var p wire.CursorUpdate
		if c.decode(env, &p) {
			c.cursor(p)
		}
	default:
		c.sendError(model.NewError(model.KindInvalidOperation, "unknown event %q", env.Event))
	}
}

func (c *conn) decode(env wire.Envelope, v any) bool {
	if err := wire.DecodeData(env, v); err != nil {
		c.sendError(model.WrapError(model.KindInvalidOperation, err, "malformed %s", env.Event))
		return false
	}
	return true
}

func (c *conn) join(p wire.JoinList) {
	if p.ListID == "" {
		c.sendError(model.NewError(model.KindUnknownList, "listId is required"))
		return
	}
	clientID := p.ClientID
	if clientID == "" {
		clientID = c.id
	}
	req := session.JoinRequest{UserID: p.UserID, UserName: p.UserName, ClientID: clientID}

	if r, ok := c.rooms[p.ListID]; ok {
		if r.clientID != clientID {
			if err := r.coord.Disconnect(c.ctx, r.clientID); err != nil {
				c.logger.Warn("disconnect before rejoin", "list", r.listID, "error", err)
			}
		}
		res, err := r.coord.Join(c.ctx, req)
		if err != nil {
			c.sendError(err)
			return
		}
		r.userID, r.clientID = p.UserID, clientID
		c.sendListState(res)
		return
	}

	// Subscribe first so no broadcast between join and forwarding is lost.
	sub, err := c.s.bus.Subscribe(c.ctx, pubsub.Topic(p.ListID))
	if err != nil {
		c.sendError(err)
		return
	}
	coord, err := c.s.registry.GetOrCreate(p.ListID)
	if err != nil {
		_ = sub.Close()
		c.sendError(err)
		return
	}
	res, err := coord.Join(c.ctx, req)
	if err != nil {
		_ = sub.Close()
		c.s.registry.Release(p.ListID)
		c.logger.Debug("join rejected", "list", p.ListID, "user", p.UserID, "error", err)
		c.sendError(err)
		return
	}

	r := &room{listID: p.ListID, userID: p.UserID, clientID: clientID, coord: coord, sub: sub}
	c.rooms[p.ListID] = r
	c.sendListState(res)

	c.forwarders.Add(1)
	go func() {
		defer c.forwarders.Done()
		c.forward(r)
	}()
}

func (c *conn) sendListState(res session.JoinResult) {
	c.sendEvent(wire.EventListState, wire.ListState{
		List: wire.ListView{
			ID:       res.State.ListID,
			Title:    res.State.Title,
			Products: res.State.Products,
			EditLog:  res.State.EditLog,
		},
		ActiveUsers: res.Participants,
	})
}

// forward relays room broadcasts until the subscription closes.
func (c *conn) forward(r *room) {
	for msg := range r.sub.C() {
		if msg.Exclude != "" && msg.Exclude == r.clientID {
			continue
		}
		c.enqueue(msg.Payload)
	}
}

func (c *conn) leave(p wire.LeaveList) {
	r, ok := c.rooms[p.ListID]
	if !ok {
		return
	}
	if p.UserID != "" && p.UserID != r.userID {
		c.sendError(model.NewError(model.KindAccessDenied, "cannot leave list %q as user %q", r.listID, p.UserID).
			For(r.listID, ""))
		return
	}
	// Only this connection leaves; the user's other clients stay joined.
	if err := r.coord.Disconnect(c.ctx, r.clientID); err != nil {
		c.logger.Warn("leave failed", "list", r.listID, "error", err)
	}
	c.drop(r)
}

func (c *conn) drop(r *room) {
	delete(c.rooms, r.listID)
	_ = r.sub.Close()
	c.s.registry.Release(r.listID)
}

// leaveAll removes the connection from every room it joined.
func (c *conn) leaveAll() {
	for _, r := range c.rooms {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultWriteWait)
		if err := r.coord.Disconnect(ctx, r.clientID); err != nil {
			c.logger.Debug("disconnect failed", "list", r.listID, "error", err)
		}
		cancel()
		c.drop(r)
	}
}

func (c *conn) submit(p wire.Operation) {
	ops := p.Ops()
	listID := p.ListID
	if listID == "" {
		listID = ops[0].ListID
	}

	r, ok := c.rooms[listID]
	if !ok {
		for _, op := range ops {
			c.sendOperationError(op.OperationID,
				model.NewError(model.KindAccessDenied, "not joined to list %q", listID).For(listID, op.OperationID))
		}
		return
	}

	accepted := make([]model.Operation, 0, len(ops))
	for _, op := range ops {
		if op.ClientID == "" {
			op.ClientID = r.clientID
		}
		if op.ClientID != r.clientID {
			c.sendOperationError(op.OperationID,
				model.NewError(model.KindAccessDenied, "clientId %q does not match this connection", op.ClientID).For(listID, op.OperationID))
			continue
		}
		accepted = append(accepted, op)
	}
	if len(accepted) == 0 {
		return
	}

	outcomes, err := r.coord.SubmitBatch(c.ctx, accepted)
	if err != nil {
		for _, op := range accepted {
			c.sendOperationError(op.OperationID, err)
		}
		return
	}
	for _, out := range outcomes {
		switch out.Status {
		case session.OutcomeCancelled:
			c.sendEvent(wire.EventOperationCancelled, wire.OperationCancelled{
				OperationID: out.Op.OperationID,
				Reason:      out.Reason,
			})
		case session.OutcomeFailed:
			c.sendOperationError(out.Op.OperationID, out.Err)
		}
		// Applied operations reach the submitter through the room broadcast.
	}
}

func (c *conn) typing(p wire.Typing) {
	r, ok := c.rooms[p.ListID]
	if !ok {
		c.sendError(model.NewError(model.KindAccessDenied, "not joined to list %q", p.ListID))
		return
	}
	if err := r.coord.Typing(r.clientID, p.IsTyping, p.Field); err != nil {
		c.sendError(err)
	}
}

func (c *conn) cursor(p wire.CursorUpdate) {
	r, ok := c.rooms[p.ListID]
	if !ok {
		c.sendError(model.NewError(model.KindAccessDenied, "not joined to list %q", p.ListID))
		return
	}
	if err := r.coord.Cursor(r.clientID, p); err != nil {
		c.sendError(err)
	}
}
