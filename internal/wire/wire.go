// Package wire defines the JSON event contract spoken over a client
// connection: an envelope {"event": name, "data": payload} and one payload
// type per event.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/listsync/internal/model"
)

// Client to server events.
const (
	EventJoinList     = "join-list"
	EventLeaveList    = "leave-list"
	EventOperation    = "operation"
	EventTyping       = "typing"
	EventCursorUpdate = "cursor-update"
)

// Server to client events. cursor-update is relayed under its own name.
const (
	EventListState          = "list-state"
	EventActiveUsersUpdate  = "active-users-update"
	EventOperationApplied   = "operation-applied"
	EventOperationCancelled = "operation-cancelled"
	EventOperationError     = "operation-error"
	EventUserTyping         = "user-typing"
	EventError              = "error"
)

// Envelope is the frame of every message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinList asks to enter a list's room.
type JoinList struct {
	ListID   string `json:"listId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	ClientID string `json:"clientId"`
}

// LeaveList leaves a list's room.
type LeaveList struct {
	ListID string `json:"listId"`
	UserID string `json:"userId"`
}

// Operation submits an edit. A client replaying edits queued while offline
// may send them together in Operations instead.
type Operation struct {
	ListID     string            `json:"listId"`
	Operation  model.Operation   `json:"operation"`
	Operations []model.Operation `json:"operations,omitempty"`
}

// Ops returns the submitted operations in order.
func (o Operation) Ops() []model.Operation {
	if len(o.Operations) > 0 {
		return o.Operations
	}
	return []model.Operation{o.Operation}
}

// Typing reports a typing indicator change.
type Typing struct {
	ListID   string `json:"listId"`
	IsTyping bool   `json:"isTyping"`
	Field    string `json:"field,omitempty"`
}

// CursorUpdate reports a cursor move. UserID and UserName are filled in by
// the server on relay.
type CursorUpdate struct {
	ListID   string `json:"listId"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
	ItemCode string `json:"itemCode,omitempty"`
	Field    string `json:"field,omitempty"`
	Position int64  `json:"position"`
}

// ListView is the list as sent to a joining client.
type ListView struct {
	ID       string               `json:"id"`
	Title    string               `json:"title"`
	Products []model.Product      `json:"products"`
	EditLog  []model.EditLogEntry `json:"editLog"`
}

// ListState answers a successful join.
type ListState struct {
	List        ListView            `json:"list"`
	ActiveUsers []model.Participant `json:"activeUsers"`
}

// ActiveUsersUpdate carries the room roster after a change.
type ActiveUsersUpdate struct {
	ListID string              `json:"listId"`
	Users  []model.Participant `json:"users"`
}

// AppliedBy names the author of an applied operation.
type AppliedBy struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// OperationApplied is broadcast to the whole room, submitter included.
type OperationApplied struct {
	ListID    string          `json:"listId"`
	Operation model.Operation `json:"operation"`
	NewState  model.Snapshot  `json:"newState"`
	AppliedBy AppliedBy       `json:"appliedBy"`
}

// OperationCancelled tells the submitter its operation lost a conflict.
type OperationCancelled struct {
	OperationID string `json:"operationId"`
	Reason      string `json:"reason,omitempty"`
}

// OperationError tells the submitter its operation failed.
type OperationError struct {
	OperationID string          `json:"operationId"`
	Error       string          `json:"error"`
	Kind        model.ErrorKind `json:"kind,omitempty"`
}

// UserTyping relays a typing indicator to the rest of the room.
type UserTyping struct {
	ListID   string `json:"listId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
	Field    string `json:"field,omitempty"`
}

// Error reports a failure that is not tied to an operation.
type Error struct {
	Error string          `json:"error"`
	Kind  model.ErrorKind `json:"kind,omitempty"`
}

// Encode frames data as event.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	out, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return out, nil
}

// Decode parses an envelope. The payload is left raw for DecodeData.
func Decode(msg []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event")
	}
	return env, nil
}

// DecodeData parses the payload of env into v.
func DecodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("decode %s: missing data", env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return nil
}

// ErrorFor converts err to an Error payload, keeping its kind when known.
func ErrorFor(err error) Error {
	return Error{Error: err.Error(), Kind: model.KindOf(err)}
}
