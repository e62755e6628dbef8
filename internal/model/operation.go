package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// OpType identifies the kind of edit an Operation carries.
// The set is closed; anything else fails validation.
type OpType string

const (
	OpAddItem        OpType = "ADD_ITEM"
	OpRemoveItem     OpType = "REMOVE_ITEM"
	OpUpdateQuantity OpType = "UPDATE_QUANTITY"
	OpUpdateTitle    OpType = "UPDATE_TITLE"
)

// ValidOpTypes lists the supported operation types.
var ValidOpTypes = map[OpType]bool{
	OpAddItem:        true,
	OpRemoveItem:     true,
	OpUpdateQuantity: true,
	OpUpdateTitle:    true,
}

// OperationData is the variant payload of an Operation.
//
// Which fields are meaningful depends on the operation type:
//
//	ADD_ITEM         itemCode, name, image?, quantity>=1, position?
//	REMOVE_ITEM      itemCode
//	UPDATE_QUANTITY  itemCode, quantity
//	UPDATE_TITLE     title
//
// Optional numeric fields are pointers so "absent" and "zero" stay distinct.
type OperationData struct {
	ItemCode string  `json:"itemCode,omitempty"`
	Name     string  `json:"name,omitempty"`
	Image    string  `json:"image,omitempty"`
	Quantity *int64  `json:"quantity,omitempty"`
	Position *int64  `json:"position,omitempty"`
	Title    *string `json:"title,omitempty"`
}

// Operation is a single edit intent submitted by a client.
//
// Operations are treated as immutable values: transforms return modified
// copies and never write through to the caller's operation.
type Operation struct {
	ListID      string        `json:"listId,omitempty"`
	Type        OpType        `json:"type"`
	Data        OperationData `json:"data"`
	ClientID    string        `json:"clientId"`
	OperationID string        `json:"operationId"`
	UserID      string        `json:"userId,omitempty"`
	UserName    string        `json:"userName,omitempty"`
	Clock       VectorClock   `json:"logicalClock,omitempty"`

	// ServerTimestamp is assigned by the coordinator at acceptance (unix ms).
	ServerTimestamp int64 `json:"serverTimestamp,omitempty"`

	// Seq is the durable log position assigned by storage.
	Seq int64 `json:"seq,omitempty"`
}

// Ref identifies an operation within a list.
type Ref struct {
	ClientID    string `json:"clientId"`
	OperationID string `json:"operationId"`
}

// Ref returns the (client, operation) identity of op.
func (op Operation) Ref() Ref {
	return Ref{ClientID: op.ClientID, OperationID: op.OperationID}
}

// SameIdentity reports whether op and other are the same submitted operation.
func (op Operation) SameIdentity(other Operation) bool {
	return op.Type == other.Type && op.ClientID == other.ClientID && op.OperationID == other.OperationID
}

// Quantity returns the payload quantity, or 0 if absent.
func (op Operation) Quantity() int64 {
	if op.Data.Quantity == nil {
		return 0
	}
	return *op.Data.Quantity
}

// Position returns the payload position and whether one was given.
func (op Operation) Position() (int64, bool) {
	if op.Data.Position == nil {
		return 0, false
	}
	return *op.Data.Position, true
}

// Title returns the payload title, or "" if absent.
func (op Operation) Title() string {
	if op.Data.Title == nil {
		return ""
	}
	return *op.Data.Title
}

// Clone returns a deep copy of op. Pointer payload fields and the vector clock
// are copied so the clone shares no mutable state with op.
func (op Operation) Clone() Operation {
	cp := op
	if op.Data.Quantity != nil {
		cp.Data.Quantity = Int64(*op.Data.Quantity)
	}
	if op.Data.Position != nil {
		cp.Data.Position = Int64(*op.Data.Position)
	}
	if op.Data.Title != nil {
		cp.Data.Title = String(*op.Data.Title)
	}
	cp.Clock = op.Clock.Clone()
	return cp
}

// WithQuantity returns a copy of op with the payload quantity replaced.
func (op Operation) WithQuantity(q int64) Operation {
	cp := op.Clone()
	cp.Data.Quantity = Int64(q)
	return cp
}

// WithPosition returns a copy of op with the payload position replaced.
func (op Operation) WithPosition(p int64) Operation {
	cp := op.Clone()
	cp.Data.Position = Int64(p)
	return cp
}

// Normalize returns a copy of op with human-readable strings in NFC form and
// identifiers trimmed. Titles typed on different keyboards must compare equal
// after normalization.
func (op Operation) Normalize() Operation {
	cp := op.Clone()
	cp.ClientID = strings.TrimSpace(cp.ClientID)
	cp.OperationID = strings.TrimSpace(cp.OperationID)
	cp.Data.ItemCode = strings.TrimSpace(cp.Data.ItemCode)
	cp.Data.Name = norm.NFC.String(cp.Data.Name)
	cp.UserName = norm.NFC.String(cp.UserName)
	if cp.Data.Title != nil {
		cp.Data.Title = String(norm.NFC.String(*cp.Data.Title))
	}
	return cp
}

// Validate checks that op is structurally valid for its type.
// Returns an *Error of KindInvalidOperation describing the first problem found.
func (op Operation) Validate() error {
	if op.ClientID == "" {
		return NewError(KindInvalidOperation, "clientId is required")
	}
	if op.OperationID == "" {
		return NewError(KindInvalidOperation, "operationId is required")
	}
	if !ValidOpTypes[op.Type] {
		return NewError(KindInvalidOperation, "unknown operation type %q", op.Type)
	}

	switch op.Type {
	case OpAddItem:
		if op.Data.ItemCode == "" {
			return NewError(KindInvalidOperation, "ADD_ITEM requires itemCode")
		}
		if op.Data.Quantity == nil {
			return NewError(KindInvalidOperation, "ADD_ITEM requires quantity")
		}
		if *op.Data.Quantity < 1 {
			return NewError(KindInvalidOperation, "ADD_ITEM quantity must be >= 1, got %d", *op.Data.Quantity)
		}
		if op.Data.Position != nil && *op.Data.Position < 0 {
			return NewError(KindInvalidOperation, "ADD_ITEM position must be >= 0, got %d", *op.Data.Position)
		}
	case OpRemoveItem:
		if op.Data.ItemCode == "" {
			return NewError(KindInvalidOperation, "REMOVE_ITEM requires itemCode")
		}
	case OpUpdateQuantity:
		if op.Data.ItemCode == "" {
			return NewError(KindInvalidOperation, "UPDATE_QUANTITY requires itemCode")
		}
		if op.Data.Quantity == nil {
			return NewError(KindInvalidOperation, "UPDATE_QUANTITY requires quantity")
		}
	case OpUpdateTitle:
		if op.Data.Title == nil || strings.TrimSpace(*op.Data.Title) == "" {
			return NewError(KindInvalidOperation, "UPDATE_TITLE requires a non-empty title")
		}
	}

	for client, counter := range op.Clock {
		if counter < 0 {
			return NewError(KindInvalidOperation, "logicalClock[%q] must be >= 0, got %d", client, counter)
		}
	}
	return nil
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
