package model

// OpStatus is the lifecycle state of a logged operation.
type OpStatus string

const (
	StatusPending   OpStatus = "pending"
	StatusApplied   OpStatus = "applied"
	StatusCancelled OpStatus = "cancelled"
	StatusFailed    OpStatus = "failed"
)

// User is a directory entry mapping a user id to a display name.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListInfo describes a stored list without its products.
type ListInfo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	InitialTitle string `json:"initialTitle"`
	OwnerID      string `json:"ownerId"`
}

// OperationRecord is one row of a list's operation log.
//
// Submitted is the operation as received. Applied is the transformed
// operation and is only set when Status is StatusApplied.
type OperationRecord struct {
	Seq       int64      `json:"seq"`
	Status    OpStatus   `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	Submitted Operation  `json:"submitted"`
	Applied   *Operation `json:"applied,omitempty"`
}

// Commit is the atomic unit persisted after an operation is applied: the new
// list state, the edit-log entries it produced, and the applied operation.
type Commit struct {
	State   ListState
	Entries []EditLogEntry
	Applied Operation
}
