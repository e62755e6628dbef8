package model

// Product is one entry of a list: a product reference and its unit count.
// NumUnits is always >= 1.
type Product struct {
	ProductRef string `json:"product"`
	NumUnits   int64  `json:"numUnits"`
}

// Edit-log actions recorded for accepted operations.
const (
	ActionAdded           = "added"
	ActionAddedMerged     = "added (merged)"
	ActionRemoved         = "removed"
	ActionChangedQuantity = "changed quantity"
	ActionRenamed         = "renamed list"
)

// EditLogEntry is a human-readable record of one accepted change.
type EditLogEntry struct {
	Action          string `json:"action"`
	ProductRef      string `json:"product,omitempty"`
	ChangedBy       string `json:"changedBy"`
	ChangedByName   string `json:"changedByName,omitempty"`
	ServerTimestamp int64  `json:"serverTimestamp"`
	OperationID     string `json:"operationId"`
}

// ListState is the authoritative, persisted content of a shopping list.
//
// ListState is a value type. Products and EditLog are slices, so callers that
// intend to modify a state must work on Clone() to avoid sharing backing
// arrays with the pre-operation state.
type ListState struct {
	ListID   string         `json:"listId"`
	Title    string         `json:"title"`
	Products []Product      `json:"products"`
	EditLog  []EditLogEntry `json:"editLog"`
}

// NewListState creates an empty list with the given title.
func NewListState(listID, title string) ListState {
	return ListState{
		ListID:   listID,
		Title:    title,
		Products: []Product{},
		EditLog:  []EditLogEntry{},
	}
}

// Clone returns a copy of s that shares no backing arrays with s.
// Nil slices are returned as empty slices.
func (s ListState) Clone() ListState {
	cp := s
	cp.Products = make([]Product, len(s.Products))
	copy(cp.Products, s.Products)
	cp.EditLog = make([]EditLogEntry, len(s.EditLog))
	copy(cp.EditLog, s.EditLog)
	return cp
}

// IndexOf returns the index of the entry for productRef, or -1.
func (s ListState) IndexOf(productRef string) int {
	for i, p := range s.Products {
		if p.ProductRef == productRef {
			return i
		}
	}
	return -1
}

// Units returns the unit count of productRef, or 0 if absent.
func (s ListState) Units(productRef string) int64 {
	if i := s.IndexOf(productRef); i >= 0 {
		return s.Products[i].NumUnits
	}
	return 0
}

// Snapshot is the state delta broadcast to participants after an apply.
type Snapshot struct {
	Title    string    `json:"title"`
	Products []Product `json:"products"`
}

// Snapshot returns the broadcastable part of s.
func (s ListState) Snapshot() Snapshot {
	products := make([]Product, len(s.Products))
	copy(products, s.Products)
	return Snapshot{Title: s.Title, Products: products}
}

// Participant is the public view of a room member.
type Participant struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	ClientID string `json:"clientId"`
	JoinedAt int64  `json:"joinedAt"`
}
