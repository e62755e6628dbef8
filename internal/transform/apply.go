package transform

import (
	"github.com/roach88/listsync/internal/model"
)

// Apply returns the state that results from applying op to state.
//
// state is never modified; the returned state shares no backing arrays with
// it, so discarding the result is a complete rollback. Apply does not fail
// for a structurally valid operation of a known type. An unknown type fails
// with model.KindUnsupportedOperation.
func Apply(state model.ListState, op model.Operation) (model.ListState, error) {
	next := state.Clone()

	var entry *model.EditLogEntry
	switch op.Type {
	case model.OpAddItem:
		entry = applyAdd(&next, op)
	case model.OpRemoveItem:
		entry = applyRemove(&next, op)
	case model.OpUpdateQuantity:
		entry = applyUpdateQuantity(&next, op)
	case model.OpUpdateTitle:
		entry = applyUpdateTitle(&next, op)
	default:
		return state, model.NewError(model.KindUnsupportedOperation, "cannot apply operation type %q", op.Type).
			For(state.ListID, op.OperationID)
	}

	if entry != nil {
		entry.ChangedBy = op.UserID
		entry.ChangedByName = op.UserName
		entry.ServerTimestamp = op.ServerTimestamp
		entry.OperationID = op.OperationID
		next.EditLog = append(next.EditLog, *entry)
	}
	return next, nil
}

// Fold applies ops to state in order.
// Returns the state reached before the first failing operation with its error.
func Fold(state model.ListState, ops ...model.Operation) (model.ListState, error) {
	for _, op := range ops {
		next, err := Apply(state, op)
		if err != nil {
			return state, err
		}
		state = next
	}
	return state, nil
}

// NewEntries returns the edit-log entries present in after but not in before.
func NewEntries(before, after model.ListState) []model.EditLogEntry {
	if len(after.EditLog) <= len(before.EditLog) {
		return nil
	}
	out := make([]model.EditLogEntry, len(after.EditLog)-len(before.EditLog))
	copy(out, after.EditLog[len(before.EditLog):])
	return out
}

func applyAdd(s *model.ListState, op model.Operation) *model.EditLogEntry {
	code := op.Data.ItemCode
	qty := op.Quantity()
	if qty < 1 {
		qty = 1
	}

	if i := s.IndexOf(code); i >= 0 {
		s.Products[i].NumUnits += qty
		return &model.EditLogEntry{Action: model.ActionAddedMerged, ProductRef: code}
	}

	entry := model.Product{ProductRef: code, NumUnits: qty}
	pos, ok := op.Position()
	if ok && pos >= 0 && pos < int64(len(s.Products)) {
		s.Products = append(s.Products, model.Product{})
		copy(s.Products[pos+1:], s.Products[pos:])
		s.Products[pos] = entry
	} else {
		s.Products = append(s.Products, entry)
	}
	return &model.EditLogEntry{Action: model.ActionAdded, ProductRef: code}
}

func applyRemove(s *model.ListState, op model.Operation) *model.EditLogEntry {
	code := op.Data.ItemCode
	kept := s.Products[:0]
	for _, p := range s.Products {
		if p.ProductRef != code {
			kept = append(kept, p)
		}
	}
	if len(kept) == len(s.Products) {
		return nil
	}
	s.Products = kept
	return &model.EditLogEntry{Action: model.ActionRemoved, ProductRef: code}
}

func applyUpdateQuantity(s *model.ListState, op model.Operation) *model.EditLogEntry {
	i := s.IndexOf(op.Data.ItemCode)
	if i < 0 {
		return nil
	}
	qty := op.Quantity()
	if qty < 1 {
		qty = 1
	}
	if s.Products[i].NumUnits == qty {
		return nil
	}
	s.Products[i].NumUnits = qty
	return &model.EditLogEntry{Action: model.ActionChangedQuantity, ProductRef: op.Data.ItemCode}
}

func applyUpdateTitle(s *model.ListState, op model.Operation) *model.EditLogEntry {
	if s.Title == op.Title() {
		return nil
	}
	s.Title = op.Title()
	return &model.EditLogEntry{Action: model.ActionRenamed}
}
