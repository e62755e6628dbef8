package transform

import (
	"github.com/roach88/listsync/internal/model"
)

// Reasons reported with a transform result.
const (
	ReasonDuplicate          = "duplicate operation"
	ReasonMergedAdd          = "concurrent add of the same item merged"
	ReasonShiftedPosition    = "concurrent insert at or before position"
	ReasonRemoveWins         = "item removed concurrently"
	ReasonQuantitySuperseded = "superseded by a later quantity update"
)

// Result is the outcome of transforming a local operation against a remote one.
type Result struct {
	// Op is the transformed local operation. Meaningless when Cancelled.
	Op model.Operation

	// Cancelled means the local operation must not be applied.
	Cancelled bool

	// DropRemote means the remote operation must not be applied in addition
	// to Op: it was either absorbed into Op or overridden by it.
	DropRemote bool

	// Absorbed means Op now carries the remote quantity as well as its own.
	Absorbed bool

	// Reason describes why the pair conflicted. Empty when it did not.
	Reason string
}

// Changed reports whether the transform altered anything.
func (r Result) Changed() bool {
	return r.Cancelled || r.DropRemote || r.Reason != ""
}

// Transform reconciles local against a concurrently issued remote operation.
// Neither argument is modified.
func Transform(local, remote model.Operation) Result {
	if local.SameIdentity(remote) {
		return Result{Op: local, Cancelled: true, Reason: ReasonDuplicate}
	}

	sameItem := local.Data.ItemCode != "" && local.Data.ItemCode == remote.Data.ItemCode

	switch {
	case local.Type == model.OpAddItem && remote.Type == model.OpAddItem:
		if sameItem {
			return Result{
				Op:         local.WithQuantity(local.Quantity() + remote.Quantity()),
				DropRemote: true,
				Absorbed:   true,
				Reason:     ReasonMergedAdd,
			}
		}
		return transformPositions(local, remote)

	case local.Type == model.OpRemoveItem && remote.Type == model.OpUpdateQuantity && sameItem:
		return Result{Op: local, DropRemote: true, Reason: ReasonRemoveWins}

	case local.Type == model.OpUpdateQuantity && remote.Type == model.OpRemoveItem && sameItem:
		return Result{Op: local, Cancelled: true, Reason: ReasonRemoveWins}

	case local.Type == model.OpUpdateQuantity && remote.Type == model.OpUpdateQuantity && sameItem:
		if Wins(local, remote) {
			return Result{Op: local, DropRemote: true, Reason: ReasonQuantitySuperseded}
		}
		return Result{Op: local, Cancelled: true, Reason: ReasonQuantitySuperseded}
	}

	return Result{Op: local}
}

// transformPositions shifts a positioned insert past a concurrent positioned
// insert at or before it. Unpositioned inserts append and never collide.
func transformPositions(local, remote model.Operation) Result {
	lp, lok := local.Position()
	rp, rok := remote.Position()
	if !lok || !rok || rp > lp {
		return Result{Op: local}
	}
	return Result{Op: local.WithPosition(lp + 1), Reason: ReasonShiftedPosition}
}

// Wins reports whether a beats b in last-writer-wins order: the later
// ServerTimestamp wins; ties go to the greater OperationID, then the greater
// ClientID.
func Wins(a, b model.Operation) bool {
	if a.ServerTimestamp != b.ServerTimestamp {
		return a.ServerTimestamp > b.ServerTimestamp
	}
	if a.OperationID != b.OperationID {
		return a.OperationID > b.OperationID
	}
	return a.ClientID > b.ClientID
}
