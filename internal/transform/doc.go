// Package transform implements the operational-transform engine for shopping
// lists.
//
// The package is pure: Apply folds one operation into a list state and
// Transform reconciles a pair of concurrently issued operations. Neither
// function performs I/O, reads clocks, or mutates its arguments.
//
// # Apply semantics
//
//   - ADD_ITEM: merge-on-add when the item exists, otherwise insert at the
//     requested position (if in range) or append
//   - REMOVE_ITEM: delete every entry for the item; absent is a no-op
//   - UPDATE_QUANTITY: numUnits = max(1, quantity); absent is a no-op
//   - UPDATE_TITLE: overwrite the title
//
// Every effective change appends one entry to the list's edit log.
//
// # Transform rules (local against remote)
//
//	identical identity                 -> local cancelled
//	ADD x / ADD x                      -> quantities merged into local, remote dropped
//	ADD@p / ADD@q (different items)    -> q <= p shifts local to p+1
//	REMOVE x / UPDATE_QUANTITY x       -> local kept, remote dropped
//	UPDATE_QUANTITY x / REMOVE x       -> local cancelled
//	UPDATE_QUANTITY x / UPDATE_QUANTITY x -> later serverTimestamp wins
//	anything else                      -> both proceed unchanged
//
// Equal timestamps are broken by the greater operationId, then the greater
// clientId, so the outcome never depends on iteration order.
package transform
