// Package harness runs scripted collaboration scenarios against a real list
// coordinator and checks the outcome.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: concurrent_add_merges
//	description: "Two clients add the same item concurrently"
//	list:
//	  id: L1
//	  title: Groceries
//	  owner: alice
//	  members: [bob]
//	users:
//	  - { id: alice, name: Alice }
//	flow:
//	  - join: { user: alice, client: c-alice }
//	  - submit:
//	      client: c-alice
//	      operations:
//	        - type: ADD_ITEM
//	          operationId: a1
//	          data: { itemCode: milk, name: Milk, quantity: 2 }
//	          logicalClock: { c-alice: 1 }
//	    expect:
//	      - status: applied
//	  - advance: 61000
//	assertions:
//	  - type: final_products
//	    products:
//	      - { product: milk, units: 2 }
//
// Operations are written in their wire form. Each flow step does exactly one
// thing: join, leave, submit or advance the wall clock by some milliseconds.
//
// # Assertion Types
//
//   - final_products: the persisted products, in order
//   - final_title: the persisted title
//   - edit_log: the persisted edit-log actions, in order
//   - outcome_count: how many submitted operations ended with a status
//   - operation_status: the logged status of one operation
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory store and a testutil.DeterministicClock
// starting at 1000 with a 1ms step, so the same scenario always produces the
// same server timestamps and the same trace. Traces can be compared against
// golden files with RunWithGolden.
package harness
