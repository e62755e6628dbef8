package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addOp(item string, qty int64) Operation {
	return Operation{
		Type:        OpAddItem,
		ClientID:    "c1",
		OperationID: "op-1",
		Data:        OperationData{ItemCode: item, Name: "Milk", Quantity: Int64(qty)},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		wantErr string
	}{
		{"valid add", addOp("A", 1), ""},
		{"missing client", Operation{Type: OpAddItem, OperationID: "o"}, "clientId is required"},
		{"missing operation id", Operation{Type: OpAddItem, ClientID: "c"}, "operationId is required"},
		{"unknown type", Operation{Type: "RENAME_ITEM", ClientID: "c", OperationID: "o"}, "unknown operation type"},
		{"add without item", Operation{Type: OpAddItem, ClientID: "c", OperationID: "o", Data: OperationData{Quantity: Int64(1)}}, "requires itemCode"},
		{"add without quantity", Operation{Type: OpAddItem, ClientID: "c", OperationID: "o", Data: OperationData{ItemCode: "A"}}, "requires quantity"},
		{"add zero quantity", addOp("A", 0), "must be >= 1"},
		{"add negative position", addOp("A", 1).WithPosition(-1), "position must be >= 0"},
		{"remove without item", Operation{Type: OpRemoveItem, ClientID: "c", OperationID: "o"}, "REMOVE_ITEM requires itemCode"},
		{"update quantity without quantity", Operation{Type: OpUpdateQuantity, ClientID: "c", OperationID: "o", Data: OperationData{ItemCode: "A"}}, "UPDATE_QUANTITY requires quantity"},
		{"update quantity zero is valid", Operation{Type: OpUpdateQuantity, ClientID: "c", OperationID: "o", Data: OperationData{ItemCode: "A", Quantity: Int64(0)}}, ""},
		{"title missing", Operation{Type: OpUpdateTitle, ClientID: "c", OperationID: "o"}, "non-empty title"},
		{"title blank", Operation{Type: OpUpdateTitle, ClientID: "c", OperationID: "o", Data: OperationData{Title: String("  ")}}, "non-empty title"},
		{"negative clock", Operation{Type: OpRemoveItem, ClientID: "c", OperationID: "o", Data: OperationData{ItemCode: "A"}, Clock: VectorClock{"c": -1}}, "logicalClock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsKind(err, KindInvalidOperation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOperation_CloneIsIndependent(t *testing.T) {
	op := addOp("A", 2).WithPosition(3)
	op.Clock = VectorClock{"c1": 1}

	cp := op.Clone()
	*cp.Data.Quantity = 9
	*cp.Data.Position = 0
	cp.Clock["c1"] = 5

	assert.Equal(t, int64(2), op.Quantity())
	pos, ok := op.Position()
	assert.True(t, ok)
	assert.Equal(t, int64(3), pos)
	assert.Equal(t, int64(1), op.Clock["c1"])
}

func TestOperation_WithQuantityLeavesOriginal(t *testing.T) {
	op := addOp("A", 2)
	merged := op.WithQuantity(5)

	assert.Equal(t, int64(2), op.Quantity())
	assert.Equal(t, int64(5), merged.Quantity())
}

func TestOperation_Normalize(t *testing.T) {
	decomposed := "Cafe\u0301"
	op := Operation{
		Type:        OpUpdateTitle,
		ClientID:    " c1 ",
		OperationID: "o1\n",
		Data:        OperationData{Title: String(decomposed)},
	}

	n := op.Normalize()
	assert.Equal(t, "c1", n.ClientID)
	assert.Equal(t, "o1", n.OperationID)
	assert.Equal(t, "Caf\u00e9", n.Title())
	assert.Equal(t, decomposed, op.Title(), "original must be untouched")
}

func TestOperation_JSONWireShape(t *testing.T) {
	raw := `{
		"type": "ADD_ITEM",
		"data": {"itemCode": "5601", "name": "Bread", "quantity": 2, "position": 0},
		"clientId": "c1",
		"operationId": "o1",
		"userId": "u1",
		"userName": "Ana",
		"logicalClock": {"c1": 3}
	}`

	var op Operation
	require.NoError(t, json.Unmarshal([]byte(raw), &op))
	require.NoError(t, op.Validate())

	assert.Equal(t, OpAddItem, op.Type)
	assert.Equal(t, "5601", op.Data.ItemCode)
	assert.Equal(t, int64(2), op.Quantity())
	pos, ok := op.Position()
	assert.True(t, ok)
	assert.Equal(t, int64(0), pos)
	assert.Equal(t, int64(3), op.Clock.Get("c1"))
}

func TestOperation_SameIdentity(t *testing.T) {
	a := addOp("A", 1)
	b := addOp("B", 7)
	assert.True(t, a.SameIdentity(b), "identity ignores payload")

	b.OperationID = "op-2"
	assert.False(t, a.SameIdentity(b))
}
