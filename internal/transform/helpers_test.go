package transform

import (
	"github.com/roach88/listsync/internal/model"
)

func add(client, id, item string, qty int64) model.Operation {
	return model.Operation{
		Type:        model.OpAddItem,
		ClientID:    client,
		OperationID: id,
		UserID:      "user-" + client,
		Data:        model.OperationData{ItemCode: item, Quantity: model.Int64(qty)},
	}
}

func addAt(client, id, item string, qty, pos int64) model.Operation {
	return add(client, id, item, qty).WithPosition(pos)
}

func remove(client, id, item string) model.Operation {
	return model.Operation{
		Type:        model.OpRemoveItem,
		ClientID:    client,
		OperationID: id,
		UserID:      "user-" + client,
		Data:        model.OperationData{ItemCode: item},
	}
}

func setQty(client, id, item string, qty, ts int64) model.Operation {
	return model.Operation{
		Type:            model.OpUpdateQuantity,
		ClientID:        client,
		OperationID:     id,
		UserID:          "user-" + client,
		Data:            model.OperationData{ItemCode: item, Quantity: model.Int64(qty)},
		ServerTimestamp: ts,
	}
}

func rename(client, id, title string, ts int64) model.Operation {
	return model.Operation{
		Type:            model.OpUpdateTitle,
		ClientID:        client,
		OperationID:     id,
		UserID:          "user-" + client,
		Data:            model.OperationData{Title: model.String(title)},
		ServerTimestamp: ts,
	}
}

func products(pairs ...any) []model.Product {
	out := make([]model.Product, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, model.Product{ProductRef: pairs[i].(string), NumUnits: int64(pairs[i+1].(int))})
	}
	return out
}
