package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/listsync/internal/model"
)

// marshalOperation converts an operation to canonical JSON TEXT for storage.
func marshalOperation(op model.Operation) (string, error) {
	data, err := model.MarshalCanonical(op)
	if err != nil {
		return "", fmt.Errorf("marshal operation: %w", err)
	}
	return string(data), nil
}

// marshalProducts converts the product list to canonical JSON TEXT.
// A nil slice is stored as [] so reads never see null.
func marshalProducts(products []model.Product) (string, error) {
	if products == nil {
		products = []model.Product{}
	}
	data, err := model.MarshalCanonical(products)
	if err != nil {
		return "", fmt.Errorf("marshal products: %w", err)
	}
	return string(data), nil
}

func unmarshalOperation(data string) (model.Operation, error) {
	var op model.Operation
	if err := json.Unmarshal([]byte(data), &op); err != nil {
		return model.Operation{}, fmt.Errorf("unmarshal operation: %w", err)
	}
	return op, nil
}

func unmarshalProducts(data string) ([]model.Product, error) {
	products := []model.Product{}
	if data == "" {
		return products, nil
	}
	if err := json.Unmarshal([]byte(data), &products); err != nil {
		return nil, fmt.Errorf("unmarshal products: %w", err)
	}
	if products == nil {
		products = []model.Product{}
	}
	return products, nil
}
