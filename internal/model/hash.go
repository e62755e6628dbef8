package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows the
// algorithm to change without colliding with stored values.
const (
	DomainOperation = "listsync/operation/v1"
	DomainState     = "listsync/state/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// OperationFingerprint hashes the edit content of op (type and payload).
//
// Identity fields, clocks and timestamps are excluded: two submissions with the
// same (client, operation) identity but different fingerprints indicate a
// client that reused an operationId for a different edit.
func OperationFingerprint(op Operation) (string, error) {
	canonical, err := MarshalCanonical(struct {
		Type OpType        `json:"type"`
		Data OperationData `json:"data"`
	}{op.Type, op.Data})
	if err != nil {
		return "", fmt.Errorf("operation fingerprint: %w", err)
	}
	return hashWithDomain(DomainOperation, canonical), nil
}

// StateHash hashes the full content of a list state, edit log included.
// Replaying the applied operation log must reproduce the same hash.
func StateHash(s ListState) (string, error) {
	canonical, err := MarshalCanonical(s.Clone())
	if err != nil {
		return "", fmt.Errorf("state hash: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}
