// Package ident derives the deterministic identifiers that make pipeline
// stages safe under at-least-once invocation: idempotency keys for event
// records and correlation ids grouping all events of one logical run.
package ident

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
)

// Key builds the idempotency key for one (stage, entity, version) effect.
// The event store enforces global uniqueness on this value.
func Key(stage, entityType, entityID string, version int) string {
	return fmt.Sprintf("%s:%s:%s:v%d", stage, entityType, entityID, version)
}

// CorrelationID maps a base entity id to a UUIDv4-shaped identifier.
// The mapping is a one-way hash: the same base id always yields the same
// correlation id, across processes and time.
func CorrelationID(baseID string) string {
	sum := sha256.Sum256([]byte(baseID))

	var id uuid.UUID
	copy(id[:], sum[:16])
	id[6] = (id[6] & 0x0f) | 0x40 // version 4
	id[8] = (id[8] & 0x3f) | 0x80 // RFC 4122 variant

	return id.String()
}
