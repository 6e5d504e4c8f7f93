package xchg

import "github.com/google/uuid"

// NewID generates a fresh identifier for orders, trades, holds, and
// transfers. Centralized so every entity in the system uses the same id
// scheme.
func NewID() string {
	return uuid.NewString()
}
