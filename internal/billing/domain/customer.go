package domain

import (
	"time"

	"github.com/google/uuid"
)

// Customer maps one user to one billing-gateway customer identity.
// Created once when the user first reaches checkout; immutable thereafter.
type Customer struct {
	ID        string // gateway customer id
	UserID    uuid.UUID
	CreatedAt time.Time
}
