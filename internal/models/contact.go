package models

import (
	"time"

	"github.com/google/uuid"
)

// Contact is a saved external email recipient. Email is unique per owner.
type Contact struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
