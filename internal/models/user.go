package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a registered account with its public profile.
type User struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Password    string    `json:"-"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Profile is the public slice of a user shown in recipient search.
type Profile struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
}

// ToProfile converts a User to its public Profile.
func (u *User) ToProfile() Profile {
	return Profile{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
}
