// Package directory resolves human-entered recipient identifiers (username
// fragments, email addresses) to concrete recipients. The core consumes the
// Resolver interface; search ranking and storage live behind it.
package directory

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/vidblink/backend/internal/models"
)

// SearchLimit bounds username-fragment search results.
const SearchLimit = 5

// Resolver looks up recipients for the delivery core.
type Resolver interface {
	// ByUsernameFragment returns up to SearchLimit profiles whose username
	// contains the fragment, ordered by username.
	ByUsernameFragment(ctx context.Context, fragment string) ([]models.Profile, error)
	// ByID returns the profile for a user id, or ErrRecipientUnresolved.
	ByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	// ByEmail returns the owner's contact with that address, or ErrRecipientUnresolved.
	ByEmail(ctx context.Context, ownerID uuid.UUID, address string) (*models.Contact, error)
}

// NormalizeEmail validates syntax and lowercases an address.
// Returns ErrRecipientUnresolved for anything net/mail rejects.
func NormalizeEmail(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	addr, err := mail.ParseAddress(address)
	if err != nil || addr.Address != address {
		return "", fmt.Errorf("bad email %q: %w", address, models.ErrRecipientUnresolved)
	}
	return address, nil
}
