package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidblink/backend/internal/models"
)

// Repository is the Postgres-backed Resolver.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a directory repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Resolver = (*Repository)(nil)

// ByUsernameFragment returns up to SearchLimit profiles matching the fragment.
func (r *Repository) ByUsernameFragment(ctx context.Context, fragment string) ([]models.Profile, error) {
	fragment = strings.TrimSpace(fragment)
	if len(fragment) < 2 {
		return nil, nil
	}
	const q = `SELECT id, username, COALESCE(display_name, '')
		FROM users WHERE username ILIKE '%' || $1 || '%'
		ORDER BY username LIMIT $2`
	rows, err := r.pool.Query(ctx, q, fragment, SearchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Profile
	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// ByID returns the profile for a user id.
func (r *Repository) ByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	const q = `SELECT id, username, COALESCE(display_name, '') FROM users WHERE id = $1`
	var p models.Profile
	err := r.pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.Username, &p.DisplayName)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", id, models.ErrRecipientUnresolved)
		}
		return nil, err
	}
	return &p, nil
}

// ByEmail returns the owner's contact with the given address.
func (r *Repository) ByEmail(ctx context.Context, ownerID uuid.UUID, address string) (*models.Contact, error) {
	const q = `SELECT id, owner_id, email, COALESCE(name, ''), created_at
		FROM contacts WHERE owner_id = $1 AND email = $2`
	var c models.Contact
	err := r.pool.QueryRow(ctx, q, ownerID, strings.ToLower(address)).
		Scan(&c.ID, &c.OwnerID, &c.Email, &c.Name, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("contact %s: %w", address, models.ErrRecipientUnresolved)
		}
		return nil, err
	}
	return &c, nil
}
